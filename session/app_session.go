package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

// AppSessionStore tracks refresh-token sessions per user so they can be
// revoked server-side, plus a blacklist of logged-out access tokens.
type AppSessionStore struct {
	rdb    *redis.Client
	maxTTL time.Duration
}

// maxTTL bounds the per-user index; use the longest refresh lifetime.
func NewAppSessionStore(rdb *redis.Client, maxTTL time.Duration) *AppSessionStore {
	return &AppSessionStore{rdb: rdb, maxTTL: maxTTL}
}

type AppSession struct {
	UserID     string `json:"uid"`
	RememberMe bool   `json:"rem,omitempty"`
	IssuedAt   int64  `json:"iat"`
	ExpiresAt  int64  `json:"exp"`
}

func key(id string) string           { return fmt.Sprintf("app:sess:%s", id) }
func userSetKey(uid string) string   { return fmt.Sprintf("app:user_sessions:%s", uid) }
func blacklistKey(jti string) string { return fmt.Sprintf("app:blacklist:%s", jti) }

// Create stores a session under the refresh token's jti.
func (s *AppSessionStore) Create(ctx context.Context, id, userID string, rememberMe bool, ttl time.Duration) error {
	now := time.Now()
	b, err := json.Marshal(AppSession{
		UserID:     userID,
		RememberMe: rememberMe,
		IssuedAt:   now.Unix(),
		ExpiresAt:  now.Add(ttl).Unix(),
	})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key(id), b, ttl)
	pipe.SAdd(ctx, userSetKey(userID), id)
	pipe.Expire(ctx, userSetKey(userID), s.maxTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *AppSessionStore) Get(ctx context.Context, id string) (*AppSession, error) {
	b, err := s.rdb.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var as AppSession
	if err := json.Unmarshal(b, &as); err != nil {
		return nil, err
	}
	return &as, nil
}

// Consume reads and removes a session in one step, so a refresh token can
// be redeemed once. A second caller gets ErrSessionNotFound.
func (s *AppSessionStore) Consume(ctx context.Context, id string) (*AppSession, error) {
	b, err := s.rdb.GetDel(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var as AppSession
	if err := json.Unmarshal(b, &as); err != nil {
		return nil, err
	}
	if err := s.rdb.SRem(ctx, userSetKey(as.UserID), id).Err(); err != nil {
		return nil, err
	}
	return &as, nil
}

func (s *AppSessionStore) Delete(ctx context.Context, id string) error {
	as, _ := s.Get(ctx, id)
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key(id))
	if as != nil {
		pipe.SRem(ctx, userSetKey(as.UserID), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// RevokeAllForUser drops every session of the user, e.g. after a password
// change or account deletion.
func (s *AppSessionStore) RevokeAllForUser(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := s.rdb.TxPipeline()
	for _, sid := range ids {
		pipe.Del(ctx, key(sid))
	}
	pipe.Del(ctx, userSetKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

// Blacklist rejects an access token until it would have expired anyway.
func (s *AppSessionStore) Blacklist(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, blacklistKey(jti), "1", ttl).Err()
}

func (s *AppSessionStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
