package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestAppSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	s := NewAppSessionStore(rdb, 7*24*time.Hour)

	if err := s.Create(ctx, "jti-1", "user-1", true, time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Get(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.UserID != "user-1" || !got.RememberMe {
		t.Fatalf("session = %+v", got)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(ctx, "jti-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired session: err = %v", err)
	}
}

func TestDeleteAndRevokeAll(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	s := NewAppSessionStore(rdb, 24*time.Hour)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Create(ctx, id, "user-1", false, time.Hour); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Create(ctx, "other", "user-2", false, time.Hour); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("deleted session still present: %v", err)
	}

	if err := s.RevokeAllForUser(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"b", "c"} {
		if _, err := s.Get(ctx, id); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("session %s survived revoke: %v", id, err)
		}
	}
	if _, err := s.Get(ctx, "other"); err != nil {
		t.Fatalf("other user's session revoked: %v", err)
	}
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	s := NewAppSessionStore(rdb, time.Hour)

	if err := s.Blacklist(ctx, "jti", time.Minute); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsBlacklisted(ctx, "jti"); !ok {
		t.Fatal("expected blacklisted")
	}
	mr.FastForward(2 * time.Minute)
	if ok, _ := s.IsBlacklisted(ctx, "jti"); ok {
		t.Fatal("blacklist entry should expire with the token")
	}
	if err := s.Blacklist(ctx, "expired", 0); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.IsBlacklisted(ctx, "expired"); ok {
		t.Fatal("already expired tokens are not stored")
	}
}

func TestCeremonyStoreIsSingleUse(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	s := NewStore(rdb, time.Minute)

	sd := &webauthn.SessionData{Challenge: "abc", UserID: []byte("u1")}
	if err := s.SaveAuth(ctx, "sid", sd); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadAuth(ctx, "sid")
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if got.Challenge != "abc" {
		t.Fatalf("challenge = %q", got.Challenge)
	}
	if _, err := s.LoadAuth(ctx, "sid"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second load: err = %v", err)
	}

	if err := s.SaveReg(ctx, "user-1", sd); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadReg(ctx, "user-1"); err != nil {
		t.Fatalf("LoadReg: %v", err)
	}
}

func TestLimiter(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	l := NewLimiter(rdb)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "login:1.2.3.4", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("hit %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.Allow(ctx, "login:1.2.3.4", 3, time.Minute); ok {
		t.Fatal("fourth hit should be limited")
	}
	if ok, _ := l.Allow(ctx, "login:5.6.7.8", 3, time.Minute); !ok {
		t.Fatal("other keys are independent")
	}
	mr.FastForward(61 * time.Second)
	if ok, _ := l.Allow(ctx, "login:1.2.3.4", 3, time.Minute); !ok {
		t.Fatal("window should reset")
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	_, rdb := newRedis(t)
	s := NewAppSessionStore(rdb, 24*time.Hour)

	if err := s.Create(ctx, "jti-r", "user-1", true, time.Hour); err != nil {
		t.Fatal(err)
	}
	got, err := s.Consume(ctx, "jti-r")
	if err != nil {
		t.Fatalf("first Consume: %v", err)
	}
	if got.UserID != "user-1" || !got.RememberMe {
		t.Fatalf("session = %+v", got)
	}
	if _, err := s.Consume(ctx, "jti-r"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second Consume: err = %v", err)
	}
	if n, _ := rdb.SCard(ctx, userSetKey("user-1")).Result(); n != 0 {
		t.Fatalf("user index still holds %d sessions", n)
	}
}

func TestLimiterRepairsMissingExpiry(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newRedis(t)
	l := NewLimiter(rdb)

	// a counter left behind without a TTL
	if err := mr.Set("rate_limit:login:9.9.9.9", "50"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := l.Allow(ctx, "login:9.9.9.9", 3, time.Minute); ok {
		t.Fatal("over-limit counter should still deny")
	}
	if ttl := mr.TTL("rate_limit:login:9.9.9.9"); ttl <= 0 {
		t.Fatalf("ttl = %v, want an expiry", ttl)
	}
	mr.FastForward(61 * time.Second)
	if ok, err := l.Allow(ctx, "login:9.9.9.9", 3, time.Minute); err != nil || !ok {
		t.Fatalf("after window: ok=%v err=%v", ok, err)
	}
}
