// Package tokens issues and verifies the HS256 access and refresh tokens.
package tokens

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"Gin_postgres_redis_lending_portal/config"
	"Gin_postgres_redis_lending_portal/models"
)

const issuer = "lending-portal"

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type Claims struct {
	UserID     string      `json:"user_id"`
	Role       models.Role `json:"role"`
	TokenType  string      `json:"token_type"`
	RememberMe bool        `json:"remember_me,omitempty"`
	jwtv5.RegisteredClaims
}

// Remaining is how long the token stays valid.
func (c *Claims) Remaining() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return time.Until(c.ExpiresAt.Time)
}

type Manager struct {
	secret                  []byte
	accessTokenTTL          time.Duration
	refreshTokenTTLDefault  time.Duration
	refreshTokenTTLRemember time.Duration
}

func NewManager(cfg *config.AuthConfig) *Manager {
	return &Manager{
		secret:                  []byte(cfg.JWTSecret),
		accessTokenTTL:          cfg.AccessTokenTTL,
		refreshTokenTTLDefault:  cfg.RefreshTokenTTLDefault,
		refreshTokenTTLRemember: cfg.RefreshTokenTTLRemember,
	}
}

// Pair is what a successful sign-in hands back.
type Pair struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	RefreshID        string    `json:"-"`
	RememberMe       bool      `json:"-"`
}

func (m *Manager) AccessTTL() time.Duration { return m.accessTokenTTL }

func (m *Manager) RefreshTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return m.refreshTokenTTLRemember
	}
	return m.refreshTokenTTLDefault
}

func (m *Manager) IssuePair(userID string, role models.Role, rememberMe bool) (*Pair, error) {
	now := time.Now()
	access, _, err := m.sign(userID, role, TypeAccess, false, now, m.accessTokenTTL)
	if err != nil {
		return nil, err
	}
	refreshTTL := m.RefreshTTL(rememberMe)
	refresh, jti, err := m.sign(userID, role, TypeRefresh, rememberMe, now, refreshTTL)
	if err != nil {
		return nil, err
	}
	return &Pair{
		AccessToken:      access,
		AccessExpiresAt:  now.Add(m.accessTokenTTL),
		RefreshToken:     refresh,
		RefreshExpiresAt: now.Add(refreshTTL),
		RefreshID:        jti,
		RememberMe:       rememberMe,
	}, nil
}

func (m *Manager) sign(userID string, role models.Role, typ string, rememberMe bool, now time.Time, ttl time.Duration) (string, string, error) {
	jti := uuid.NewString()
	claims := Claims{
		UserID:     userID,
		Role:       role,
		TokenType:  typ,
		RememberMe: rememberMe,
		RegisteredClaims: jwtv5.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}
	s, err := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(m.secret)
	return s, jti, err
}

// Parse verifies the signature, expiry and token type.
func (m *Manager) Parse(tokenString, wantType string) (*Claims, error) {
	token, err := jwtv5.ParseWithClaims(tokenString, &Claims{}, func(t *jwtv5.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtv5.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return m.secret, nil
	}, jwtv5.WithIssuer(issuer))
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TokenType != wantType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
