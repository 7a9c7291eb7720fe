package controllers

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/session"
	"Gin_postgres_redis_lending_portal/tokens"
)

var (
	ErrBadCredentials = apperr.New(apperr.KindUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect")
	ErrRefreshInvalid = apperr.New(apperr.KindUnauthorized, "REFRESH_INVALID", "refresh token is invalid or has been revoked")
)

type loginRequest struct {
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"rememberMe"`
}

// POST /api/auth/login
func (s *Srv) Login(c *app.Ctx) {
	var in loginRequest
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}

	u, err := s.Users.FindUserByEmail(c.Request.Context(), in.Email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			app.Fail(c, ErrBadCredentials)
			return
		}
		app.Fail(c, err)
		return
	}
	if !app.CheckPassword(u.PasswordHash, in.Password) {
		app.Logger(c).Info("login rejected", zap.String("user_id", u.ID))
		app.Fail(c, ErrBadCredentials)
		return
	}

	resp, err := s.issueSession(c, u, in.RememberMe)
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, resp)
}

// POST /api/auth/refresh rotates the pair. The session is consumed
// atomically, so of two callers racing with one refresh token only the
// first gets a new pair.
func (s *Srv) Refresh(c *app.Ctx) {
	raw := s.refreshToken(c)
	if raw == "" {
		app.Fail(c, ErrRefreshInvalid)
		return
	}
	claims, err := s.Tokens.Parse(raw, tokens.TypeRefresh)
	if err != nil {
		app.Fail(c, ErrRefreshInvalid)
		return
	}

	ctx := c.Request.Context()
	sess, err := s.Sessions.Consume(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			app.Fail(c, ErrRefreshInvalid)
			return
		}
		app.Fail(c, err)
		return
	}
	if sess.UserID != claims.UserID {
		app.Fail(c, ErrRefreshInvalid)
		return
	}

	u, err := s.Users.FindUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			app.Fail(c, ErrRefreshInvalid)
			return
		}
		app.Fail(c, err)
		return
	}
	resp, err := s.issueSession(c, u, sess.RememberMe)
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, resp)
}

// refreshToken reads the refresh cookie, falling back to a JSON body.
func (s *Srv) refreshToken(c *app.Ctx) string {
	if ck, err := c.Cookie(app.RefreshCookie); err == nil && ck != "" {
		return ck
	}
	var in struct {
		RefreshToken string `json:"refreshToken"`
	}
	if c.Request.ContentLength != 0 {
		_ = c.ShouldBindJSON(&in)
	}
	return strings.TrimSpace(in.RefreshToken)
}

// POST /api/auth/logout blacklists the access token for the rest of its life
// and drops the refresh session.
func (s *Srv) Logout(c *app.Ctx) {
	ctx := c.Request.Context()
	if claims := app.CurrentClaims(c); claims != nil {
		if ttl := claims.Remaining(); ttl > 0 {
			if err := s.Sessions.Blacklist(ctx, claims.ID, ttl); err != nil {
				app.Fail(c, err)
				return
			}
		}
	}
	if raw := s.refreshToken(c); raw != "" {
		if rc, err := s.Tokens.Parse(raw, tokens.TypeRefresh); err == nil && rc.UserID == app.CurrentActor(c).ID {
			if err := s.Sessions.Delete(ctx, rc.ID); err != nil {
				app.Logger(c).Warn("drop refresh session", zap.Error(err))
			}
		}
	}
	s.clearCookies(c.Writer)
	app.Done(c, "signed out")
}

// GET /api/auth/me
func (s *Srv) Me(c *app.Ctx) {
	app.OK(c, app.CurrentUser(c))
}
