package app

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
	"Gin_postgres_redis_lending_portal/session"
	"Gin_postgres_redis_lending_portal/tokens"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	ctxUserID = "userID"
	ctxRole   = "role"
	ctxUser   = "user"
	ctxClaims = "claims"
)

var (
	ErrMissingToken = apperr.New(apperr.KindUnauthorized, "MISSING_TOKEN", "authentication required")
	ErrTokenExpired = apperr.New(apperr.KindUnauthorized, "TOKEN_EXPIRED", "access token expired")
	ErrTokenInvalid = apperr.New(apperr.KindUnauthorized, "TOKEN_INVALID", "invalid access token")
	ErrTokenRevoked = apperr.New(apperr.KindUnauthorized, "TOKEN_REVOKED", "access token has been revoked")
)

type UserLookup interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// BearerToken reads the Authorization header first, then the access cookie.
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if ck, err := c.Cookie(AccessCookie); err == nil {
		return ck
	}
	return ""
}

// AuthRequired resolves the caller. The role comes from the stored profile,
// not the token, so a role change applies on the next request.
func AuthRequired(tm *tokens.Manager, sess *session.AppSessionStore, users UserLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := BearerToken(c)
		if raw == "" {
			Fail(c, ErrMissingToken)
			return
		}
		claims, err := tm.Parse(raw, tokens.TypeAccess)
		if err != nil {
			if errors.Is(err, tokens.ErrTokenExpired) {
				Fail(c, ErrTokenExpired)
			} else {
				Fail(c, ErrTokenInvalid)
			}
			return
		}

		ctx := c.Request.Context()
		revoked, err := sess.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			Fail(c, err)
			return
		}
		if revoked {
			Fail(c, ErrTokenRevoked)
			return
		}

		u, err := users.FindUserByID(ctx, claims.UserID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				Fail(c, apperr.ErrUnauthorized)
				return
			}
			Fail(c, err)
			return
		}

		c.Set(ctxUserID, u.ID)
		c.Set(ctxRole, u.Role)
		c.Set(ctxUser, u)
		c.Set(ctxClaims, claims)
		c.Next()
	}
}

// RequireRoles must run after AuthRequired.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, ok := c.Get(ctxRole)
		if !ok {
			Fail(c, apperr.ErrUnauthorized)
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		Logger(c).Info("role rejected",
			zap.String("user_id", c.GetString(ctxUserID)),
			zap.Any("role", role),
			zap.String("path", c.FullPath()),
		)
		Fail(c, apperr.ErrForbidden)
	}
}

// Staff is RequireRoles(admin, superadmin).
func Staff() gin.HandlerFunc { return RequireRoles(models.RoleAdmin, models.RoleSuperadmin) }

func CurrentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(ctxUser); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

func CurrentClaims(c *gin.Context) *tokens.Claims {
	if v, ok := c.Get(ctxClaims); ok {
		if cl, ok := v.(*tokens.Claims); ok {
			return cl
		}
	}
	return nil
}

func CurrentActor(c *gin.Context) lifecycle.Actor {
	role, _ := c.Get(ctxRole)
	r, _ := role.(models.Role)
	return lifecycle.Actor{ID: c.GetString(ctxUserID), Role: r}
}

// SetActor is for tests and for handlers mounted behind other auth.
func SetActor(c *gin.Context, u *models.User) {
	c.Set(ctxUserID, u.ID)
	c.Set(ctxRole, u.Role)
	c.Set(ctxUser, u)
}
