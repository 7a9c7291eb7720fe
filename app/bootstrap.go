package app

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/config"
	"Gin_postgres_redis_lending_portal/models"
)

type SuperadminStore interface {
	CountUsersByRole(ctx context.Context, role models.Role) (int64, error)
	CreateUser(ctx context.Context, u *models.User) error
}

// BootstrapSuperadmin creates the first superadmin when none exists and an
// email is configured. Without a configured password a temporary one is
// generated, logged once, and must be changed at first sign-in.
func BootstrapSuperadmin(ctx context.Context, cfg config.BootstrapConfig, users SuperadminStore, log *zap.Logger) (*models.User, error) {
	email := strings.TrimSpace(cfg.SuperadminEmail)
	if email == "" {
		return nil, nil
	}
	n, err := users.CountUsersByRole(ctx, models.RoleSuperadmin)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, nil
	}
	return CreateSuperadmin(ctx, users, email, cfg.SuperadminName, cfg.SuperadminPassword, log)
}

func CreateSuperadmin(ctx context.Context, users SuperadminStore, email, name, password string, log *zap.Logger) (*models.User, error) {
	if !strings.Contains(email, "@") {
		return nil, apperr.Invalid("superadmin email is invalid")
	}
	if strings.TrimSpace(name) == "" {
		name = "Superadmin"
	}
	generated := password == ""
	if generated {
		var err error
		if password, err = TempPassword(12); err != nil {
			return nil, err
		}
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &models.User{
		Email:              email,
		Name:               name,
		Role:               models.RoleSuperadmin,
		PasswordHash:       hash,
		MustChangePassword: generated,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	log.Info("superadmin created", zap.String("email", u.Email), zap.String("user_id", u.ID))
	if generated {
		log.Warn("superadmin temporary password, change it after first sign-in",
			zap.String("email", u.Email),
			zap.String("password", password),
		)
	}
	return u, nil
}
