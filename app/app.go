package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"Gin_postgres_redis_lending_portal/config"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/storage"
)

// Short aliases for handlers.
type Ctx = gin.Context
type H = gin.H

// App holds the process-wide dependencies.
type App struct {
	Router *gin.Engine
	DB     *gorm.DB
	RDB    *redis.Client
	WA     *webauthn.WebAuthn
	Store  storage.Store
	Config *config.Config
	Log    *zap.Logger
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	gdb, err := db.Open(&cfg.Database, log)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	return &App{
		Router: NewRouter(cfg, log),
		DB:     gdb,
		RDB:    rdb,
		WA:     wa,
		Store:  store,
		Config: cfg,
		Log:    log,
	}, nil
}

// NewRouter builds the engine with the global middleware chain.
func NewRouter(cfg *config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(RequestID(), Recovery(log), RequestLogger(log))
	useCORS(r, cfg.Server.AllowOrigins)
	if cfg.Server.BodyLimit > 0 {
		r.Use(BodyLimit(cfg.Server.BodyLimit))
	}
	return r
}

func (a *App) Close() {
	if c, ok := a.Store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	_ = a.RDB.Close()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
