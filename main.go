package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/config"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/logger"
	"Gin_postgres_redis_lending_portal/routes"
)

func main() {
	config.LoadEnv()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "lending",
		Short:        "School item lending portal",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config.yaml (default ./config.yaml when present)")

	serve := serveCmd(&cfgPath)
	root.AddCommand(serve, migrateCmd(&cfgPath), createSuperadminCmd(&cfgPath))
	root.RunE = serve.RunE
	return root
}

// setup loads config and builds the logger every subcommand starts from.
func setup(cfgPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(log)
	return cfg, log, nil
}

func serveCmd(cfgPath *string) *cobra.Command {
	var skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if !skipMigrate {
				if err := db.Migrate(a.DB, log); err != nil {
					return err
				}
			}
			if _, err := app.BootstrapSuperadmin(ctx, cfg.Bootstrap, db.NewRepo(a.DB), log); err != nil {
				log.Error("bootstrap superadmin", zap.Error(err))
			}

			routes.RegisterRoutes(a.Router, a)
			return listen(a, log)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply pending migrations at startup")
	return cmd
}

func listen(a *app.App, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			gdb, err := db.Open(&cfg.Database, log)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			return db.Migrate(gdb, log)
		},
	}
}

func createSuperadminCmd(cfgPath *string) *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-superadmin",
		Short: "Create a superadmin account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(*cfgPath)
			if err != nil {
				return err
			}
			defer log.Sync()

			gdb, err := db.Open(&cfg.Database, log)
			if err != nil {
				return err
			}
			if sqlDB, err := gdb.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := db.Migrate(gdb, log); err != nil {
				return err
			}

			u, err := app.CreateSuperadmin(cmd.Context(), db.NewRepo(gdb), email, name, password, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created superadmin %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&name, "name", "Superadmin", "display name")
	cmd.Flags().StringVar(&password, "password", "", "initial password; generated and logged when empty")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
