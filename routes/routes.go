package routes

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/cache"
	"Gin_postgres_redis_lending_portal/controllers"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
	"Gin_postgres_redis_lending_portal/notify"
	"Gin_postgres_redis_lending_portal/session"
	"Gin_postgres_redis_lending_portal/storage"
)

const appName = "Lending Portal"

func RegisterRoutes(r *gin.Engine, a *app.App) {
	cfg := a.Config
	repo := db.NewRepo(a.DB)
	stats := cache.NewStatsCache(a.RDB, cfg.Server.StatsTTL, a.Log)
	coord := lifecycle.New(repo, a.Log, lifecycle.WithObserver(stats.OnLoanEvent))

	s := controllers.GetSrv(a, repo)
	itemCtl := controllers.NewItemController(repo, storage.NewImages(a.Store, cfg.Storage.MaxImageBytes), stats)
	loanCtl := controllers.NewLoanController(coord, repo)
	ledgerCtl := controllers.NewLedgerController(repo, stats)
	userCtl := controllers.GetUserController(s, notify.NewMailer(cfg.Mail, appName, a.Log), stats)

	authMW := app.AuthRequired(s.Tokens, s.Sessions, repo)
	seenMW := app.TouchLastSeen(repo, a.RDB, cfg.Auth.SeenThrottle)
	staff := app.Staff()
	superadmin := app.RequireRoles(models.RoleSuperadmin)
	loginLimit := app.RateLimit(session.NewLimiter(a.RDB), "login", cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)

	r.GET("/healthz", func(c *app.Ctx) { app.OK(c, app.H{"ok": true}) })

	if l, ok := a.Store.(*storage.Local); ok {
		if prefix := urlPath(l.BaseURL); prefix != "" {
			r.StaticFS(prefix, http.Dir(l.Dir))
		}
	}

	// ------------------------------
	// auth
	// ------------------------------
	auth := r.Group("/api/auth")
	{
		auth.POST("/login", loginLimit, s.Login)
		auth.POST("/refresh", s.Refresh)
		auth.POST("/passkey/login/begin", loginLimit, s.BeginLogin)
		auth.POST("/passkey/login/finish", s.FinishLogin)
	}
	authed := auth.Group("", authMW, seenMW)
	{
		authed.POST("/logout", s.Logout)
		authed.GET("/me", s.Me)
		authed.POST("/passkey/register/begin", s.BeginAddCredential)
		authed.POST("/passkey/register/finish", s.FinishAddCredential)
	}

	api := r.Group("/api", authMW, seenMW)

	// ------------------------------
	// loans
	// ------------------------------
	loans := api.Group("/loans")
	{
		loans.POST("/request", app.RequireRoles(models.RoleStudent), loanCtl.Request)
		loans.PUT("/approve", staff, loanCtl.Approve)
		loans.PUT("/reject", staff, loanCtl.Reject)
		loans.PUT("/return", staff, loanCtl.Return)

		loans.GET("", ledgerCtl.List)
		loans.GET("/total", ledgerCtl.Total)
		loans.GET("/:id/events", staff, ledgerCtl.Events)
	}

	// ------------------------------
	// items
	// ------------------------------
	items := api.Group("/items")
	{
		items.GET("", itemCtl.ListItems)
		items.GET("/:id", itemCtl.GetItem)
		items.GET("/:id/history", itemCtl.History)

		items.POST("", superadmin, itemCtl.CreateItem)
		items.POST("/import", superadmin, itemCtl.ImportItems)
		items.PUT("/:id", superadmin, itemCtl.UpdateItem)
		items.DELETE("/:id", superadmin, itemCtl.DeleteItem)
	}
	api.POST("/images", staff, itemCtl.UploadImage)

	// ------------------------------
	// users
	// ------------------------------
	users := api.Group("/users")
	{
		users.GET("/profile", userCtl.GetProfile)
		users.PUT("/profile", userCtl.UpdateProfile)
		users.PUT("/password", userCtl.ChangePassword)

		users.GET("", staff, userCtl.ListUsers)
		users.POST("/add", superadmin, userCtl.AddUser)
		users.POST("/import", superadmin, userCtl.ImportUsers)
		users.DELETE("/:id", superadmin, userCtl.DeleteUser)
	}

	api.GET("/dashboard/stats", staff, ledgerCtl.DashboardStats)

	a.Log.Info("routes registered", zap.Int("count", len(r.Routes())))
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}
