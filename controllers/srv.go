package controllers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/config"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
	"Gin_postgres_redis_lending_portal/session"
	"Gin_postgres_redis_lending_portal/tokens"
)

// UserRepo is the slice of *db.Repo the account handlers use.
type UserRepo interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	TouchUserLogin(ctx context.Context, userID, ip, ua string) error
	LoadUserCredentials(ctx context.Context, userID string) ([]models.Credential, error)
	AddCredential(ctx context.Context, c *models.Credential) error
	UpdateCredentialCounter(ctx context.Context, credID []byte, newCount uint32, cloneWarn bool) error
	FindUserByCredentialID(ctx context.Context, credID []byte) (*models.User, error)
	ListUsers(ctx context.Context, q db.UsersQuery) (*db.PagedUsers, error)
	CreateUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error
	UpdateProfile(ctx context.Context, id string, p db.ProfilePatch) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

type ItemRepo interface {
	ListItems(ctx context.Context, q db.ItemsQuery) (*db.PagedItems, error)
	GetItem(ctx context.Context, id string) (*db.ItemRow, error)
	CreateItem(ctx context.Context, it *models.Item) error
	UpdateItem(ctx context.Context, id string, p db.ItemPatch) (*models.Item, error)
	DeleteItem(ctx context.Context, id string) error
	ItemHistory(ctx context.Context, itemID string) ([]db.HistoryRow, error)
}

type LedgerRepo interface {
	ListLoans(ctx context.Context, q db.LoanQuery) (*db.PagedLoans, error)
	CountActiveLoans(ctx context.Context) (int64, error)
	ListLoanEvents(ctx context.Context, loanID string) ([]models.LoanEvent, error)
	DashboardStats(ctx context.Context) (models.DashboardStats, error)
}

// LoanService is implemented by *lifecycle.Coordinator.
type LoanService interface {
	RequestLoan(ctx context.Context, actor lifecycle.Actor, in lifecycle.RequestInput) (*lifecycle.Result, error)
	ApproveLoan(ctx context.Context, actor lifecycle.Actor, itemID string) (*lifecycle.Result, error)
	RejectLoan(ctx context.Context, actor lifecycle.Actor, itemID, note string) (*lifecycle.Result, error)
	ReturnLoan(ctx context.Context, actor lifecycle.Actor, itemID, note string) (*lifecycle.Result, error)
}

type StatsCache interface {
	Get(ctx context.Context) (models.DashboardStats, bool)
	Set(ctx context.Context, s models.DashboardStats)
	Invalidate(ctx context.Context)
}

type ImageStore interface {
	Save(ctx context.Context, r io.Reader) (string, error)
	Remove(ctx context.Context, url string) error
}

type WelcomeMailer interface {
	SendWelcome(to, name, tempPassword, loginURL string) error
}

// Srv carries what every account handler needs.
type Srv struct {
	WA         *webauthn.WebAuthn
	Users      UserRepo
	Ceremonies *session.Store
	Sessions   *session.AppSessionStore
	Tokens     *tokens.Manager
	Cfg        *config.Config
	Log        *zap.Logger
}

func GetSrv(a *app.App, repo *db.Repo) *Srv {
	return &Srv{
		WA:         a.WA,
		Users:      repo,
		Ceremonies: session.NewStore(a.RDB, a.Config.WebAuthn.CeremonyTTL),
		Sessions:   session.NewAppSessionStore(a.RDB, a.Config.Auth.RefreshTokenTTLRemember),
		Tokens:     tokens.NewManager(&a.Config.Auth),
		Cfg:        a.Config,
		Log:        a.Log,
	}
}

// --- helpers ---

func (s *Srv) setCookie(w http.ResponseWriter, name, value, path string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Cfg.Auth.CookieSecure,
		MaxAge:   int(maxAge / time.Second),
	})
}

const refreshCookiePath = "/api/auth"

func (s *Srv) clearCookies(w http.ResponseWriter) {
	for _, ck := range []struct{ name, path string }{
		{app.AccessCookie, "/"},
		{app.RefreshCookie, refreshCookiePath},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     ck.name,
			Value:    "",
			Path:     ck.path,
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   s.Cfg.Auth.CookieSecure,
		})
	}
}

type signInResponse struct {
	User *models.User `json:"user"`
	*tokens.Pair
}

// issueSession signs a token pair, records the refresh session and sets
// both cookies.
func (s *Srv) issueSession(c *app.Ctx, u *models.User, rememberMe bool) (*signInResponse, error) {
	ctx := c.Request.Context()
	if err := s.Users.TouchUserLogin(ctx, u.ID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		app.Logger(c).Warn("touch user login", zap.String("user_id", u.ID), zap.Error(err))
	}

	pair, err := s.Tokens.IssuePair(u.ID, u.Role, rememberMe)
	if err != nil {
		return nil, err
	}
	refreshTTL := s.Tokens.RefreshTTL(rememberMe)
	if err := s.Sessions.Create(ctx, pair.RefreshID, u.ID, rememberMe, refreshTTL); err != nil {
		return nil, err
	}
	s.setCookie(c.Writer, app.AccessCookie, pair.AccessToken, "/", s.Tokens.AccessTTL())
	s.setCookie(c.Writer, app.RefreshCookie, pair.RefreshToken, refreshCookiePath, refreshTTL)
	return &signInResponse{User: u, Pair: pair}, nil
}

// WebAuthn: DB user -> waUser
type waUser struct {
	user  models.User
	creds []webauthn.Credential
}

func (u *waUser) WebAuthnID() []byte                         { return userHandle(u.user.ID) }
func (u *waUser) WebAuthnName() string                       { return u.user.Email }
func (u *waUser) WebAuthnDisplayName() string                { return u.user.Name }
func (u *waUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func toWaCred(c models.Credential) webauthn.Credential {
	return webauthn.Credential{
		ID:              c.CredentialID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Authenticator: webauthn.Authenticator{
			AAGUID:       c.AAGUID,
			SignCount:    c.SignCount,
			CloneWarning: c.CloneWarning,
		},
		Flags: webauthn.CredentialFlags{
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
	}
}

func (s *Srv) loadWAUser(ctx context.Context, u *models.User) (*waUser, error) {
	cs, err := s.Users.LoadUserCredentials(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	ws := make([]webauthn.Credential, 0, len(cs))
	for _, c := range cs {
		ws = append(ws, toWaCred(c))
	}
	return &waUser{user: *u, creds: ws}, nil
}

func (s *Srv) loadWAUserByID(ctx context.Context, id string) (*waUser, error) {
	u, err := s.Users.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.loadWAUser(ctx, u)
}

func (s *Srv) loadWAUserByEmail(ctx context.Context, email string) (*waUser, error) {
	u, err := s.Users.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.loadWAUser(ctx, u)
}
