package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/models"
	"Gin_postgres_redis_lending_portal/session"
)

const ceremonyTimeout = 3 * time.Second

var (
	ErrCeremonyExpired = apperr.New(apperr.KindValidation, "CEREMONY_EXPIRED", "passkey ceremony expired or invalid, start again")
	ErrPasskeyRejected = apperr.New(apperr.KindUnauthorized, "PASSKEY_REJECTED", "passkey verification failed")
)

// userHandle is the raw UUID; ids that are not UUIDs fall back to their bytes.
func userHandle(id string) []byte {
	if u, err := uuid.Parse(id); err == nil {
		return u[:]
	}
	return []byte(id)
}

func userIDFromHandle(h []byte) string {
	if u, err := uuid.FromBytes(h); err == nil {
		return u.String()
	}
	return string(h)
}

func ceremonyErr(err error) error {
	if errors.Is(err, session.ErrSessionNotFound) {
		return ErrCeremonyExpired
	}
	return err
}

// ===== adding a passkey (signed in) =====

func (s *Srv) registrationOptions(w *waUser) []webauthn.RegistrationOption {
	excl := make([]protocol.CredentialDescriptor, 0, len(w.creds))
	for _, c := range w.creds {
		excl = append(excl, c.Descriptor())
	}
	return []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationRequired,
		}),
		webauthn.WithExclusions(excl),
	}
}

// POST /api/auth/passkey/register/begin
func (s *Srv) BeginAddCredential(c *app.Ctx) {
	uid := app.CurrentActor(c).ID
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, uid)
	if err != nil {
		app.Fail(c, err)
		return
	}
	opts, sd, err := s.WA.BeginRegistration(wUser, s.registrationOptions(wUser)...)
	if err != nil {
		app.Fail(c, err)
		return
	}
	if err := s.Ceremonies.SaveReg(ctx, uid, sd); err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, app.H{"options": opts})
}

// POST /api/auth/passkey/register/finish
func (s *Srv) FinishAddCredential(c *app.Ctx) {
	uid := app.CurrentActor(c).ID
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	wUser, err := s.loadWAUserByID(ctx, uid)
	if err != nil {
		app.Fail(c, err)
		return
	}
	sd, err := s.Ceremonies.LoadReg(ctx, uid)
	if err != nil {
		app.Fail(c, ceremonyErr(err))
		return
	}

	cred, err := s.WA.FinishRegistration(wUser, *sd, c.Request)
	if err != nil {
		app.Logger(c).Info("passkey registration rejected", zap.String("user_id", uid), zap.Error(err))
		app.Fail(c, apperr.Wrap(apperr.KindValidation, "PASSKEY_INVALID", "passkey registration failed", err))
		return
	}

	mc := &models.Credential{
		UserID:          uid,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		CloneWarning:    cred.Authenticator.CloneWarning,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}
	if err := s.Users.AddCredential(ctx, mc); err != nil {
		app.Fail(c, err)
		return
	}
	app.Logger(c).Info("passkey added", zap.String("user_id", uid), zap.Uint("credential", mc.ID))
	app.Created(c, mc)
}

// ===== passkey sign-in =====

type loginBeginReq struct {
	Email        string `json:"email"`
	Discoverable bool   `json:"discoverable"`
}

type loginBeginResp struct {
	Options   *protocol.CredentialAssertion `json:"options"`
	SessionID string                        `json:"sessionId"`
}

// POST /api/auth/passkey/login/begin
func (s *Srv) BeginLogin(c *app.Ctx) {
	var req loginBeginReq
	if err := app.BindJSON(c, &req); err != nil {
		app.Fail(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	var (
		opts *protocol.CredentialAssertion
		sd   *webauthn.SessionData
		err  error
	)
	if req.Discoverable || req.Email == "" {
		opts, sd, err = s.WA.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationRequired))
	} else {
		wUser, err2 := s.loadWAUserByEmail(ctx, req.Email)
		if err2 != nil {
			app.Fail(c, err2)
			return
		}
		opts, sd, err = s.WA.BeginLogin(wUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	}
	if err != nil {
		app.Fail(c, apperr.Wrap(apperr.KindValidation, "PASSKEY_UNAVAILABLE", "no passkey registered for this account", err))
		return
	}

	sid := uuid.NewString()
	if err := s.Ceremonies.SaveAuth(ctx, sid, sd); err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, loginBeginResp{Options: opts, SessionID: sid})
}

// POST /api/auth/passkey/login/finish?sessionId=...[&email=...][&rememberMe=true]
func (s *Srv) FinishLogin(c *app.Ctx) {
	sid := c.Query("sessionId")
	if sid == "" {
		app.Fail(c, apperr.Invalid("sessionId is required"))
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), ceremonyTimeout)
	defer cancel()

	sd, err := s.Ceremonies.LoadAuth(ctx, sid)
	if err != nil {
		app.Fail(c, ceremonyErr(err))
		return
	}

	var (
		user *models.User
		cred *webauthn.Credential
	)
	if email := c.Query("email"); email != "" {
		wUser, err := s.loadWAUserByEmail(ctx, email)
		if err != nil {
			app.Fail(c, err)
			return
		}
		cred, err = s.WA.FinishLogin(wUser, *sd, c.Request)
		if err != nil {
			app.Logger(c).Info("passkey login rejected", zap.String("user_id", wUser.user.ID), zap.Error(err))
			app.Fail(c, ErrPasskeyRejected)
			return
		}
		user = &wUser.user
	} else {
		handler := func(rawID, handle []byte) (webauthn.User, error) {
			u, err := s.Users.FindUserByCredentialID(ctx, rawID)
			if err != nil {
				return nil, protocol.ErrBadRequest.WithDetails("credential not found")
			}
			if h := userIDFromHandle(handle); len(handle) > 0 && h != u.ID {
				return nil, protocol.ErrBadRequest.WithDetails("user handle mismatch")
			}
			return s.loadWAUser(ctx, u)
		}
		wu, c2, err := s.WA.FinishPasskeyLogin(handler, *sd, c.Request)
		if err != nil {
			app.Logger(c).Info("passkey login rejected", zap.Error(err))
			app.Fail(c, ErrPasskeyRejected)
			return
		}
		user, cred = &wu.(*waUser).user, c2
	}

	if err := s.Users.UpdateCredentialCounter(ctx, cred.ID, cred.Authenticator.SignCount, cred.Authenticator.CloneWarning); err != nil {
		app.Logger(c).Warn("update passkey counter", zap.String("user_id", user.ID), zap.Error(err))
	}
	if cred.Authenticator.CloneWarning {
		app.Logger(c).Warn("passkey clone warning", zap.String("user_id", user.ID))
	}

	resp, err := s.issueSession(c, user, c.Query("rememberMe") == "true")
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, resp)
}

var _ UserRepo = (*db.Repo)(nil)
