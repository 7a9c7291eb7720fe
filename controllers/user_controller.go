package controllers

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/importer"
	"Gin_postgres_redis_lending_portal/models"
)

var (
	ErrDeleteSelf      = apperr.New(apperr.KindValidation, "CANNOT_DELETE_SELF", "cannot delete your own account")
	ErrWrongPassword   = apperr.New(apperr.KindUnauthorized, "WRONG_PASSWORD", "current password is incorrect")
	ErrSuperadminGrant = apperr.New(apperr.KindValidation, "INVALID_ROLE", "role must be student or admin")
)

// width of lsb_users.email and lsb_users.name
const maxUserField = 255

type UserController struct {
	*Srv
	Mailer WelcomeMailer
	Stats  StatsCache
}

func GetUserController(s *Srv, mailer WelcomeMailer, stats StatsCache) *UserController {
	return &UserController{Srv: s, Mailer: mailer, Stats: stats}
}

// GET /api/users?role=&name=&email=&page=&limit=
func (uc *UserController) ListUsers(c *app.Ctx) {
	p, err := app.ParsePaging(c)
	if err != nil {
		app.Fail(c, err)
		return
	}
	q := db.UsersQuery{Name: c.Query("name"), Email: c.Query("email"), Page: p.Page, Size: p.Limit}
	if s := c.Query("role"); s != "" {
		if q.Role, err = models.ParseRole(s); err != nil {
			app.Fail(c, apperr.Invalid("role must be student, admin or superadmin"))
			return
		}
	}
	res, err := uc.Users.ListUsers(c.Request.Context(), q)
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.Page(c, res.Users, res.Total, p)
}

type addUserReq struct {
	Email    string `json:"email" binding:"required,email"`
	Name     string `json:"name" binding:"required,max=255"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type addUserResp struct {
	User         *models.User `json:"user"`
	TempPassword string       `json:"tempPassword,omitempty"`
	Mailed       bool         `json:"mailed"`
}

// createAccount hashes the given password, or a generated one that is then
// returned and must be changed at first sign-in.
func (uc *UserController) createAccount(ctx context.Context, email, name string, role models.Role, password string) (*addUserResp, error) {
	if role == models.RoleSuperadmin {
		return nil, ErrSuperadminGrant
	}
	if utf8.RuneCountInString(strings.TrimSpace(email)) > maxUserField {
		return nil, apperr.Invalid("email must be at most 255 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(name)) > maxUserField {
		return nil, apperr.Invalid("name must be at most 255 characters")
	}
	generated := password == ""
	if generated {
		var err error
		if password, err = app.TempPassword(10); err != nil {
			return nil, err
		}
	}
	hash, err := app.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Email:              email,
		Name:               name,
		Role:               role,
		PasswordHash:       hash,
		MustChangePassword: generated,
	}
	if err := uc.Users.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	out := &addUserResp{User: u}
	if generated {
		out.TempPassword = password
		if err := uc.Mailer.SendWelcome(u.Email, u.Name, password, uc.Cfg.Server.WebOrigin+"/login"); err != nil {
			uc.Log.Warn("welcome mail", zap.String("email", u.Email), zap.Error(err))
		} else {
			out.Mailed = uc.Cfg.Mail.Enabled()
		}
	}
	return out, nil
}

// POST /api/users/add
func (uc *UserController) AddUser(c *app.Ctx) {
	var in addUserReq
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	role := models.RoleStudent
	if in.Role != "" {
		r, err := models.ParseRole(in.Role)
		if err != nil {
			app.Fail(c, ErrSuperadminGrant)
			return
		}
		role = r
	}
	if strings.TrimSpace(in.Name) == "" {
		app.Fail(c, apperr.Invalid("name is required"))
		return
	}

	out, err := uc.createAccount(c.Request.Context(), in.Email, in.Name, role, in.Password)
	if err != nil {
		app.Fail(c, err)
		return
	}
	uc.Stats.Invalidate(c.Request.Context())
	app.Logger(c).Info("user created",
		zap.String("user_id", out.User.ID),
		zap.String("role", string(role)),
		zap.String("by", app.CurrentActor(c).ID),
	)
	app.Created(c, out)
}

// POST /api/users/import (multipart "file")
func (uc *UserController) ImportUsers(c *app.Ctx) {
	fh, err := formFile(c)
	if err != nil {
		app.Fail(c, err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		app.Fail(c, err)
		return
	}
	defer f.Close()

	sheet, err := importer.ReadSheet(fh.Filename, f)
	if err != nil {
		app.Fail(c, err)
		return
	}
	rows, rep, err := importer.ParseUsers(sheet)
	if err != nil {
		app.Fail(c, err)
		return
	}

	ctx := c.Request.Context()
	for _, r := range rows {
		_, err := uc.createAccount(ctx, r.Email, r.Name, r.Role, r.Password)
		switch {
		case err == nil:
			rep.Created++
		case errors.Is(err, db.ErrDuplicateEmail):
			rep.Fail(r.Row, "email "+r.Email+" already exists")
		case apperr.KindOf(err) == apperr.KindValidation:
			_, msg := apperr.Public(err)
			rep.Fail(r.Row, msg)
		default:
			app.Fail(c, err)
			return
		}
	}
	if rep.Created > 0 {
		uc.Stats.Invalidate(ctx)
	}
	app.Logger(c).Info("users imported",
		zap.String("file", fh.Filename),
		zap.Int("created", rep.Created),
		zap.Int("failed", rep.Failed),
	)
	app.OK(c, rep)
}

// DELETE /api/users/:id
func (uc *UserController) DeleteUser(c *app.Ctx) {
	id := c.Param("id")
	if id == app.CurrentActor(c).ID {
		app.Fail(c, ErrDeleteSelf)
		return
	}
	ctx := c.Request.Context()
	if err := uc.Users.DeleteUser(ctx, id); err != nil {
		app.Fail(c, err)
		return
	}
	if err := uc.Sessions.RevokeAllForUser(ctx, id); err != nil {
		app.Logger(c).Warn("revoke sessions", zap.String("user_id", id), zap.Error(err))
	}
	uc.Stats.Invalidate(ctx)
	app.Done(c, "user deleted")
}

// GET /api/users/profile
func (uc *UserController) GetProfile(c *app.Ctx) {
	app.OK(c, app.CurrentUser(c))
}

// PUT /api/users/profile
func (uc *UserController) UpdateProfile(c *app.Ctx) {
	var in db.ProfilePatch
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	if in.Name != nil && (strings.TrimSpace(*in.Name) == "" || utf8.RuneCountInString(*in.Name) > maxUserField) {
		app.Fail(c, apperr.Invalid("name must be 1 to 255 characters"))
		return
	}
	if in.AvatarURL != nil && utf8.RuneCountInString(*in.AvatarURL) > 512 {
		app.Fail(c, apperr.Invalid("avatarUrl must be at most 512 characters"))
		return
	}
	u, err := uc.Users.UpdateProfile(c.Request.Context(), app.CurrentActor(c).ID, in)
	if err != nil {
		app.Fail(c, err)
		return
	}
	app.OK(c, u)
}

type changePasswordReq struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// PUT /api/users/password signs the user out everywhere else.
func (uc *UserController) ChangePassword(c *app.Ctx) {
	var in changePasswordReq
	if err := app.BindJSON(c, &in); err != nil {
		app.Fail(c, err)
		return
	}
	u := app.CurrentUser(c)
	if u == nil {
		app.Fail(c, apperr.ErrUnauthorized)
		return
	}
	if !app.CheckPassword(u.PasswordHash, in.CurrentPassword) {
		app.Fail(c, ErrWrongPassword)
		return
	}
	if in.NewPassword == in.CurrentPassword {
		app.Fail(c, apperr.Invalid("new password must differ from the current one"))
		return
	}
	hash, err := app.HashPassword(in.NewPassword)
	if err != nil {
		app.Fail(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := uc.Users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
		app.Fail(c, err)
		return
	}
	if err := uc.Sessions.RevokeAllForUser(ctx, u.ID); err != nil {
		app.Logger(c).Warn("revoke sessions", zap.String("user_id", u.ID), zap.Error(err))
	}
	if claims := app.CurrentClaims(c); claims != nil && claims.Remaining() > 0 {
		_ = uc.Sessions.Blacklist(ctx, claims.ID, claims.Remaining())
	}
	uc.clearCookies(c.Writer)
	app.Done(c, "password changed, sign in again")
}
