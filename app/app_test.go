package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"Gin_postgres_redis_lending_portal/apperr"
	"Gin_postgres_redis_lending_portal/config"
	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
	"Gin_postgres_redis_lending_portal/session"
	"Gin_postgres_redis_lending_portal/tokens"
)

func init() { gin.SetMode(gin.TestMode) }

func decode(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return env
}

func TestPageLinks(t *testing.T) {
	cases := []struct {
		name       string
		page       int
		total      int64
		next, prev *int
	}{
		{"first of three", 1, 45, ptr(2), nil},
		{"middle", 2, 45, ptr(3), ptr(1)},
		{"last", 3, 45, nil, ptr(2)},
		{"empty", 1, 0, nil, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			Page(c, []int{}, tc.total, Paging{Page: tc.page, Limit: 20})

			env := decode(t, w)
			if !env.Success || env.Count == nil || *env.Count != tc.total {
				t.Fatalf("env = %+v", env)
			}
			if !sameInt(env.Next, tc.next) || !sameInt(env.Prev, tc.prev) {
				t.Fatalf("next/prev = %v/%v, want %v/%v", env.Next, env.Prev, tc.next, tc.prev)
			}
		})
	}
}

func ptr(n int) *int { return &n }

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func TestFailStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{lifecycle.ErrConflict, http.StatusConflict, "CONFLICT"},
		{lifecycle.ErrNoPendingLoan, http.StatusNotFound, "NO_PENDING_LOAN"},
		{lifecycle.ErrMissingNote, http.StatusBadRequest, "MISSING_NOTE"},
		{ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED"},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE"},
		{errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		Fail(c, tc.err)
		if w.Code != tc.status {
			t.Errorf("%v: status = %d, want %d", tc.err, w.Code, tc.status)
		}
		env := decode(t, w)
		if env.Success || env.Error != tc.code {
			t.Errorf("%v: env = %+v", tc.err, env)
		}
		if strings.Contains(env.Message, "connection refused") {
			t.Errorf("internal detail leaked: %s", env.Message)
		}
	}
}

func TestParsePaging(t *testing.T) {
	cases := []struct {
		query   string
		want    Paging
		wantErr bool
	}{
		{"", Paging{1, DefaultLimit}, false},
		{"page=3&limit=50", Paging{3, 50}, false},
		{"page=0", Paging{}, true},
		{"limit=101", Paging{}, true},
		{"page=abc", Paging{}, true},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		got, err := ParsePaging(c)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: err = %v", tc.query, err)
			continue
		}
		if !tc.wantErr && got != tc.want {
			t.Errorf("%q: got %+v, want %+v", tc.query, got, tc.want)
		}
	}
}

func TestQueryTime(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?from=2025-01-02&to=2025-01-03T10:00:00Z&bad=yesterday", nil)
	from, err := QueryTime(c, "from")
	if err != nil || from.Day() != 2 {
		t.Fatalf("from = %v, %v", from, err)
	}
	to, err := QueryTime(c, "to")
	if err != nil || to.Hour() != 10 {
		t.Fatalf("to = %v, %v", to, err)
	}
	if _, err := QueryTime(c, "bad"); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("bad: err = %v", err)
	}
	if v, err := QueryTime(c, "missing"); v != nil || err != nil {
		t.Fatalf("missing: %v %v", v, err)
	}
}

type fakeUsers struct {
	mu      sync.Mutex
	users   map[string]*models.User
	touched int
}

func (f *fakeUsers) FindUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "USER_NOT_FOUND", "user not found")
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) TouchUserSeen(context.Context, string) error {
	f.mu.Lock()
	f.touched++
	f.mu.Unlock()
	return nil
}

type authFixture struct {
	tm    *tokens.Manager
	sess  *session.AppSessionStore
	rdb   *redis.Client
	users *fakeUsers
	r     *gin.Engine
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &authFixture{
		tm: tokens.NewManager(&config.AuthConfig{
			JWTSecret:              "0123456789abcdef0123",
			AccessTokenTTL:         time.Minute,
			RefreshTokenTTLDefault: time.Hour,
		}),
		sess: session.NewAppSessionStore(rdb, time.Hour),
		rdb:  rdb,
		users: &fakeUsers{users: map[string]*models.User{
			"u-student": {ID: "u-student", Role: models.RoleStudent},
			"u-admin":   {ID: "u-admin", Role: models.RoleAdmin},
		}},
	}

	r := gin.New()
	r.Use(RequestID())
	auth := r.Group("", AuthRequired(f.tm, f.sess, f.users))
	auth.GET("/me", func(c *Ctx) { OK(c, CurrentActor(c)) })
	auth.GET("/staff", Staff(), func(c *Ctx) { Done(c, "ok") })
	f.r = r
	return f
}

func (f *authFixture) do(t *testing.T, path string, mod func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if mod != nil {
		mod(req)
	}
	w := httptest.NewRecorder()
	f.r.ServeHTTP(w, req)
	return w
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func TestAuthRequired(t *testing.T) {
	f := newAuthFixture(t)
	pair, err := f.tm.IssuePair("u-student", models.RoleStudent, false)
	if err != nil {
		t.Fatal(err)
	}

	if w := f.do(t, "/me", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", w.Code)
	}
	if w := f.do(t, "/me", bearer("garbage")); w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage: %d", w.Code)
	}
	if w := f.do(t, "/me", bearer(pair.RefreshToken)); w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh as access: %d", w.Code)
	}

	w := f.do(t, "/me", bearer(pair.AccessToken))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"u-student"`) {
		t.Fatalf("valid: %d %s", w.Code, w.Body.String())
	}

	w = f.do(t, "/me", func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: AccessCookie, Value: pair.AccessToken})
	})
	if w.Code != http.StatusOK {
		t.Fatalf("cookie: %d", w.Code)
	}

	claims, _ := f.tm.Parse(pair.AccessToken, tokens.TypeAccess)
	if err := f.sess.Blacklist(context.Background(), claims.ID, time.Minute); err != nil {
		t.Fatal(err)
	}
	w = f.do(t, "/me", bearer(pair.AccessToken))
	if w.Code != http.StatusUnauthorized || decode(t, w).Error != "TOKEN_REVOKED" {
		t.Fatalf("blacklisted: %d %s", w.Code, w.Body.String())
	}
}

func TestAuthUsesStoredRole(t *testing.T) {
	f := newAuthFixture(t)
	// token says student, profile has since been promoted
	pair, _ := f.tm.IssuePair("u-admin", models.RoleStudent, false)
	if w := f.do(t, "/staff", bearer(pair.AccessToken)); w.Code != http.StatusOK {
		t.Fatalf("promoted user: %d", w.Code)
	}

	student, _ := f.tm.IssuePair("u-student", models.RoleStudent, false)
	if w := f.do(t, "/staff", bearer(student.AccessToken)); w.Code != http.StatusForbidden {
		t.Fatalf("student on staff route: %d", w.Code)
	}

	gone, _ := f.tm.IssuePair("u-deleted", models.RoleAdmin, false)
	if w := f.do(t, "/me", bearer(gone.AccessToken)); w.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user: %d", w.Code)
	}
}

func TestTouchLastSeenThrottles(t *testing.T) {
	f := newAuthFixture(t)
	f.r.GET("/seen", AuthRequired(f.tm, f.sess, f.users), TouchLastSeen(f.users, f.rdb, time.Minute), func(c *Ctx) { Done(c, "ok") })
	pair, _ := f.tm.IssuePair("u-student", models.RoleStudent, false)

	for i := 0; i < 3; i++ {
		if w := f.do(t, "/seen", bearer(pair.AccessToken)); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
	if f.users.touched != 1 {
		t.Fatalf("touched %d times, want 1", f.users.touched)
	}
}

func TestRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	r := gin.New()
	r.POST("/login", RateLimit(session.NewLimiter(rdb), "login", 2, time.Minute), func(c *Ctx) { Done(c, "ok") })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		codes[i] = w.Code
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimit(16))
	r.POST("/x", func(c *Ctx) {
		var v map[string]any
		if err := BindJSON(c, &v); err != nil {
			Fail(c, err)
			return
		}
		OK(c, v)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"name":"a very long body indeed"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: status = %d", w.Code)
	}
}

func TestPasswords(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("short: %v", err)
	}
	if _, err := HashPassword(strings.Repeat("a", MaxPasswordBytes+1)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("too long: %v", err)
	}
	if apperr.KindOf(ErrPasswordTooLong) != apperr.KindValidation {
		t.Fatal("too long password must be a validation error")
	}
	if _, err := HashPassword(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Fatalf("72 bytes: %v", err)
	}
	h, err := HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(h, "correct horse") || CheckPassword(h, "wrong horse") || CheckPassword("", "x") {
		t.Fatal("CheckPassword mismatch")
	}

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		pw, err := TempPassword(10)
		if err != nil {
			t.Fatal(err)
		}
		if len(pw) != 10 || !strings.ContainsAny(pw, "23456789") {
			t.Fatalf("bad temp password %q", pw)
		}
		seen[pw] = true
	}
	if len(seen) < 19 {
		t.Fatalf("temp passwords repeat: %d unique of 20", len(seen))
	}
}

type fakeSuperadmins struct {
	count   int64
	created []*models.User
}

func (f *fakeSuperadmins) CountUsersByRole(context.Context, models.Role) (int64, error) {
	return f.count, nil
}

func (f *fakeSuperadmins) CreateUser(_ context.Context, u *models.User) error {
	u.ID = "new-id"
	f.created = append(f.created, u)
	f.count++
	return nil
}

func TestBootstrapSuperadmin(t *testing.T) {
	log := zap.NewNop()
	store := &fakeSuperadmins{}
	cfg := config.BootstrapConfig{SuperadminEmail: "root@school.id"}

	u, err := BootstrapSuperadmin(context.Background(), cfg, store, log)
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Role != models.RoleSuperadmin || !u.MustChangePassword || u.PasswordHash == "" {
		t.Fatalf("user = %+v", u)
	}

	u, err = BootstrapSuperadmin(context.Background(), cfg, store, log)
	if err != nil || u != nil {
		t.Fatalf("second run: %v %v", u, err)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d", len(store.created))
	}

	if u, _ := BootstrapSuperadmin(context.Background(), config.BootstrapConfig{}, &fakeSuperadmins{}, log); u != nil {
		t.Fatal("created without email")
	}
}
