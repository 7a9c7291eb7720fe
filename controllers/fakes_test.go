package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
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

	"Gin_postgres_redis_lending_portal/app"
	"Gin_postgres_redis_lending_portal/config"
	"Gin_postgres_redis_lending_portal/db"
	"Gin_postgres_redis_lending_portal/lifecycle"
	"Gin_postgres_redis_lending_portal/models"
	"Gin_postgres_redis_lending_portal/session"
	"Gin_postgres_redis_lending_portal/tokens"
)

func init() { gin.SetMode(gin.TestMode) }

// fakeRepo is an in-memory stand-in for *db.Repo.
type fakeRepo struct {
	mu sync.Mutex

	users     map[string]*models.User
	items     map[string]*db.ItemRow
	nextID    int
	lastLoanQ db.LoanQuery
	loans     []db.LoanRow
	events    map[string][]models.LoanEvent
	stats     models.DashboardStats
	statsHits int
	history   []db.HistoryRow
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:  map[string]*models.User{},
		items:  map[string]*db.ItemRow{},
		events: map[string][]models.LoanEvent{},
	}
}

func (f *fakeRepo) id(prefix string) string {
	f.nextID++
	return prefix + "-" + string(rune('a'+f.nextID-1))
}

func (f *fakeRepo) addUser(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return u
}

func (f *fakeRepo) FindUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if strings.EqualFold(u.Email, strings.TrimSpace(email)) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (f *fakeRepo) TouchUserLogin(_ context.Context, userID, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		u.LoginCount++
	}
	return nil
}

func (f *fakeRepo) LoadUserCredentials(context.Context, string) ([]models.Credential, error) {
	return nil, nil
}
func (f *fakeRepo) AddCredential(context.Context, *models.Credential) error { return nil }
func (f *fakeRepo) UpdateCredentialCounter(context.Context, []byte, uint32, bool) error {
	return nil
}
func (f *fakeRepo) FindUserByCredentialID(context.Context, []byte) (*models.User, error) {
	return nil, db.ErrUserNotFound
}

func (f *fakeRepo) ListUsers(_ context.Context, q db.UsersQuery) (*db.PagedUsers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &db.PagedUsers{Users: []models.User{}}
	for _, u := range f.users {
		if q.Role != "" && u.Role != q.Role {
			continue
		}
		out.Users = append(out.Users, *u)
	}
	out.Total = int64(len(out.Users))
	return out, nil
}

func (f *fakeRepo) CreateUser(_ context.Context, u *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, x := range f.users {
		if x.Email == u.Email {
			return db.ErrDuplicateEmail
		}
	}
	u.ID = f.id("user")
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeRepo) DeleteUser(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return db.ErrUserNotFound
	}
	delete(f.users, id)
	return nil
}

func (f *fakeRepo) UpdateProfile(_ context.Context, id string, p db.ProfilePatch) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	cp := *u
	return &cp, nil
}

func (f *fakeRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return db.ErrUserNotFound
	}
	u.PasswordHash = hash
	u.MustChangePassword = false
	return nil
}

func (f *fakeRepo) addItem(name, code string, status models.ItemStatus, borrower string) *db.ItemRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := &db.ItemRow{ID: f.id("item"), Name: name, Code: code, Status: status}
	if borrower != "" {
		loanID := "loan-of-" + row.ID
		row.BorrowedBy = &borrower
		row.RequesterID = &borrower
		row.LoanID = &loanID
		n := "Borrower"
		row.RequesterName = &n
	}
	f.items[row.ID] = row
	return row
}

func (f *fakeRepo) ListItems(_ context.Context, q db.ItemsQuery) (*db.PagedItems, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &db.PagedItems{Items: []db.ItemRow{}}
	for _, it := range f.items {
		if q.Status != "" && it.Status != q.Status {
			continue
		}
		out.Items = append(out.Items, *it)
	}
	out.Total = int64(len(out.Items))
	return out, nil
}

func (f *fakeRepo) GetItem(_ context.Context, id string) (*db.ItemRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, lifecycle.ErrItemNotFound
	}
	cp := *it
	return &cp, nil
}

func (f *fakeRepo) CreateItem(_ context.Context, it *models.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.items {
		if x.Code == it.Code {
			return db.ErrDuplicateCode
		}
	}
	it.ID = f.id("item")
	it.Status = models.ItemAvailable
	f.items[it.ID] = &db.ItemRow{ID: it.ID, Name: it.Name, Code: it.Code, Image: it.Image, Status: it.Status}
	return nil
}

func (f *fakeRepo) UpdateItem(_ context.Context, id string, p db.ItemPatch) (*models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return nil, lifecycle.ErrItemNotFound
	}
	if p.Code != nil && *p.Code != it.Code && it.Status != models.ItemAvailable {
		return nil, db.ErrItemOnLoan
	}
	if p.Name != nil {
		it.Name = *p.Name
	}
	if p.Code != nil {
		it.Code = *p.Code
	}
	if p.Image != nil {
		it.Image = *p.Image
	}
	return &models.Item{ID: it.ID, Name: it.Name, Code: it.Code, Image: it.Image, Status: it.Status}, nil
}

func (f *fakeRepo) DeleteItem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	it, ok := f.items[id]
	if !ok {
		return lifecycle.ErrItemNotFound
	}
	if it.Status != models.ItemAvailable {
		return db.ErrItemOnLoan
	}
	delete(f.items, id)
	return nil
}

func (f *fakeRepo) ItemHistory(_ context.Context, id string) ([]db.HistoryRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return nil, lifecycle.ErrItemNotFound
	}
	return append([]db.HistoryRow(nil), f.history...), nil
}

func (f *fakeRepo) ListLoans(_ context.Context, q db.LoanQuery) (*db.PagedLoans, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLoanQ = q
	return &db.PagedLoans{Total: int64(len(f.loans)), Items: f.loans}, nil
}

func (f *fakeRepo) CountActiveLoans(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, it := range f.items {
		if it.Status == models.ItemBorrowed {
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) ListLoanEvents(_ context.Context, loanID string) ([]models.LoanEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	evs, ok := f.events[loanID]
	if !ok {
		return nil, db.ErrLoanNotFound
	}
	return evs, nil
}

func (f *fakeRepo) DashboardStats(context.Context) (models.DashboardStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsHits++
	return f.stats, nil
}

// memStats is a process-local StatsCache.
type memStats struct {
	mu          sync.Mutex
	val         *models.DashboardStats
	invalidated int
}

func (m *memStats) Get(context.Context) (models.DashboardStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.val == nil {
		return models.DashboardStats{}, false
	}
	return *m.val, true
}

func (m *memStats) Set(_ context.Context, s models.DashboardStats) {
	m.mu.Lock()
	m.val = &s
	m.mu.Unlock()
}

func (m *memStats) Invalidate(context.Context) {
	m.mu.Lock()
	m.val = nil
	m.invalidated++
	m.mu.Unlock()
}

type fakeImages struct {
	saved   []string
	removed []string
	err     error
}

func (f *fakeImages) Save(_ context.Context, r io.Reader) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	b, _ := io.ReadAll(r)
	url := "http://cdn/items/image_" + string(rune('0'+len(f.saved))) + ".png"
	f.saved = append(f.saved, string(b))
	return url, nil
}

func (f *fakeImages) Remove(_ context.Context, url string) error {
	f.removed = append(f.removed, url)
	return nil
}

type sentMail struct{ to, name, password, url string }

type fakeMailer struct{ sent []sentMail }

func (f *fakeMailer) SendWelcome(to, name, tempPassword, loginURL string) error {
	f.sent = append(f.sent, sentMail{to, name, tempPassword, loginURL})
	return nil
}

// fakeLoans records coordinator calls and returns canned results.
type fakeLoans struct {
	calls  []string
	actor  lifecycle.Actor
	itemID string
	note   string
	input  lifecycle.RequestInput
	res    *lifecycle.Result
	err    error
}

func (f *fakeLoans) record(name string, a lifecycle.Actor, itemID, note string) (*lifecycle.Result, error) {
	f.calls = append(f.calls, name)
	f.actor, f.itemID, f.note = a, itemID, note
	return f.res, f.err
}

func (f *fakeLoans) RequestLoan(_ context.Context, a lifecycle.Actor, in lifecycle.RequestInput) (*lifecycle.Result, error) {
	f.input = in
	return f.record("request", a, in.ItemID, in.Note)
}
func (f *fakeLoans) ApproveLoan(_ context.Context, a lifecycle.Actor, itemID string) (*lifecycle.Result, error) {
	return f.record("approve", a, itemID, "")
}
func (f *fakeLoans) RejectLoan(_ context.Context, a lifecycle.Actor, itemID, note string) (*lifecycle.Result, error) {
	return f.record("reject", a, itemID, note)
}
func (f *fakeLoans) ReturnLoan(_ context.Context, a lifecycle.Actor, itemID, note string) (*lifecycle.Result, error) {
	return f.record("return", a, itemID, note)
}

// --- fixtures ---

var (
	student    = &models.User{ID: "u-student", Email: "siti@school.id", Name: "Siti", Role: models.RoleStudent}
	admin      = &models.User{ID: "u-admin", Email: "budi@school.id", Name: "Budi", Role: models.RoleAdmin}
	superadmin = &models.User{ID: "u-super", Email: "root@school.id", Name: "Root", Role: models.RoleSuperadmin}
)

func as(u *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		cp := *u
		app.SetActor(c, &cp)
		c.Next()
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{WebOrigin: "http://localhost:3000"},
		Auth: config.AuthConfig{
			JWTSecret:               "controllers-test-secret",
			AccessTokenTTL:          15 * time.Minute,
			RefreshTokenTTLDefault:  24 * time.Hour,
			RefreshTokenTTLRemember: 7 * 24 * time.Hour,
		},
	}
}

func newTestSrv(t *testing.T, repo *fakeRepo) *Srv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	cfg := testConfig()
	return &Srv{
		Users:      repo,
		Ceremonies: session.NewStore(rdb, time.Minute),
		Sessions:   session.NewAppSessionStore(rdb, cfg.Auth.RefreshTokenTTLRemember),
		Tokens:     tokens.NewManager(&cfg.Auth),
		Cfg:        cfg,
		Log:        zap.NewNop(),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Count   *int64          `json:"count"`
	Next    *int            `json:"next"`
	Prev    *int            `json:"prev"`
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, mods ...func(*http.Request)) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mods {
		m(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w, env
}

func doUpload(t *testing.T, r http.Handler, path, filename string, content []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return w, env
}

func dataAs[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
	return v
}
