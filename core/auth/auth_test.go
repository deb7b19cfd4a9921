package auth

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"campus-cms/config"
	"campus-cms/core/rbac"
	"campus-cms/core/store"
	"campus-cms/core/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPepper = "test-pepper"

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *testClock {
	return &testClock{t: time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)}
}

func mustTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "auth.db")}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := store.ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixture struct {
	db       *sql.DB
	clock    *testClock
	accounts store.AccountsStore
	audit    store.AuditStore
	attempts store.AttemptStore
	csrf     *CSRFManager
	sessions *SessionManager
	limiter  *Limiter
	auth     *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := mustTestDB(t)
	clock := newClock()
	f := &fixture{
		db:       db,
		clock:    clock,
		accounts: store.NewAccountsStore(db),
		audit:    store.NewAuditStore(db),
		attempts: store.NewAttemptsStore(db),
	}
	f.csrf = NewCSRFManager(store.NewCSRFStore(db), time.Hour, clock.Now)
	f.sessions = NewSessionManager(store.NewSessionsStore(db), f.csrf, 2*time.Hour, clock.Now)
	f.limiter = NewLimiter(f.attempts, "identifier-key", LimiterOptions{Threshold: 5, Window: 15 * time.Minute, Now: clock.Now})
	f.auth = NewAuthenticator(f.accounts, f.sessions, f.csrf, f.limiter, f.audit, testPepper, utils.NewLogger(), nil)
	f.auth.now = clock.Now
	return f
}

func (f *fixture) createAdmin(t *testing.T, username, role, password string) *store.Admin {
	t.Helper()
	hash, err := HashPassword(password, testPepper)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	a := &store.Admin{Username: username, Email: username + "@college.edu", FullName: username, Role: role, PasswordHash: hash, Active: true}
	if _, err := f.accounts.Create(context.Background(), a); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	return a
}

func (f *fixture) login(t *testing.T, handle, password string) (*LoginResult, error) {
	t.Helper()
	ctx := context.Background()
	token, err := f.csrf.Issue(ctx, "preauth-1")
	if err != nil {
		t.Fatalf("issue csrf: %v", err)
	}
	return f.auth.Login(ctx, LoginInput{Handle: handle, Password: password, CSRFToken: token, BindingID: "preauth-1", IP: "2001:db8::1", UserAgent: "test"})
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("Str0ng!Passw0rd", testPepper)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if ok, err := VerifyPassword("Str0ng!Passw0rd", testPepper, hash); err != nil || !ok {
		t.Fatalf("expected match: %v", err)
	}
	if ok, _ := VerifyPassword("Str0ng!Passw0rd", "other-pepper", hash); ok {
		t.Fatalf("pepper must be part of the hash input")
	}
	if _, err := VerifyPassword("x", testPepper, "plain"); err == nil {
		t.Fatalf("expected malformed hash error")
	}
}

func attemptBackends() map[string]func(t *testing.T) AttemptBackend {
	return map[string]func(t *testing.T) AttemptBackend{
		"sql":    func(t *testing.T) AttemptBackend { return store.NewAttemptsStore(mustTestDB(t)) },
		"memory": func(t *testing.T) AttemptBackend { return NewMemoryBackend() },
		"redis": func(t *testing.T) AttemptBackend {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisBackend(client, time.Hour)
		},
	}
}

func TestLimiterLocksAfterThresholdAndExpires(t *testing.T) {
	for name, mk := range attemptBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			l := NewLimiter(mk(t), "k", LimiterOptions{Threshold: 5, Window: 900 * time.Second, Now: clock.Now})
			id := l.Identifier("alice", "2001:db8::1")
			for i := 0; i < 5; i++ {
				d, err := l.CheckAllowed(ctx, id)
				if err != nil || !d.Allowed {
					t.Fatalf("attempt %d should be allowed: %+v %v", i+1, d, err)
				}
				if _, err := l.RecordFailure(ctx, id); err != nil {
					t.Fatalf("record failure: %v", err)
				}
			}
			d, err := l.CheckAllowed(ctx, id)
			if err != nil {
				t.Fatalf("check: %v", err)
			}
			if d.Allowed || d.RetryAfterSeconds() != 900 {
				t.Fatalf("expected lockout with 900s retry, got %+v", d)
			}
			clock.Advance(600 * time.Second)
			if d, _ := l.CheckAllowed(ctx, id); d.Allowed || d.RetryAfterSeconds() != 300 {
				t.Fatalf("expected 300s remaining, got %+v", d)
			}
			clock.Advance(301 * time.Second)
			if d, err := l.CheckAllowed(ctx, id); err != nil || !d.Allowed {
				t.Fatalf("expired lock should allow: %+v %v", d, err)
			}
			d, err = l.RecordFailure(ctx, id)
			if err != nil || !d.Allowed {
				t.Fatalf("count should restart after expiry: %+v %v", d, err)
			}
		})
	}
}

func TestLimiterForgetsStaleFailures(t *testing.T) {
	for name, mk := range attemptBackends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			l := NewLimiter(mk(t), "k", LimiterOptions{Threshold: 5, Window: 900 * time.Second, Now: clock.Now})
			id := l.Identifier("alice", "192.0.2.10")
			fail := func(n int) {
				for i := 0; i < n; i++ {
					if d, err := l.RecordFailure(ctx, id); err != nil || !d.Allowed {
						t.Fatalf("failure %d should not lock: %+v %v", i+1, d, err)
					}
				}
			}
			fail(4)
			clock.Advance(901 * time.Second)
			fail(4)
			if d, err := l.CheckAllowed(ctx, id); err != nil || !d.Allowed {
				t.Fatalf("failures older than the window must not count: %+v %v", d, err)
			}
			if d, err := l.RecordFailure(ctx, id); err != nil || d.Allowed {
				t.Fatalf("fifth recent failure should lock: %+v %v", d, err)
			}
		})
	}
}

func TestLimiterIdentifierIsCanonical(t *testing.T) {
	l := NewLimiter(NewMemoryBackend(), "k", LimiterOptions{})
	a := l.Identifier("Alice", "2001:DB8:0::1")
	b := l.Identifier("alice", "[2001:db8::1]:443")
	if a != b {
		t.Fatalf("identifier should ignore case and address notation")
	}
	if a == l.Identifier("alice", "2001:db8::2") {
		t.Fatalf("different address must give a different identifier")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex digest, got %q", a)
	}
}

type brokenBackend struct{}

func (brokenBackend) Get(context.Context, string) (*store.AttemptRecord, error) {
	return nil, errors.New("connection refused")
}

func (brokenBackend) RecordFailure(context.Context, string, time.Time, int, time.Duration) (*store.AttemptRecord, error) {
	return nil, errors.New("connection refused")
}

func (brokenBackend) Reset(context.Context, string) error { return errors.New("connection refused") }

func TestLimiterFailsClosedByDefault(t *testing.T) {
	ctx := context.Background()
	closed := NewLimiter(brokenBackend{}, "k", LimiterOptions{})
	if _, err := closed.CheckAllowed(ctx, "id"); !errors.Is(err, ErrLimiterUnavailable) {
		t.Fatalf("expected ErrLimiterUnavailable, got %v", err)
	}
	open := NewLimiter(brokenBackend{}, "k", LimiterOptions{FailOpen: true})
	if d, err := open.CheckAllowed(ctx, "id"); err != nil || !d.Allowed {
		t.Fatalf("fail-open limiter should allow: %+v %v", d, err)
	}
}

func TestCSRFIssueVerifyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, err := f.csrf.Issue(ctx, "sess-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	again, _ := f.csrf.Issue(ctx, "sess-a")
	if again != tok {
		t.Fatalf("unexpired token should be reused")
	}
	if ok, _ := f.csrf.Verify(ctx, "sess-b", tok); ok {
		t.Fatalf("token must not verify for another binding")
	}
	if ok, _ := f.csrf.Verify(ctx, "sess-a", tok+"x"); ok {
		t.Fatalf("tampered token must not verify")
	}
	if ok, err := f.csrf.Verify(ctx, "sess-a", tok); err != nil || !ok {
		t.Fatalf("expected valid token: %v", err)
	}
	if ok, _ := f.csrf.Verify(ctx, "sess-a", tok); ok {
		t.Fatalf("token must be single-use")
	}

	tok, _ = f.csrf.Issue(ctx, "sess-a")
	f.clock.Advance(3601 * time.Second)
	if ok, _ := f.csrf.Verify(ctx, "sess-a", tok); ok {
		t.Fatalf("expired token must not verify")
	}
	fresh, _ := f.csrf.Issue(ctx, "sess-a")
	if fresh == tok {
		t.Fatalf("expected a new token after expiry")
	}
}

// racingCSRFStore lets another request consume the token between the read
// and the consume of the request under test.
type racingCSRFStore struct {
	store.CSRFStore
}

func (s racingCSRFStore) Get(ctx context.Context, bindingID string) (*store.CSRFToken, error) {
	tok, err := s.CSRFStore.Get(ctx, bindingID)
	if err == nil && tok != nil {
		if _, err := s.CSRFStore.Consume(ctx, bindingID, tok.Token); err != nil {
			return nil, err
		}
	}
	return tok, err
}

func TestCSRFVerifyLosesRaceToConcurrentConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok, err := f.csrf.Issue(ctx, "sess-a")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	racing := NewCSRFManager(racingCSRFStore{store.NewCSRFStore(f.db)}, time.Hour, f.clock.Now)
	if ok, err := racing.Verify(ctx, "sess-a", tok); err != nil || ok {
		t.Fatalf("token consumed elsewhere must not verify: %v %v", ok, err)
	}
}

func TestSessionEstablishExpireResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.createAdmin(t, "dana", "editor", "Str0ng!Passw0rd")
	s1, err := f.sessions.Establish(ctx, admin, "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	s2, _ := f.sessions.Establish(ctx, admin, "10.0.0.1", "ua")
	if s1.ID == s2.ID || len(s1.ID) < 43 {
		t.Fatalf("session ids must be fresh and random")
	}
	if s1.Role != "editor" || s1.Username != "dana" {
		t.Fatalf("identity not snapshotted: %+v", s1)
	}
	f.clock.Advance(90 * time.Minute)
	if err := f.sessions.Touch(ctx, s1); err != nil {
		t.Fatalf("touch: %v", err)
	}
	f.clock.Advance(90 * time.Minute)
	if got, _ := f.sessions.Resolve(ctx, s1.ID); got == nil {
		t.Fatalf("touched session should be alive")
	}
	got, err := f.sessions.Resolve(ctx, s2.ID)
	if err != nil || got != nil {
		t.Fatalf("idle session should resolve to nil: %+v %v", got, err)
	}
	if raw, _ := store.NewSessionsStore(f.db).Get(ctx, s2.ID); raw != nil {
		t.Fatalf("expired session must be destroyed")
	}
}

func TestLoginSuccessEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.createAdmin(t, "alice", "super_admin", "Str0ng!Passw0rd")
	id := f.limiter.Identifier("alice", "2001:db8::1")
	if _, err := f.limiter.RecordFailure(ctx, id); err != nil {
		t.Fatalf("seed failure: %v", err)
	}
	res, err := f.login(t, "ALICE@college.edu", "Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.Session.ID == "preauth-1" || res.Session.AdminID != admin.ID {
		t.Fatalf("unexpected session: %+v", res.Session)
	}
	if rec, _ := f.attempts.Get(ctx, id); rec != nil {
		t.Fatalf("limiter should be reset on success")
	}
	stored, _ := f.accounts.Get(ctx, admin.ID)
	if stored.LastLoginAt == nil || !stored.LastLoginAt.Equal(f.clock.Now()) {
		t.Fatalf("last login not persisted: %v", stored.LastLoginAt)
	}
	entries, _ := f.audit.Query(ctx, store.AuditFilter{ActorID: admin.ID, Action: "login"})
	if len(entries) != 1 {
		t.Fatalf("expected one login audit entry, got %d", len(entries))
	}
	if err := f.auth.Logout(ctx, res.Session); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got, _ := f.sessions.Resolve(ctx, res.Session.ID); got != nil {
		t.Fatalf("session should be gone after logout")
	}
}

func TestLoginDoesNotRevealAccountExistence(t *testing.T) {
	f := newFixture(t)
	f.createAdmin(t, "alice", "editor", "Str0ng!Passw0rd")
	_, errWrong := f.login(t, "alice", "Wr0ng!Password")
	_, errUnknown := f.login(t, "mallory", "Wr0ng!Password")
	if !errors.Is(errWrong, ErrInvalidCredentials) || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v / %v", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrong, errUnknown)
	}
}

func TestLoginLockoutBeatsCorrectPassword(t *testing.T) {
	f := newFixture(t)
	f.createAdmin(t, "alice", "editor", "Str0ng!Passw0rd")
	for i := 0; i < 5; i++ {
		if _, err := f.login(t, "alice", "Wr0ng!Password"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := f.login(t, "alice", "Str0ng!Passw0rd")
	var locked *LockedOutError
	if !errors.As(err, &locked) {
		t.Fatalf("expected lockout, got %v", err)
	}
	if locked.RetryAfterSeconds() != 900 {
		t.Fatalf("unexpected retry after: %d", locked.RetryAfterSeconds())
	}
	f.clock.Advance(901 * time.Second)
	if _, err := f.login(t, "alice", "Str0ng!Passw0rd"); err != nil {
		t.Fatalf("login after window: %v", err)
	}
}

func TestLoginRejectsBadTokenBeforeLimiter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createAdmin(t, "alice", "editor", "Str0ng!Passw0rd")
	_, err := f.auth.Login(ctx, LoginInput{Handle: "alice", Password: "nope", CSRFToken: "forged", BindingID: "preauth-1", IP: "2001:db8::1"})
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if rec, _ := f.attempts.Get(ctx, f.limiter.Identifier("alice", "2001:db8::1")); rec != nil {
		t.Fatalf("csrf failure must not touch the limiter")
	}
}

func TestGateRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	policy, err := rbac.NewPolicy([]rbac.Grant{
		{Role: rbac.RoleSuperAdmin, Resource: "settings", Action: rbac.ActionUpdate},
		{Role: rbac.RoleEditor, Resource: "news", Action: rbac.ActionUpdate},
	})
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	gate := NewGate(f.sessions, policy)
	editor, _ := f.sessions.Establish(ctx, f.createAdmin(t, "ed", "editor", "Str0ng!Passw0rd"), "", "")
	boss, _ := f.sessions.Establish(ctx, f.createAdmin(t, "boss", "super_admin", "Str0ng!Passw0rd"), "", "")
	req := Requirement{Resource: "settings", Action: rbac.ActionUpdate}
	if _, err := gate.Authorize(ctx, editor.ID, req); !errors.Is(err, ErrForbidden) {
		t.Fatalf("editor should be forbidden, got %v", err)
	}
	if _, err := gate.Authorize(ctx, boss.ID, req); err != nil {
		t.Fatalf("super_admin should pass: %v", err)
	}
	if _, err := gate.Authorize(ctx, boss.ID, Requirement{Roles: []rbac.Role{rbac.RoleEditor}}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("role requirement is exact match, got %v", err)
	}
	if _, err := gate.Authorize(ctx, "missing", Requirement{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	f.clock.Advance(time.Hour)
	sess, err := gate.Authorize(ctx, editor.ID, Requirement{Resource: "news", Action: rbac.ActionUpdate})
	if err != nil || !sess.LastActivity.Equal(f.clock.Now()) {
		t.Fatalf("authorize should touch the session: %+v %v", sess, err)
	}
}
