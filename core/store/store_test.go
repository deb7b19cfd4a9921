package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"campus-cms/config"
	"campus-cms/core/utils"
)

func mustTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(dir, "tmp.db")}
	logger := utils.NewLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAccountsFindActiveByHandle(t *testing.T) {
	db := mustTestDB(t)
	s := NewAccountsStore(db)
	ctx := context.Background()
	id, err := s.Create(ctx, &Admin{Username: "Alice", Email: "Alice@College.edu", FullName: "Alice A", Role: "editor", PasswordHash: "h", Active: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, handle := range []string{"alice", "ALICE", "alice@college.edu", " Alice@COLLEGE.edu "} {
		a, err := s.FindActiveByHandle(ctx, handle)
		if err != nil || a == nil || a.ID != id {
			t.Fatalf("handle %q: expected account %d, got %+v err=%v", handle, id, a, err)
		}
	}
	if err := s.SetActive(ctx, id, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if a, err := s.FindActiveByHandle(ctx, "alice"); err != nil || a != nil {
		t.Fatalf("inactive account must not resolve: %+v %v", a, err)
	}
	if _, err := s.Create(ctx, &Admin{Username: "alice", Email: "other@college.edu", Role: "viewer", PasswordHash: "h", Active: true}); err == nil {
		t.Fatalf("expected unique username violation")
	}
}

func TestAccountsLastLoginAndPassword(t *testing.T) {
	db := mustTestDB(t)
	s := NewAccountsStore(db)
	ctx := context.Background()
	id, err := s.Create(ctx, &Admin{Username: "bob", Email: "bob@college.edu", Role: "super_admin", PasswordHash: "old", Active: true, MustChangePassword: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := s.UpdateLastLogin(ctx, id, at); err != nil {
		t.Fatalf("last login: %v", err)
	}
	if err := s.UpdatePassword(ctx, id, "new", false); err != nil {
		t.Fatalf("password: %v", err)
	}
	a, err := s.Get(ctx, id)
	if err != nil || a == nil {
		t.Fatalf("get: %v", err)
	}
	if a.LastLoginAt == nil || !a.LastLoginAt.Equal(at) {
		t.Fatalf("unexpected last login: %v", a.LastLoginAt)
	}
	if a.PasswordHash != "new" || a.MustChangePassword {
		t.Fatalf("password not updated: %+v", a)
	}
	if n, err := s.CountByRole(ctx, "super_admin"); err != nil || n != 1 {
		t.Fatalf("count by role: %d %v", n, err)
	}
}

func TestAttemptsLockAndExpiry(t *testing.T) {
	db := mustTestDB(t)
	s := NewAttemptsStore(db)
	ctx := context.Background()
	now := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	window := 15 * time.Minute
	var rec *AttemptRecord
	var err error
	for i := 1; i <= 5; i++ {
		rec, err = s.RecordFailure(ctx, "id1", now, 5, window)
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
		if rec.Failures != i {
			t.Fatalf("expected %d failures, got %d", i, rec.Failures)
		}
		if i < 5 && !rec.LockedUntil.IsZero() {
			t.Fatalf("locked too early at %d", i)
		}
	}
	if !rec.LockedUntil.Equal(now.Add(window)) {
		t.Fatalf("unexpected lock: %v", rec.LockedUntil)
	}
	later := now.Add(window + time.Second)
	rec, err = s.RecordFailure(ctx, "id1", later, 5, window)
	if err != nil {
		t.Fatalf("record after expiry: %v", err)
	}
	if rec.Failures != 1 || !rec.LockedUntil.IsZero() {
		t.Fatalf("expired lock should restart count: %+v", rec)
	}
	if err := s.Reset(ctx, "id1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got, err := s.Get(ctx, "id1"); err != nil || got != nil {
		t.Fatalf("expected no record after reset: %+v %v", got, err)
	}
}

func TestAttemptsConcurrentFailuresAreCounted(t *testing.T) {
	db := mustTestDB(t)
	s := NewAttemptsStore(db)
	ctx := context.Background()
	now := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.RecordFailure(ctx, "race", now, 100, time.Minute); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()
	rec, err := s.Get(ctx, "race")
	if err != nil || rec == nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Failures != 8 {
		t.Fatalf("expected 8 failures, got %d", rec.Failures)
	}
}

func TestSessionsLifecycle(t *testing.T) {
	db := mustTestDB(t)
	ctx := context.Background()
	adminID, err := NewAccountsStore(db).Create(ctx, &Admin{Username: "carol", Email: "carol@college.edu", Role: "viewer", PasswordHash: "h", Active: true})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	s := NewSessionsStore(db)
	start := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, &SessionRecord{ID: "s1", AdminID: adminID, Username: "carol", Role: "viewer", CreatedAt: start}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, &SessionRecord{ID: "s2", AdminID: adminID, Username: "carol", Role: "viewer", CreatedAt: start}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Touch(ctx, "s1", start.Add(time.Hour)); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := s.Get(ctx, "s1")
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastActivity.Equal(start.Add(time.Hour)) {
		t.Fatalf("unexpected activity: %v", got.LastActivity)
	}
	n, err := s.DeleteIdle(ctx, start.Add(30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("delete idle: %d %v", n, err)
	}
	if gone, _ := s.Get(ctx, "s2"); gone != nil {
		t.Fatalf("idle session should be removed")
	}
	if n, err := s.DeleteForAdmin(ctx, adminID); err != nil || n != 1 {
		t.Fatalf("delete for admin: %d %v", n, err)
	}
}

func TestCSRFStoreReplacesToken(t *testing.T) {
	db := mustTestDB(t)
	s := NewCSRFStore(db)
	ctx := context.Background()
	t0 := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, &CSRFToken{BindingID: "b", Token: "one", IssuedAt: t0}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, &CSRFToken{BindingID: "b", Token: "two", IssuedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	tok, err := s.Get(ctx, "b")
	if err != nil || tok == nil || tok.Token != "two" {
		t.Fatalf("unexpected token: %+v %v", tok, err)
	}
	if n, err := s.DeleteIssuedBefore(ctx, t0.Add(2*time.Minute)); err != nil || n != 1 {
		t.Fatalf("purge: %d %v", n, err)
	}
}

func TestCSRFStoreConsumeOnce(t *testing.T) {
	db := mustTestDB(t)
	s := NewCSRFStore(db)
	ctx := context.Background()
	if err := s.Save(ctx, &CSRFToken{BindingID: "b", Token: "one", IssuedAt: time.Now()}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ok, err := s.Consume(ctx, "b", "other"); err != nil || ok {
		t.Fatalf("mismatched token consumed: %v %v", ok, err)
	}
	if ok, err := s.Consume(ctx, "b", "one"); err != nil || !ok {
		t.Fatalf("expected consume: %v %v", ok, err)
	}
	if ok, err := s.Consume(ctx, "b", "one"); err != nil || ok {
		t.Fatalf("second consume must fail: %v %v", ok, err)
	}
}

func TestAuditQueryFilters(t *testing.T) {
	db := mustTestDB(t)
	s := NewAuditStore(db)
	ctx := context.Background()
	base := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	entries := []AuditEntry{
		{ActorID: 1, ActorName: "alice", Action: "login", CreatedAt: base},
		{ActorID: 1, ActorName: "alice", Action: "create", ResourceType: "news", ResourceID: 7, CreatedAt: base.Add(time.Minute)},
		{ActorID: 2, ActorName: "bob", Action: "delete", ResourceType: "news", ResourceID: 7, CreatedAt: base.Add(2 * time.Minute)},
	}
	for i := range entries {
		if err := s.Append(ctx, &entries[i]); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := s.Query(ctx, AuditFilter{ResourceType: "news", ResourceID: 7})
	if err != nil || len(got) != 2 {
		t.Fatalf("resource filter: %d %v", len(got), err)
	}
	if got[0].Action != "delete" {
		t.Fatalf("expected newest first, got %s", got[0].Action)
	}
	since := base.Add(30 * time.Second)
	got, err = s.Query(ctx, AuditFilter{ActorID: 1, Since: &since})
	if err != nil || len(got) != 1 || got[0].Action != "create" {
		t.Fatalf("actor+since filter: %+v %v", got, err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.AppendTx(ctx, tx, &AuditEntry{ActorID: 3, Action: "update"}); err != nil {
		t.Fatalf("append tx: %v", err)
	}
	_ = tx.Rollback()
	if got, _ := s.Query(ctx, AuditFilter{ActorID: 3}); len(got) != 0 {
		t.Fatalf("rolled back entry must not persist")
	}
}

func TestMigrationStatus(t *testing.T) {
	db := mustTestDB(t)
	st, err := GetMigrationStatus(context.Background(), db)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.HasPending || st.CurrentVersion != st.LatestVersion || st.LatestVersion < 1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if DriverName(db) != "sqlite" {
		t.Fatalf("unexpected driver name: %s", DriverName(db))
	}
}

func TestQuestionToDollar(t *testing.T) {
	got := questionToDollar(`SELECT * FROM t WHERE a=? AND b LIKE ? ESCAPE '\' AND c='?'`)
	want := `SELECT * FROM t WHERE a=$1 AND b LIKE $2 ESCAPE '\' AND c='?'`
	if got != want {
		t.Fatalf("unexpected rewrite: %s", got)
	}
}
