package cli

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"campus-cms/config"
	"campus-cms/core/auth"
	"campus-cms/core/store"
	"campus-cms/core/utils"
)

func testOpener(t *testing.T) (Opener, *sql.DB, *config.AppConfig) {
	t.Helper()
	cfg := &config.AppConfig{
		DBDriver:   "sqlite",
		DBPath:     filepath.Join(t.TempDir(), "cli.db"),
		Pepper:     "cli-pepper",
		SessionTTL: 2 * time.Hour,
		Security:   config.SecurityConfig{CSRFTokenTTL: time.Hour},
	}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	env := &Env{Cfg: cfg, DB: db, Logger: utils.NewLoggerTo(io.Discard, slog.LevelError)}
	return func(context.Context) (*Env, func(), error) { return env, func() {}, nil }, db, cfg
}

func run(t *testing.T, open Opener, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(open, open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateAdminFromStdin(t *testing.T) {
	open, db, cfg := testOpener(t)
	out, err := run(t, open, "Str0ng!Passw0rd\n", "create-admin", "--username", "JDoe", "--email", "JDoe@College.edu", "--role", "viewer", "--password-stdin")
	if err != nil {
		t.Fatalf("create-admin: %v (%s)", err, out)
	}
	a, err := store.NewAccountsStore(db).FindByUsername(context.Background(), "jdoe")
	if err != nil || a == nil {
		t.Fatalf("expected admin, err=%v", err)
	}
	if a.Role != "viewer" || a.Email != "jdoe@college.edu" || a.MustChangePassword {
		t.Fatalf("unexpected admin %+v", a)
	}
	if ok, _ := auth.VerifyPassword("Str0ng!Passw0rd", cfg.Pepper, a.PasswordHash); !ok {
		t.Fatalf("stored hash does not verify")
	}
	if _, err := run(t, open, "Str0ng!Passw0rd\n", "create-admin", "--username", "jdoe", "--email", "x@college.edu", "--password-stdin"); err == nil {
		t.Fatalf("duplicate username must fail")
	}
}

func TestCreateAdminRejectsWeakPasswordAndBadRole(t *testing.T) {
	open, _, _ := testOpener(t)
	if _, err := run(t, open, "short\n", "create-admin", "--username", "weak", "--email", "weak@college.edu", "--password-stdin"); err == nil {
		t.Fatalf("weak password must be rejected")
	}
	if _, err := run(t, open, "", "create-admin", "--username", "boss", "--email", "boss@college.edu", "--role", "owner"); err == nil {
		t.Fatalf("unknown role must be rejected")
	}
}

func TestSetPasswordEndsSessions(t *testing.T) {
	open, db, cfg := testOpener(t)
	if out, err := run(t, open, "", "create-admin", "--username", "ed", "--email", "ed@college.edu"); err != nil || !strings.Contains(out, "generated password") {
		t.Fatalf("create-admin: %v %s", err, out)
	}
	ctx := context.Background()
	a, _ := store.NewAccountsStore(db).FindByUsername(ctx, "ed")
	sessions := store.NewSessionsStore(db)
	now := time.Now().UTC()
	if err := sessions.Save(ctx, &store.SessionRecord{ID: "sess-1", AdminID: a.ID, Username: "ed", Role: a.Role, CreatedAt: now, LastActivity: now}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	out, err := run(t, open, "N3w!Passw0rd99\n", "set-password", "--username", "ed", "--password-stdin")
	if err != nil {
		t.Fatalf("set-password: %v", err)
	}
	if !strings.Contains(out, "1 session(s) ended") {
		t.Fatalf("unexpected output %q", out)
	}
	a, _ = store.NewAccountsStore(db).FindByUsername(ctx, "ed")
	if ok, _ := auth.VerifyPassword("N3w!Passw0rd99", cfg.Pepper, a.PasswordHash); !ok || !a.MustChangePassword {
		t.Fatalf("expected new password with forced change, got %+v", a)
	}
	if got, _ := sessions.Get(ctx, "sess-1"); got != nil {
		t.Fatalf("session should be gone")
	}
}

func TestDisableAdminKeepsLastSuperAdmin(t *testing.T) {
	open, db, _ := testOpener(t)
	if _, err := run(t, open, "", "create-admin", "--username", "root", "--email", "root@college.edu", "--role", "super_admin"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := run(t, open, "", "disable-admin", "--username", "root"); err == nil {
		t.Fatalf("the last super admin must stay active")
	}
	if _, err := run(t, open, "", "create-admin", "--username", "ed", "--email", "ed@college.edu"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := run(t, open, "", "disable-admin", "--username", "ed"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	a, _ := store.NewAccountsStore(db).FindByUsername(context.Background(), "ed")
	if a.Active {
		t.Fatalf("expected ed disabled")
	}
	if _, err := run(t, open, "", "disable-admin", "--username", "ghost"); err == nil {
		t.Fatalf("unknown admin must fail")
	}
}

func TestMigrateStatus(t *testing.T) {
	open, _, _ := testOpener(t)
	out, err := run(t, open, "", "migrate", "--status")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "pending=false") {
		t.Fatalf("unexpected status %q", out)
	}
}
