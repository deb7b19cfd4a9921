package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"campus-cms/config"
	"campus-cms/core/auth"
	"campus-cms/core/store"
)

func TestEnsureDefaultAdminSeedsOnce(t *testing.T) {
	cfg := &config.AppConfig{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "seed.db"), Pepper: "pepper"}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := store.ApplyMigrations(ctx, db, nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	password, err := EnsureDefaultAdmin(ctx, db, cfg, nil)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if password == "" {
		t.Fatalf("expected a generated password")
	}
	accounts := store.NewAccountsStore(db)
	admin, err := accounts.FindByUsername(ctx, "admin")
	if err != nil || admin == nil {
		t.Fatalf("admin not created: %v", err)
	}
	if !admin.MustChangePassword || admin.Role != "super_admin" || !admin.Active {
		t.Fatalf("unexpected admin: %+v", admin)
	}
	if ok, err := auth.VerifyPassword(password, cfg.Pepper, admin.PasswordHash); err != nil || !ok {
		t.Fatalf("generated password does not verify: %v", err)
	}
	again, err := EnsureDefaultAdmin(ctx, db, cfg, nil)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if again != "" {
		t.Fatalf("second run must not create another admin")
	}
}
