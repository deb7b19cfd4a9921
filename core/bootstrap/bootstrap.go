package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	"campus-cms/config"
	"campus-cms/core/auth"
	"campus-cms/core/rbac"
	"campus-cms/core/store"
	"campus-cms/core/utils"
)

const defaultAdminUsername = "admin"

// EnsureDefaultAdmin creates an initial super admin when no active one exists.
// The generated password is returned once and must be changed on first login.
func EnsureDefaultAdmin(ctx context.Context, db *sql.DB, cfg *config.AppConfig, logger *utils.Logger) (string, error) {
	return EnsureDefaultAdminWithStore(ctx, store.NewAccountsStore(db), cfg, logger)
}

func EnsureDefaultAdminWithStore(ctx context.Context, accounts store.AccountsStore, cfg *config.AppConfig, logger *utils.Logger) (string, error) {
	n, err := accounts.CountByRole(ctx, string(rbac.RoleSuperAdmin))
	if err != nil {
		return "", err
	}
	if n > 0 {
		return "", nil
	}
	existing, err := accounts.FindByUsername(ctx, defaultAdminUsername)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", fmt.Errorf("no active super admin and %q exists with role %s; use cmsctl to recover", defaultAdminUsername, existing.Role)
	}
	password, err := generatePassword()
	if err != nil {
		return "", err
	}
	hash, err := auth.HashPassword(password, cfg.Pepper)
	if err != nil {
		return "", err
	}
	_, err = accounts.Create(ctx, &store.Admin{
		Username:           defaultAdminUsername,
		Email:              "admin@localhost.localdomain",
		FullName:           "Default Administrator",
		Role:               string(rbac.RoleSuperAdmin),
		PasswordHash:       hash,
		MustChangePassword: true,
		Active:             true,
	})
	if err != nil {
		return "", err
	}
	if logger != nil {
		logger.Printf("default admin created; password must be changed")
	}
	return password, nil
}

// generatePassword satisfies the provisioning policy by construction.
func generatePassword() (string, error) {
	body, err := utils.RandURLString(18)
	if err != nil {
		return "", err
	}
	pw := "Cm9!" + body
	if err := utils.ValidatePassword(pw); err != nil {
		return "", err
	}
	return pw, nil
}
