package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"campus-cms/core/auth"
	"campus-cms/core/rbac"
	"campus-cms/core/store"
	"campus-cms/core/utils"
	"github.com/spf13/cobra"
)

func newCreateAdminCmd(open Opener) *cobra.Command {
	var (
		username      string
		email         string
		fullName      string
		role          string
		passwordStdin bool
	)
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account",
		Example: `  cmsctl create-admin --username jdoe --email jdoe@college.edu --role editor
  printf '%s\n' "$PW" | cmsctl create-admin --username jdoe --email jdoe@college.edu --password-stdin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				password, generated, err := readOrGeneratePassword(cmd.InOrStdin(), passwordStdin)
				if err != nil {
					return err
				}
				a, err := createAdmin(ctx, env, username, email, fullName, role, password)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "created admin %q (id %d, role %s)\n", a.Username, a.ID, a.Role)
				if generated {
					fmt.Fprintf(out, "generated password: %s\n", password)
					fmt.Fprintln(out, "the password must be changed at first login")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name (required)")
	cmd.Flags().StringVar(&email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&fullName, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(rbac.RoleEditor), "super_admin, editor or viewer")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of generating one")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func createAdmin(ctx context.Context, env *Env, username, email, fullName, roleRaw, password string) (*store.Admin, error) {
	username = utils.NormalizeHandle(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := utils.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := utils.ValidateEmail(email); err != nil {
		return nil, err
	}
	role, err := rbac.ParseRole(roleRaw)
	if err != nil {
		return nil, err
	}
	if err := utils.ValidatePassword(password); err != nil {
		return nil, err
	}
	accounts := store.NewAccountsStore(env.DB)
	if existing, err := accounts.FindByUsername(ctx, username); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, fmt.Errorf("admin %q already exists", username)
	}
	hash, err := auth.HashPassword(password, env.Cfg.Pepper)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(fullName) == "" {
		fullName = username
	}
	a := &store.Admin{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		Role:         string(role),
		PasswordHash: hash,
		Active:       true,
	}
	id, err := accounts.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	a.ID = id
	audit(ctx, env, &store.AuditEntry{ActorName: "cmsctl", Action: "create", ResourceType: "admins", ResourceID: id, Description: "created admin " + username})
	return a, nil
}

func newSetPasswordCmd(open Opener) *cobra.Command {
	var (
		username      string
		passwordStdin bool
		keep          bool
	)
	cmd := &cobra.Command{
		Use:   "set-password",
		Short: "Replace an admin's password and end their sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				password, generated, err := readOrGeneratePassword(cmd.InOrStdin(), passwordStdin)
				if err != nil {
					return err
				}
				if err := utils.ValidatePassword(password); err != nil {
					return err
				}
				a, err := findAdmin(ctx, env, username)
				if err != nil {
					return err
				}
				hash, err := auth.HashPassword(password, env.Cfg.Pepper)
				if err != nil {
					return err
				}
				mustChange := generated || !keep
				if err := store.NewAccountsStore(env.DB).UpdatePassword(ctx, a.ID, hash, mustChange); err != nil {
					return err
				}
				ended, err := store.NewSessionsStore(env.DB).DeleteForAdmin(ctx, a.ID)
				if err != nil {
					return err
				}
				audit(ctx, env, &store.AuditEntry{ActorName: "cmsctl", Action: "password_reset", ResourceType: "admins", ResourceID: a.ID, Description: "password reset for " + a.Username})
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "password updated for %q, %d session(s) ended\n", a.Username, ended)
				if generated {
					fmt.Fprintf(out, "generated password: %s\n", password)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name (required)")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin instead of generating one")
	cmd.Flags().BoolVar(&keep, "no-force-change", false, "do not require a change at next login")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newDisableAdminCmd(open Opener) *cobra.Command {
	var (
		username string
		enable   bool
	)
	cmd := &cobra.Command{
		Use:   "disable-admin",
		Short: "Disable an admin account and end its sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				a, err := findAdmin(ctx, env, username)
				if err != nil {
					return err
				}
				accounts := store.NewAccountsStore(env.DB)
				if enable {
					if err := accounts.SetActive(ctx, a.ID, true); err != nil {
						return err
					}
					audit(ctx, env, &store.AuditEntry{ActorName: "cmsctl", Action: "enable", ResourceType: "admins", ResourceID: a.ID, Description: "enabled " + a.Username})
					fmt.Fprintf(cmd.OutOrStdout(), "admin %q enabled\n", a.Username)
					return nil
				}
				if a.Role == string(rbac.RoleSuperAdmin) && a.Active {
					n, err := accounts.CountByRole(ctx, string(rbac.RoleSuperAdmin))
					if err != nil {
						return err
					}
					if n <= 1 {
						return errors.New("refusing to disable the last active super admin")
					}
				}
				if err := accounts.SetActive(ctx, a.ID, false); err != nil {
					return err
				}
				ended, err := store.NewSessionsStore(env.DB).DeleteForAdmin(ctx, a.ID)
				if err != nil {
					return err
				}
				audit(ctx, env, &store.AuditEntry{ActorName: "cmsctl", Action: "disable", ResourceType: "admins", ResourceID: a.ID, Description: "disabled " + a.Username})
				fmt.Fprintf(cmd.OutOrStdout(), "admin %q disabled, %d session(s) ended\n", a.Username, ended)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "login name (required)")
	cmd.Flags().BoolVar(&enable, "enable", false, "re-enable instead of disabling")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newListAdminsCmd(open Opener) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:     "list-admins",
		Aliases: []string{"admins"},
		Short:   "List admin accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				admins, err := store.NewAccountsStore(env.DB).List(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(admins)
				}
				fmt.Fprintf(out, "%-6s %-24s %-32s %-12s %-6s\n", "ID", "USERNAME", "EMAIL", "ROLE", "ACTIVE")
				for _, a := range admins {
					fmt.Fprintf(out, "%-6d %-24s %-32s %-12s %-6t\n", a.ID, a.Username, a.Email, a.Role, a.Active)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func findAdmin(ctx context.Context, env *Env, username string) (*store.Admin, error) {
	a, err := store.NewAccountsStore(env.DB).FindByUsername(ctx, utils.NormalizeHandle(username))
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("admin %q not found", username)
	}
	return a, nil
}

// readOrGeneratePassword reads the first line of in, or generates a
// policy-compliant password when fromStdin is false.
func readOrGeneratePassword(in io.Reader, fromStdin bool) (string, bool, error) {
	if !fromStdin {
		body, err := utils.RandURLString(18)
		if err != nil {
			return "", false, err
		}
		return "Cm9!" + body, true, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", false, errors.New("no password on stdin")
	}
	return line, false, nil
}

func audit(ctx context.Context, env *Env, e *store.AuditEntry) {
	if err := store.NewAuditStore(env.DB).Append(ctx, e); err != nil && env.Logger != nil {
		env.Logger.Errorf("audit %s: %v", e.Action, err)
	}
}
