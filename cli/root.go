// Package cli holds the cmsctl operator commands.
package cli

import (
	"context"
	"database/sql"
	"fmt"

	"campus-cms/config"
	"campus-cms/core/store"
	"campus-cms/core/utils"
	"github.com/spf13/cobra"
)

// Env is what every command needs once the config and database are open.
type Env struct {
	Cfg    *config.AppConfig
	DB     *sql.DB
	Logger *utils.Logger
}

// Opener prepares an Env and returns a function that releases it.
type Opener func(ctx context.Context) (*Env, func(), error)

// OpenFromConfig loads the configuration, opens the database and applies
// migrations unless migrate is false.
func OpenFromConfig(migrate bool) Opener {
	return func(ctx context.Context) (*Env, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		logger := utils.NewLogger()
		db, err := store.NewDB(cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("db: %w", err)
		}
		if migrate {
			if err := store.ApplyMigrations(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		return &Env{Cfg: cfg, DB: db, Logger: logger}, func() { _ = db.Close() }, nil
	}
}

// Execute runs cmsctl against the configured database.
func Execute() error {
	return NewRootCmd(OpenFromConfig(true), OpenFromConfig(false)).Execute()
}

// NewRootCmd builds the command tree. Admin commands use open; migrate uses
// openRaw so it can report status before applying anything.
func NewRootCmd(open, openRaw Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cmsctl",
		Short:         "Operate the campus CMS",
		Long:          "cmsctl manages admin accounts, database migrations and housekeeping for the campus CMS.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newCreateAdminCmd(open))
	cmd.AddCommand(newSetPasswordCmd(open))
	cmd.AddCommand(newDisableAdminCmd(open))
	cmd.AddCommand(newListAdminsCmd(open))
	cmd.AddCommand(newMigrateCmd(openRaw))
	cmd.AddCommand(newHousekeepingCmd(open))
	return cmd
}

func withEnv(cmd *cobra.Command, open Opener, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, release, err := open(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, env)
}
