package cli

import (
	"context"
	"fmt"

	"campus-cms/core/store"
	"github.com/spf13/cobra"
)

func newMigrateCmd(open Opener) *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				out := cmd.OutOrStdout()
				if !statusOnly {
					if err := store.ApplyMigrations(ctx, env.DB, env.Logger); err != nil {
						return err
					}
				}
				st, err := store.GetMigrationStatus(ctx, env.DB)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "dialect=%s current=%d latest=%d pending=%t\n", st.Dialect, st.CurrentVersion, st.LatestVersion, st.HasPending)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "only report the migration status")
	return cmd
}
