package cli

import (
	"context"
	"fmt"

	"campus-cms/core/housekeeping"
	"campus-cms/core/store"
	"github.com/spf13/cobra"
)

func newHousekeepingCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "housekeeping",
		Short: "Run one housekeeping pass now",
		Long:  "Purge idle sessions, expired CSRF tokens and stale login-attempt rows once and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, open, func(ctx context.Context, env *Env) error {
				j := housekeeping.New(housekeeping.Options{
					Schedule:   env.Cfg.Housekeeping.Schedule,
					SessionTTL: env.Cfg.SessionTTL,
					CSRFTTL:    env.Cfg.Security.CSRFTokenTTL,
				}, store.NewSessionsStore(env.DB), store.NewCSRFStore(env.DB), store.NewAttemptsStore(env.DB), env.Logger)
				rep, err := j.RunOnce(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "sessions=%d tokens=%d attempts=%d\n", rep.Sessions, rep.Tokens, rep.Attempts)
				return err
			})
		},
	}
}
