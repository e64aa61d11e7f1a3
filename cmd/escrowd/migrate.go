package main

import (
	"github.com/spf13/cobra"

	"github.com/satsprocure/escrow/internal/logger"
)

func newMigrateCmd(env *runtimeEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logger.WithComponent("migrate")
			ctx := cmd.Context()

			st, err := openStore(ctx, env.cfg)
			if err != nil {
				return execute(cmd, err)
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return execute(cmd, err)
			}
			log.Info().Str("store", env.cfg.Store).Msg("migrations applied")
			return nil
		},
	}
}
