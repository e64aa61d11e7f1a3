package main

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/satsprocure/escrow/internal/config"
	"github.com/satsprocure/escrow/internal/logger"
)

var version = "dev"

// runtimeEnv is what every subcommand needs after configuration loads.
type runtimeEnv struct {
	cfg    *config.Config
	logOut io.Writer
}

func newRootCmd() *cobra.Command {
	env := &runtimeEnv{}

	root := &cobra.Command{
		Use:   "escrowd",
		Short: "Escrow ledger daemon for B2B invoices",
		Long: `escrowd runs the escrow invoice ledger: suppliers issue invoices,
buyers pay into escrow in installments and release funds on receipt,
suppliers cancel and refund unreleased escrow.

Configuration is read from the environment and an optional .env file.`,
		Version:       resolveVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out, err := logger.Setup(cfg.GetLoggerConfig())
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			env.cfg = cfg
			env.logOut = out
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(env),
		newMigrateCmd(env),
		newVersionCmd(),
	)
	return root
}

func execute(cmd *cobra.Command, err error) error {
	if err != nil {
		log := logger.WithComponent("cmd")
		log.Error().Err(err).Str("command", cmd.Name()).Msg("command failed")
	}
	return err
}

func resolveVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the escrowd version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "escrowd", resolveVersion())
		},
	}
}
