package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satsprocure/escrow/api"
	"github.com/satsprocure/escrow/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(env *runtimeEnv) *cobra.Command {
	var (
		addr      string
		noMigrate bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				env.cfg.HTTPAddr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return execute(cmd, serve(ctx, env, !noMigrate))
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides ESCROW_HTTP_ADDR)")
	cmd.Flags().BoolVar(&noMigrate, "no-migrate", false, "skip store migrations on start")
	return cmd
}

func serve(ctx context.Context, env *runtimeEnv, migrate bool) error {
	log := logger.WithComponent("serve")

	s, err := buildStack(ctx, env, migrate)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.close(); err != nil {
			log.Warn().Err(err).Msg("ledger shutdown")
		}
	}()

	restored, err := s.start(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("invoices", restored).Msg("escrow balances restored")

	opts := []api.Option{api.WithBook(s.book)}
	if s.metrics != nil {
		opts = append(opts, api.WithMetrics(s.metrics.Handler()))
	}

	srv := &http.Server{
		Addr:              env.cfg.HTTPAddr,
		Handler:           api.New(s.ledger, opts...).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("store", env.cfg.Store).
			Bool("redis_locks", env.cfg.RedisAddress != "").
			Bool("metrics", s.metrics != nil).
			Msg("escrowd listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
