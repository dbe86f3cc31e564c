package main

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/ops"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Keep the registry warm and serve health, readiness and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}

		server := ops.NewServer(ops.ServerConfig{
			Address:       net.JoinHostPort(cfg.Ops.Host, strconv.Itoa(cfg.Ops.Port)),
			EnableMetrics: cfg.Telemetry.EnableMetrics && cfg.Telemetry.UsePrometheus,
			RatePerMinute: cfg.Ops.RatePerMinute,
			Checks: map[string]ops.ReadyCheck{
				"registry": func(ctx context.Context) error {
					if !a.registry.Warmed() {
						return errors.New("chain and token lists are not cached")
					}
					return nil
				},
				"aptos_node": func(ctx context.Context) error {
					_, err := a.chain.LedgerInfo(ctx)
					return err
				},
			},
		})

		go keepWarm(ctx, a, cfg.Registry.TTL/2)

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			log.Info().Msg("received shutdown signal")
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	},
}

// keepWarm refreshes the registry cache before it expires.
func keepWarm(ctx context.Context, a *app, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	warm := func() {
		if err := a.registry.Warm(ctx); err != nil {
			log.Warn().Err(err).Msg("registry warm-up failed")
			return
		}
		log.Debug().Msg("registry warmed")
	}

	warm()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			warm()
		}
	}
}
