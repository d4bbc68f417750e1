package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ybdigitall/closai/internal/config"
	"github.com/ybdigitall/closai/internal/session"
)

var (
	metricsShutdownTimeout = 5 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a long-lived session that listens for transaction updates",
	Long:  `Runs one session until interrupted, applying renewals and revocations as they arrive and exposing Prometheus metrics when CLOSAI_METRICS_ADDR is set. Log level and funnel collection follow edits to the .env file.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return withSession(ctx, runServe)
	},
}

func runServe(ctx context.Context, cfg *config.Config, s *session.Session) error {
	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr)
	}

	watcher, err := config.NewWatcher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Config reload disabled")
	} else {
		watcher.OnChange(s.ApplyRuntime)
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
		defer watcher.Stop()
	}

	id, updates := s.Subscription.Subscribe()
	defer s.Subscription.Unsubscribe(id)

	log.Info().Str("status", s.Subscription.Status().String()).Msg("Serving ClosAI session")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down")
			return nil
		case status, ok := <-updates:
			if !ok {
				return nil
			}
			log.Info().Str("status", status.String()).Msg("Subscription status changed")
		}
	}
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Failed to shut down metrics server cleanly")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("Metrics server stopped unexpectedly")
		}
	}()
}
