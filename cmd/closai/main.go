package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ybdigitall/closai/internal/config"
	"github.com/ybdigitall/closai/internal/logging"
	"github.com/ybdigitall/closai/internal/session"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "closai",
	Short:         "ClosAI - wardrobe assistant with free and premium tiers",
	Long:          `ClosAI manages a personal closet, suggests outfits and meters free-tier usage against a premium subscription.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(addItemCmd)
	rootCmd.AddCommand(removeItemCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(dailyCmd)
	rootCmd.AddCommand(themeCmd)
	rootCmd.AddCommand(plansCmd)
	rootCmd.AddCommand(purchaseCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(funnelCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ClosAI %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Fprintf(out, "Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Fprintf(out, "Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withSession loads configuration, opens and starts a session, runs fn and
// closes the session. A failed start is logged; the session still answers
// from the fallback catalog and a fail-closed status.
func withSession(ctx context.Context, fn func(context.Context, *config.Config, *session.Session) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(cfg.LoggingConfig("closai"))
	defer logging.Shutdown()

	s, _, err := session.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session cleanly")
		}
	}()

	if err := s.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("Session started degraded")
	}
	return fn(ctx, cfg, s)
}
