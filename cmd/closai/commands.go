package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ybdigitall/closai/internal/closet"
	"github.com/ybdigitall/closai/internal/config"
	"github.com/ybdigitall/closai/internal/conversion"
	"github.com/ybdigitall/closai/internal/oracle"
	"github.com/ybdigitall/closai/internal/outfit"
	"github.com/ybdigitall/closai/internal/session"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show subscription status and usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, cfg *config.Config, s *session.Session) error {
			stats := s.Ledger.Statistics()
			rows := []string{
				row("Subscription", renderStatus(s.Subscription.Status())),
				row("Clothing", stats.ClothingUsageText(cfg.Language)),
				row("Outfits today", stats.OutfitUsageText(cfg.Language)),
				row("Theme", string(s.Closet.Theme())),
			}
			if d, ok := s.Ledger.PendingReason(); ok {
				rows = append(rows, row("Blocked", ui.warn.Render(d.Message(cfg.Language))))
			}
			fmt.Fprint(cmd.OutOrStdout(), panel("ClosAI", rows...))
			return nil
		})
	},
}

var (
	itemColor string
	itemStyle string
)

var addItemCmd = &cobra.Command{
	Use:   "add-item <type> [name]",
	Short: "Add a clothing item to the closet",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := closet.NewItem{Type: args[0], Color: itemColor, Style: strings.ToLower(itemStyle)}
		if len(args) == 2 {
			in.Name = args[1]
		}
		return withSession(cmd.Context(), func(_ context.Context, cfg *config.Config, s *session.Session) error {
			item, err := s.Closet.AddItem(in)
			if d, denied := closet.Decision(err); denied {
				fmt.Fprint(cmd.OutOrStdout(), renderDenied(d, cfg.Language))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s %s\n", item.Name, ui.dim.Render(item.ID))
			return nil
		})
	},
}

var removeItemCmd = &cobra.Command{
	Use:   "remove-item <id>",
	Short: "Remove a clothing item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, _ *config.Config, s *session.Session) error {
			if err := s.Closet.RemoveItem(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Removed", args[0])
			return nil
		})
	},
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "List closet items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, cfg *config.Config, s *session.Session) error {
			items := s.Closet.Items()
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "The closet is empty.")
				return nil
			}
			rows := make([]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, row(it.Type.DisplayName(cfg.Language), it.Name+" "+ui.dim.Render(it.ID)))
			}
			fmt.Fprint(cmd.OutOrStdout(), panel("Closet", rows...))
			return nil
		})
	},
}

var (
	generateStyle    string
	generateDescribe string
	generateSeed     uint64
	generateSave     bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an outfit suggestion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefs := outfit.Preferences{Description: generateDescribe}
		if generateStyle != "" {
			st, ok := outfit.ParseOutfitStyle(generateStyle)
			if !ok {
				return fmt.Errorf("unknown style %q", generateStyle)
			}
			prefs.Style = st
		}
		seed := generateSeed
		if !cmd.Flags().Changed("seed") {
			seed = uint64(time.Now().UnixNano())
		}
		return withSession(cmd.Context(), func(_ context.Context, cfg *config.Config, s *session.Session) error {
			out := cmd.OutOrStdout()
			suggestion, err := s.Closet.GenerateOutfit(prefs, seed)
			if d, denied := closet.Decision(err); denied {
				fmt.Fprint(out, renderDenied(d, cfg.Language))
				return nil
			}
			if errors.Is(err, closet.ErrNoSuggestion) {
				fmt.Fprintln(out, "Add a few more items to get an outfit.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprint(out, renderSuggestion(suggestion, cfg.Language))
			if !generateSave {
				return nil
			}
			if err := s.Closet.AddFavorite(suggestion); err != nil {
				if d, denied := closet.Decision(err); denied {
					fmt.Fprint(out, renderDenied(d, cfg.Language))
					return nil
				}
				return err
			}
			fmt.Fprintln(out, "Saved to favourites.")
			return nil
		})
	},
}

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Show today's style suggestion",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, cfg *config.Config, s *session.Session) error {
			suggestion, err := s.Closet.DailySuggestion()
			if d, denied := closet.Decision(err); denied {
				fmt.Fprint(cmd.OutOrStdout(), renderDenied(d, cfg.Language))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSuggestion(suggestion, cfg.Language))
			return nil
		})
	},
}

var themeCmd = &cobra.Command{
	Use:   "theme <auto|light|dark>",
	Short: "Change the app theme",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		theme, err := closet.ParseTheme(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd.Context(), func(_ context.Context, cfg *config.Config, s *session.Session) error {
			err := s.Closet.SetTheme(theme)
			if d, denied := closet.Decision(err); denied {
				fmt.Fprint(cmd.OutOrStdout(), renderDenied(d, cfg.Language))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Theme set to", theme)
			return nil
		})
	},
}

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Show premium plans and why to upgrade",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, cfg *config.Config, s *session.Session) error {
			reasons := s.Paywall(conversion.SurfacePaywall)
			rows := make([]string, 0, 4)
			for _, plan := range s.Adapter.Plans() {
				line := plan.Price()
				if plan.Kind.Recommended() {
					line += " " + ui.ok.Render("recommended")
				}
				rows = append(rows, row(plan.Name(cfg.Language), line))
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, panel("Premium", rows...))
			if len(reasons) > 0 {
				fmt.Fprintln(out, renderReasons(reasons, cfg.Language))
			}
			return nil
		})
	},
}

var purchaseCmd = &cobra.Command{
	Use:   "purchase <weekly|monthly|yearly>",
	Short: "Buy a premium plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, ok := entitlement.ParsePlanKind(args[0])
		if !ok {
			return fmt.Errorf("unknown plan %q", args[0])
		}
		return withSession(cmd.Context(), func(ctx context.Context, cfg *config.Config, s *session.Session) error {
			out := cmd.OutOrStdout()
			outcome, err := s.Adapter.PurchasePlan(ctx, kind)
			if err != nil {
				fmt.Fprintln(out, ui.warn.Render(oracle.UserMessage(err, cfg.Language)))
				return nil
			}
			switch outcome.Kind {
			case oracle.OutcomeVerified:
				fmt.Fprintln(out, ui.ok.Render("Welcome to Premium!"), renderStatus(s.Subscription.Status()))
			case oracle.OutcomeUserCancelled:
				fmt.Fprintln(out, "Purchase cancelled.")
			case oracle.OutcomePending:
				fmt.Fprintln(out, "Purchase pending approval. Premium unlocks once it completes.")
			default:
				fmt.Fprintln(out, ui.warn.Render("Purchase could not be verified."), ui.dim.Render(outcome.Reason))
			}
			return nil
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore previous purchases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, cfg *config.Config, s *session.Session) error {
			out := cmd.OutOrStdout()
			if err := s.Adapter.Restore(ctx); err != nil {
				fmt.Fprintln(out, ui.warn.Render(oracle.UserMessage(err, cfg.Language)))
				return nil
			}
			fmt.Fprintln(out, "Purchases restored:", renderStatus(s.Subscription.Status()))
			return nil
		})
	},
}

var funnelDays int

var funnelCmd = &cobra.Command{
	Use:   "funnel",
	Short: "Summarise upgrade funnel events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if funnelDays <= 0 {
			return fmt.Errorf("--days must be positive, got %d", funnelDays)
		}
		return withSession(cmd.Context(), func(_ context.Context, _ *config.Config, s *session.Session) error {
			store := s.Conversion.Store()
			if store == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "Conversion telemetry is disabled.")
				return nil
			}
			to := time.Now()
			summary, err := store.FunnelSummary(to.AddDate(0, 0, -funnelDays), to)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), panel(fmt.Sprintf("Funnel, last %d days", funnelDays),
				row("Limit blocked", fmt.Sprint(summary.LimitBlocked)),
				row("Paywall views", fmt.Sprint(summary.PaywallViewed)),
				row("Checkouts", fmt.Sprint(summary.CheckoutStarted)),
				row("Completed", fmt.Sprint(summary.CheckoutCompleted)),
				row("Cancelled", fmt.Sprint(summary.CheckoutCancelled)),
				row("Failed", fmt.Sprint(summary.CheckoutFailed)),
				row("Restores", fmt.Sprint(summary.RestoreCompleted)),
				row("Conversion", fmt.Sprintf("%.1f%%", summary.CheckoutConversion()*100)),
			))
			return nil
		})
	},
}

func init() {
	addItemCmd.Flags().StringVar(&itemColor, "color", "", "item colour")
	addItemCmd.Flags().StringVar(&itemStyle, "style", "", "item style (casual, formal, sporty)")

	generateCmd.Flags().StringVar(&generateStyle, "style", "", "preferred style")
	generateCmd.Flags().StringVar(&generateDescribe, "describe", "", "free-text description (premium)")
	generateCmd.Flags().Uint64Var(&generateSeed, "seed", 0, "fixed seed for a repeatable suggestion")
	generateCmd.Flags().BoolVar(&generateSave, "save", false, "save the suggestion to favourites (premium)")

	funnelCmd.Flags().IntVar(&funnelDays, "days", 30, "window in days")
}
