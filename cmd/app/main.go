package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"breakout_go/internal/app"

	"github.com/spf13/cobra"
)

const (
	appName = "breakout"
	version = "v0.1.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily volatility-adaptive breakout engine",
		Version: version,
		Long: `Runs a once-a-day breakout strategy on one symbol: the lookback window
adapts to the change in 30-day volatility, entries fire on a close at the prior
rolling high, and a stop-market order trails new highs.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daily scheduler against live history on a paper account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBootstrap(cmd.Context(), configPath, func(ctx context.Context, b *app.Bootstrap) error {
				return b.RunLive(ctx)
			})
		},
	}

	var csvPath, from, to string
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the strategy over historical daily bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBootstrap(cmd.Context(), configPath, func(ctx context.Context, b *app.Bootstrap) error {
				opts := app.ReplayOptions{CSV: csvPath}
				if csvPath == "" {
					if from == "" {
						from = b.Config.Replay.From
					}
					if to == "" {
						to = b.Config.Replay.To
					}
					var err error
					if opts.From, err = time.Parse("2006-01-02", from); err != nil {
						return fmt.Errorf("--from: %w", err)
					}
					if opts.To, err = time.Parse("2006-01-02", to); err != nil {
						return fmt.Errorf("--to: %w", err)
					}
				}

				res, err := b.RunReplay(ctx, opts)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "sessions:     %d\n", res.Sessions)
				fmt.Fprintf(out, "entries:      %d\n", res.Entries)
				fmt.Fprintf(out, "exits:        %d\n", res.Exits)
				fmt.Fprintf(out, "ratchets:     %d\n", res.Ratchets)
				fmt.Fprintf(out, "data errors:  %d\n", res.DataErrors)
				fmt.Fprintf(out, "final equity: %s (%s%%)\n", res.EndEquity.StringFixed(2), res.ReturnPct().StringFixed(2))
				fmt.Fprintf(out, "lookback:     %d\n", res.Final.Lookback)
				return nil
			})
		},
	}
	replayCmd.Flags().StringVar(&csvPath, "csv", "", "Daily bars CSV (Date,Open,High,Low,Close)")
	replayCmd.Flags().StringVar(&from, "from", "", "Start date YYYY-MM-DD (default from config)")
	replayCmd.Flags().StringVar(&to, "to", "", "End date YYYY-MM-DD (default from config)")

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted state and order journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBootstrap(cmd.Context(), configPath, func(ctx context.Context, b *app.Bootstrap) error {
				return b.PrintState(cmd.OutOrStdout())
			})
		},
	}

	rootCmd.AddCommand(runCmd, replayCmd, stateCmd)

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

func withBootstrap(ctx context.Context, configPath string, fn func(context.Context, *app.Bootstrap) error) error {
	bootstrap := app.NewBootstrap(configPath)
	if err := bootstrap.Initialize(); err != nil {
		return fmt.Errorf("bootstrapping failed: %w", err)
	}
	defer bootstrap.Close()

	err := fn(ctx, bootstrap)
	slog.Info("Shutting down gracefully...")
	return err
}
