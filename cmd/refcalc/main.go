package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fllgameday/refcalc/internal/cli"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := &cobra.Command{
		Use:     "refcalc",
		Short:   "refcalc - robot game referee scoring calculator",
		Version: version,
		Long: `refcalc scores robot game matches at the referee table.
It talks to the Gameday scoring API and keeps a backup of every submitted
score on this device.

Configuration comes from the environment: REFCALC_API_URL,
REFCALC_SESSION_TOKEN, REFCALC_BACKUP_DB, REFCALC_SAVE_DELAY,
REFCALC_PROBE_INTERVAL, REFCALC_REQUEST_TIMEOUT and LOG_LEVEL.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(cli.WhoamiCmd())
	rootCmd.AddCommand(cli.SeasonsCmd())
	rootCmd.AddCommand(cli.MatchesCmd())
	rootCmd.AddCommand(cli.ScoreCmd())
	rootCmd.AddCommand(cli.BackupsCmd())
	rootCmd.AddCommand(cli.TokenCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
