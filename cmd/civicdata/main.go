package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/civicdata/internal/config"
	"github.com/malbeclabs/civicdata/internal/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfg = config.Default()
	log *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "civicdata",
	Short: "Ask questions of civic open data",
	Long: `civicdata finds the civic dataset that best matches a question, writes SQL for it
and runs the query over the dataset's CSV.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ApplyEnv(cmd.Root().PersistentFlags(), nil); err != nil {
			return err
		}
		log = logger.New(cfg.Verbose)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "civicdata %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

func init() {
	cfg.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(versionCmd, askCmd, searchCmd, describeCmd, catalogCmd)
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
