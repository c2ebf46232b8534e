package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version     = "0.1.0-dev"
	globalDebug bool
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rootCmd := &cobra.Command{
		Use:           "placesync",
		Short:         "Sync restaurants with the places provider and review detected changes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "Human readable debug logging")

	rootCmd.AddCommand(
		newSyncCmd(),
		newBatchCmd(),
		newReportCmd(),
		newStatsCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}
