package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var window time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show pending verifications, recent changes and API spend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()

			pending, err := a.Detector.PendingVerificationStats(ctx)
			if err != nil {
				return fmt.Errorf("loading verification stats: %w", err)
			}
			fmt.Printf("Pending verification: %d (critical %d, high %d, normal %d)\n",
				pending.Total, pending.Critical, pending.High, pending.Normal)

			summary, err := a.Detector.RecentChangesSummary(ctx, window)
			if err != nil {
				return fmt.Errorf("loading change summary: %w", err)
			}
			fmt.Printf("Changes since %s: %d (%d closures)\n", summary.Since.Format(time.RFC3339), summary.Total, summary.Closures)
			for changeType, n := range summary.ByType {
				fmt.Printf("  %-16s %d\n", changeType, n)
			}

			costs, err := a.Places.CostSince(ctx, time.Now().Add(-window))
			if err != nil {
				return fmt.Errorf("loading usage costs: %w", err)
			}
			fmt.Printf("API spend: $%.4f over %d calls (%d failed), today $%.4f\n",
				costs.TotalCost, costs.Calls, costs.Failures, costs.TodayCost)
			for _, b := range costs.Breakdown {
				fmt.Printf("  %-12s %-14s %6d calls  $%.4f\n", b.APIName, b.Operation, b.Calls, b.Cost)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "How far back to look")

	return cmd
}
