package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
)

func newSyncCmd() *cobra.Command {
	var (
		name        string
		contextName string
		opts        service.SyncOptions
	)

	cmd := &cobra.Command{
		Use:   "sync <restaurant-id>",
		Short: "Refresh one restaurant from the places provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.Sync.SyncEntity(cmd.Context(), args[0], name, contextName, opts)
			printSyncResult(result)
			if !result.Success {
				return fmt.Errorf("sync failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Search name (defaults to the stored name)")
	cmd.Flags().StringVar(&contextName, "context", "", "Location context such as the mall (defaults to the stored mall)")
	cmd.Flags().BoolVar(&opts.ForceRefresh, "force", false, "Ignore the cache window")
	cmd.Flags().BoolVar(&opts.FetchPhoto, "photo", true, "Fetch a hero image when the current one is not on the CDN")
	cmd.Flags().StringVar(&opts.RegionHint, "region", "", "Override the region hint appended to the search query")

	return cmd
}

func printSyncResult(r service.SyncResult) {
	switch {
	case !r.Success:
		fmt.Printf("%s: failed: %s\n", r.EntityID, r.Error)
		return
	case !r.Refreshed:
		fmt.Printf("%s: %s\n", r.EntityID, r.Message)
		return
	}

	fmt.Printf("%s: refreshed\n", r.EntityID)
	for _, change := range r.Changes {
		fmt.Printf("  - %s\n", change)
	}
	if r.Detection != nil {
		fmt.Printf("  auto-applied: %d, queued: %d, critical: %d, low confidence: %d\n",
			len(r.Detection.AutoApplied), r.Detection.Queued, len(r.Detection.Critical), len(r.Detection.LowConfidence))
	}
}
