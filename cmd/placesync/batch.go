package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/models"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
)

// targetsFile is the on-disk batch description:
//
//	batch_size: 10
//	delay: 2s
//	targets:
//	  - id: 6f1c...
//	    name: Din Tai Fung
//	    context: Paragon
type targetsFile struct {
	BatchSize int                 `yaml:"batch_size"`
	Delay     time.Duration       `yaml:"delay"`
	Targets   []models.SyncTarget `yaml:"targets"`
}

func loadTargets(path string) (*targetsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading targets: %w", err)
	}

	var tf targetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing targets: %w", err)
	}
	if len(tf.Targets) == 0 {
		return nil, errors.New("targets file lists no targets")
	}
	for i, t := range tf.Targets {
		if t.ID == "" {
			return nil, fmt.Errorf("target %d has no id", i)
		}
	}
	return &tf, nil
}

func newBatchCmd() *cobra.Command {
	var (
		batchSize int
		delay     time.Duration
		opts      service.SyncOptions
	)

	cmd := &cobra.Command{
		Use:   "batch <targets.yaml>",
		Short: "Sync a list of restaurants in spaced batches",
		Long: `Reads a YAML file with a "targets" list (id, name, context) and syncs
each entry. batch_size and delay in the file are used unless the flags
override them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tf, err := loadTargets(args[0])
			if err != nil {
				return err
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			batchOpts := service.BatchOptions{
				BatchSize: tf.BatchSize,
				Delay:     tf.Delay,
				Sync:      opts,
				OnProgress: func(p service.BatchProgress) {
					status := "ok"
					if !p.Result.Success {
						status = "failed: " + p.Result.Error
					}
					fmt.Printf("[%d/%d] %s %s\n", p.Done, p.Total, p.Result.EntityID, status)
				},
			}
			if cmd.Flags().Changed("batch-size") {
				batchOpts.BatchSize = batchSize
			}
			if cmd.Flags().Changed("delay") {
				batchOpts.Delay = delay
			}

			result := a.Sync.BatchSync(cmd.Context(), tf.Targets, batchOpts)
			a.Alerts.ReportBatch(cmd.Context(), result)

			fmt.Printf("\nsynced %d of %d in %s (%d failed)\n", result.Synced, result.Total, result.Duration.Round(time.Millisecond), result.Failed)
			for _, id := range result.Closures {
				fmt.Printf("  closed: %s\n", id)
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d targets failed", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", service.DefaultBatchSize, "Targets per batch")
	cmd.Flags().DurationVar(&delay, "delay", service.DefaultBatchDelay, "Pause between batches")
	cmd.Flags().BoolVar(&opts.ForceRefresh, "force", false, "Ignore the cache window")
	cmd.Flags().BoolVar(&opts.FetchPhoto, "photo", false, "Fetch hero images")

	return cmd
}
