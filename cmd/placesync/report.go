package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		window  time.Duration
		publish bool
		out     string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Build the change report workbook",
		Long: `Builds an xlsx workbook with the changes detected in the window, the
places API spend and the pending verification counts. By default the file
is written to --out; --publish sends it to the configured report
destinations instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if window <= 0 {
				return fmt.Errorf("window must be positive, got %s", window)
			}

			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if publish {
				file, err := a.Reports.Publish(cmd.Context(), window)
				if file != nil {
					for _, loc := range file.Locations {
						fmt.Printf("stored %s\n", loc)
					}
				}
				if err != nil {
					return fmt.Errorf("publishing report: %w", err)
				}
				return nil
			}

			file, err := a.Reports.Render(cmd.Context(), window)
			if err != nil {
				return fmt.Errorf("rendering report: %w", err)
			}
			path := filepath.Join(out, file.Name)
			if err := os.WriteFile(path, file.Data, 0o644); err != nil {
				return fmt.Errorf("writing report: %w", err)
			}
			fmt.Printf("wrote %s (%d bytes)\n", path, len(file.Data))
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 7*24*time.Hour, "How far back to report")
	cmd.Flags().BoolVar(&publish, "publish", false, "Publish to the configured output dir and S3 bucket")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Directory for the workbook when not publishing")

	return cmd
}
