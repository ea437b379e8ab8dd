package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func NewSweepCommand() *cobra.Command {
	var (
		grace  time.Duration
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove uploaded files that no record references",
		Long:  "Compares the uploads directory against every file reference held by Models and Materials and removes unreferenced files older than the grace period.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to sweep: %w", err)
			}
			defer a.close()

			if !cmd.Flags().Changed("grace") {
				grace = a.cfg.SweepGrace
			}
			report, err := a.service.SweepOrphans(cmd.Context(), grace, dryRun)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", 24*time.Hour, "minimum age of an unreferenced file before it is removed")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report orphaned files without removing them")

	return cmd
}
