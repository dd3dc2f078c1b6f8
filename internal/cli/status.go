package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"merchant-risk-engine/internal/app"
)

var (
	statusJobID string
	statusLimit int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backfill job progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.StatusOptions{
			JobID: statusJobID,
			Limit: statusLimit,
		}
		return getApp().Status(cmd.Context(), opts)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running backfill job",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("usage: cancel <job-id>")
		}
		return getApp().Cancel(cmd.Context(), args[0])
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusJobID, "job", "", "Job identifier (defaults to recent jobs)")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "Number of recent jobs to display")
}
