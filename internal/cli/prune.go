package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pruneOlderThan string

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete evaluation results older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan == "" {
			return fmt.Errorf("--older-than must be provided")
		}
		cutoff, err := time.Parse(time.RFC3339, pruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid --older-than value: %w", err)
		}
		return getApp().Prune(cmd.Context(), cutoff)
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "", "Cutoff timestamp (RFC3339); results with earlier window starts are deleted")
}
