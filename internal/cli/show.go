package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"merchant-risk-engine/internal/app"
)

var (
	showMerchant string
	showInterval string
	showLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent evaluations of one risk timeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			MerchantID: showMerchant,
			Interval:   showInterval,
			Limit:      showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showMerchant, "merchant", "", "Merchant identifier")
	showCmd.Flags().StringVar(&showInterval, "interval", "1h", "Window interval (30m, 1h or 1d)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of evaluations to display")
	_ = showCmd.MarkFlagRequired("merchant")
}
