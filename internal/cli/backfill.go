package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"merchant-risk-engine/internal/app"
)

var (
	backfillMerchant string
	backfillInterval string
	backfillFrom     string
	backfillTo       string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Evaluate a historical range of one merchant's timeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.BackfillOptions{
			MerchantID: backfillMerchant,
			Interval:   backfillInterval,
			From:       from,
			To:         to,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillMerchant, "merchant", "", "Merchant identifier")
	backfillCmd.Flags().StringVar(&backfillInterval, "interval", "1h", "Window interval (30m, 1h or 1d)")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End timestamp (RFC3339, exclusive)")
	_ = backfillCmd.MarkFlagRequired("merchant")
}
