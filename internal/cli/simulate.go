package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"merchant-risk-engine/internal/app"
)

var (
	simulateMerchant     string
	simulateInterval     string
	simulateFrom         string
	simulateTo           string
	simulateSeed         int64
	simulateIncidentFrom string
	simulateIncidentTo   string
	simulateLimit        int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Evaluate a deterministic synthetic timeline in memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateFrom == "" || simulateTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, simulateFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}
		to, err := time.Parse(time.RFC3339, simulateTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		opts := app.SimulateOptions{
			MerchantID: simulateMerchant,
			Interval:   simulateInterval,
			From:       from,
			To:         to,
			Seed:       simulateSeed,
			Limit:      simulateLimit,
		}

		if simulateIncidentFrom != "" && simulateIncidentTo != "" {
			incidentFrom, parseErr := time.Parse(time.RFC3339, simulateIncidentFrom)
			if parseErr != nil {
				return fmt.Errorf("invalid --incident-from value: %w", parseErr)
			}
			incidentTo, parseErr := time.Parse(time.RFC3339, simulateIncidentTo)
			if parseErr != nil {
				return fmt.Errorf("invalid --incident-to value: %w", parseErr)
			}
			opts.IncidentFrom = &incidentFrom
			opts.IncidentTo = &incidentTo
		}

		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateMerchant, "merchant", "acme-corp", "Merchant identifier")
	simulateCmd.Flags().StringVar(&simulateInterval, "interval", "1h", "Window interval (30m, 1h or 1d)")
	simulateCmd.Flags().StringVar(&simulateFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	simulateCmd.Flags().StringVar(&simulateTo, "to", "", "End timestamp (RFC3339, exclusive)")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 1, "Deterministic generator seed")
	simulateCmd.Flags().StringVar(&simulateIncidentFrom, "incident-from", "", "Optional incident period start (RFC3339)")
	simulateCmd.Flags().StringVar(&simulateIncidentTo, "incident-to", "", "Optional incident period end (RFC3339)")
	simulateCmd.Flags().IntVar(&simulateLimit, "limit", 0, "Print only the last N windows (0 = all)")
}
