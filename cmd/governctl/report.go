package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func reportCmd(token func() string) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "compliance-report",
		Short: "Summarize audit entries, consents and access logs for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := reportPeriod(from, to, time.Now().UTC())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			e, err := setup(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			actor, err := e.authenticate(token())
			if err != nil {
				return err
			}
			report, err := e.app.Governance.ComplianceReport(ctx, start, end, actor, operatorMeta())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "period start, YYYY-MM-DD (default 30 days before --to)")
	cmd.Flags().StringVar(&to, "to", "", "period end, exclusive, YYYY-MM-DD (default tomorrow)")
	return cmd
}

// reportPeriod parses the flag values. The end date is exclusive.
func reportPeriod(from, to string, now time.Time) (time.Time, time.Time, error) {
	end := now.Truncate(24*time.Hour).AddDate(0, 0, 1)
	if to != "" {
		t, err := time.Parse(dateLayout, to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t
	}
	start := end.AddDate(0, 0, -30)
	if from != "" {
		t, err := time.Parse(dateLayout, from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t
	}
	return start, end, nil
}
