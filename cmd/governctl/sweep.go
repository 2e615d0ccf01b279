package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"caregov/internal/retention"
)

func sweepCmd(token func() string) *cobra.Command {
	var (
		auditDays  int
		accessDays int
		dryRun     bool
		force      bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete audit entries and access logs past their retention window",
		Long: "Counts audit entries and access logs older than their retention windows and deletes them.\n" +
			"Without --force only a dry run is performed.",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if !cmd.Flags().Changed("audit-retention-days") {
				auditDays = e.cfg.Retention.AuditDays
			}
			if !cmd.Flags().Changed("access-log-retention-days") {
				accessDays = e.cfg.Retention.AccessLogDays
			}

			report, err := e.app.Governance.RunRetentionSweep(ctx, retention.Request{
				AuditRetentionDays:     auditDays,
				AccessLogRetentionDays: accessDays,
				DryRun:                 dryRun || !force,
				Confirmed:              force,
			}, actor, operatorMeta())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if report.DryRun {
				fmt.Fprintf(out, "dry run: %d audit entries before %s, %d access logs before %s\n",
					report.AuditCandidates, report.AuditCutoff.Format("2006-01-02"),
					report.AccessCandidates, report.AccessCutoff.Format("2006-01-02"))
				if !force {
					fmt.Fprintln(out, "re-run with --force to delete")
				}
			} else {
				fmt.Fprintf(out, "deleted %d audit entries and %d access logs\n", report.AuditDeleted, report.AccessDeleted)
			}
			if report.Warning != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", report.Warning)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&auditDays, "audit-retention-days", retention.DefaultAuditRetentionDays, "retention window for audit entries")
	cmd.Flags().IntVar(&accessDays, "access-log-retention-days", retention.DefaultAccessLogRetentionDays, "retention window for access logs")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only count what would be deleted")
	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}
