package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func drainCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process due recovery schedules once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sweep, _ := cmd.Flags().GetBool("sweep")
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				if sweep {
					if err := runSweep(ctx, cmd, rt); err != nil {
						return err
					}
				}
				report, err := rt.Scheduler.Drain(ctx)
				if err != nil {
					return fmt.Errorf("drain: %w", err)
				}
				out := cmd.OutOrStdout()
				if report.Skipped {
					fmt.Fprintf(out, "skipped: %s\n", report.Reason)
					return nil
				}
				fmt.Fprintf(out, "claimed=%d completed=%d failed=%d\n", report.Claimed, report.Completed, report.Failed)
				for _, r := range report.Results {
					fmt.Fprintf(out, "  #%d session=%d attempt=%d %s %s\n", r.ScheduleID, r.CartSessionID, r.AttemptNumber, r.Status, r.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("sweep", false, "Requeue stale schedules and expire old sessions first")
	return cmd
}

func sweepCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Requeue stale processing schedules and expire old abandoned sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *runtime) error {
				return runSweep(ctx, cmd, rt)
			})
		},
	}
}

func runSweep(ctx context.Context, cmd *cobra.Command, rt *runtime) error {
	report, err := rt.Scheduler.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "requeued=%d expired=%d\n", report.Requeued, report.Expired)
	return nil
}
