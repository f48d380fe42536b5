package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/engine"
)

// NewCOECommand creates the coe command group.
func NewCOECommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coe",
		Short: "Confirm or decline enrolment for a schedule",
	}
	cmd.AddCommand(newCOEConfirmCommand(opts))
	cmd.AddCommand(newCOEDeclineCommand(opts))
	return cmd
}

func newCOEConfirmCommand(opts *RootOptions) *cobra.Command {
	var (
		remittance  string
		actor       string
		confirmedAt string
		allowLate   bool
	)

	cmd := &cobra.Command{
		Use:   "confirm <schedule-id>",
		Short: "Confirm enrolment and assign a document number",
		Long: `Confirm enrolment for a schedule. The schedule must be the first
still-required one of the application, the confirmation date must fall in
the approval window, and the tuition remittance may not exceed what the
schedule and the offering allow.

Examples:
  disburse coe confirm 7 --actor registrar --remittance 500
  disburse coe confirm 7 --actor registrar --confirmed-at 2024-01-20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				scheduleID, err := parseID("schedule id", args[0])
				if err != nil {
					return err
				}
				amount, err := parseAmount("remittance", remittance)
				if err != nil {
					return err
				}
				at, err := parseInstant("confirmed-at", confirmedAt)
				if err != nil {
					return err
				}

				res, err := s.engine.ConfirmEnrolment(ctx, engine.ConfirmRequest{
					ScheduleID:                 scheduleID,
					TuitionRemittance:          amount,
					Actor:                      actor,
					ConfirmedAt:                at,
					AllowOutsideApprovalPeriod: allowLate,
				})
				if err != nil {
					return err
				}

				return f.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "Enrolment confirmed for schedule %d: document number %d\n",
						res.ScheduleID, res.DocumentNumber)
					if res.ApplicationCompleted {
						fmt.Fprintln(w, "Application completed.")
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&remittance, "remittance", "0", "tuition remittance requested")
	cmd.Flags().StringVar(&actor, "actor", "", "who confirms (required)")
	cmd.Flags().StringVar(&confirmedAt, "confirmed-at", "", "confirmation date (default now)")
	cmd.Flags().BoolVar(&allowLate, "allow-outside-approval-period", false, "skip the approval window check")
	return cmd
}

func newCOEDeclineCommand(opts *RootOptions) *cobra.Command {
	var reason, actor string

	cmd := &cobra.Command{
		Use:   "decline <schedule-id>",
		Short: "Decline enrolment; later required schedules are declined too",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				scheduleID, err := parseID("schedule id", args[0])
				if err != nil {
					return err
				}

				res, err := s.engine.DeclineEnrolment(ctx, engine.DeclineRequest{
					ScheduleID: scheduleID,
					Reason:     reason,
					Actor:      actor,
				})
				if err != nil {
					return err
				}

				return f.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "Enrolment declined for schedule %d\n", res.ScheduleID)
					if len(res.CascadedScheduleIDs) > 0 {
						fmt.Fprintf(w, "Also declined: %v\n", res.CascadedScheduleIDs)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why enrolment is declined (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "who declines (required)")
	return cmd
}
