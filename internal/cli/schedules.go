package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/engine"
	"github.com/roach88/disburse/internal/store"
)

// CreateOutput is the result of schedules create.
type CreateOutput struct {
	OperationID     string                `json:"operation_id"`
	AssessmentID    int64                 `json:"assessment_id"`
	EntitlementHash string                `json:"entitlement_hash"`
	Rollback        engine.RollbackResult `json:"rollback"`
	Schedules       []scheduleView        `json:"schedules"`
	Overawards      []overawardView       `json:"overawards"`
}

// ShowOutput is the result of schedules show.
type ShowOutput struct {
	AssessmentID      int64          `json:"assessment_id"`
	TriggerType       string         `json:"trigger_type"`
	StudentID         int64          `json:"student_id"`
	ApplicationNumber string         `json:"application_number"`
	ApplicationStatus string         `json:"application_status"`
	EntitlementHash   string         `json:"entitlement_hash,omitempty"`
	Schedules         []scheduleView `json:"schedules"`
}

// PrepareOutput is the result of schedules prepare.
type PrepareOutput struct {
	OperationID string          `json:"operation_id"`
	Schedule    scheduleView    `json:"schedule"`
	Deductions  []overawardView `json:"deductions"`
}

// NewSchedulesCommand creates the schedules command group.
func NewSchedulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Create, inspect and send disbursement schedules",
	}
	cmd.AddCommand(newSchedulesCreateCommand(opts))
	cmd.AddCommand(newSchedulesShowCommand(opts))
	cmd.AddCommand(newSchedulesPrepareCommand(opts))
	cmd.AddCommand(newSchedulesMarkSentCommand(opts))
	return cmd
}

func newSchedulesCreateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "create <assessment-id> <entitlement-file>",
		Short: "Build schedules for an assessment from its entitlement",
		Long: `Build the disbursement schedules of an assessment.

The entitlement file (.yaml, .yml, .json or .cue) lists the proposed
schedules. For a reassessment, earlier unpaid work of the application is
rolled back first and amounts already paid are subtracted; a loan paid
beyond the new entitlement is recorded as an overaward.

Exit codes:
  0 - Schedules created
  1 - Operation rejected (see error code)
  2 - Command error

Example:
  disburse schedules create 42 entitlement.yaml`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				assessmentID, err := parseID("assessment id", args[0])
				if err != nil {
					return err
				}
				proposed, err := LoadEntitlement(args[1])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to load entitlement", err)
				}

				res, err := s.engine.CreateSchedules(ctx, assessmentID, proposed)
				if err != nil {
					return err
				}

				out := CreateOutput{
					OperationID:     res.OperationID,
					AssessmentID:    res.AssessmentID,
					EntitlementHash: res.EntitlementHash,
					Rollback:        res.Rollback,
					Schedules:       newScheduleViews(res.Schedules),
					Overawards:      newOverawardViews(res.Overawards),
				}
				return f.Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "Created %d schedule(s) for assessment %d\n", len(out.Schedules), out.AssessmentID)
					fmt.Fprintf(w, "Entitlement: %s\n", out.EntitlementHash)
					if out.Rollback.CancelledSchedules > 0 || out.Rollback.ReversedOverawards > 0 {
						fmt.Fprintf(w, "Rolled back: %d schedule(s) cancelled, %d overaward(s) reversed\n",
							out.Rollback.CancelledSchedules, out.Rollback.ReversedOverawards)
					}
					for _, sv := range out.Schedules {
						writeSchedule(w, sv)
					}
					for _, o := range out.Overawards {
						fmt.Fprintf(w, "Overaward recorded: %s %s\n", o.Code, o.Amount)
					}
				})
			})
		},
	}
}

func newSchedulesShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <assessment-id>",
		Short: "Show the schedules of an assessment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				assessmentID, err := parseID("assessment id", args[0])
				if err != nil {
					return err
				}

				ac, err := s.store.ReadAssessment(ctx, assessmentID)
				if store.IsNotFound(err) {
					return &engine.Error{
						Code:    engine.ErrCodeAssessmentNotFound,
						Message: fmt.Sprintf("assessment %d not found", assessmentID),
					}
				}
				if err != nil {
					return err
				}
				schedules, err := s.store.ReadSchedules(ctx, assessmentID)
				if err != nil {
					return err
				}

				out := ShowOutput{
					AssessmentID:      assessmentID,
					TriggerType:       string(ac.Assessment.TriggerType),
					StudentID:         ac.Application.StudentID,
					ApplicationNumber: ac.Application.ApplicationNumber,
					ApplicationStatus: string(ac.Application.Status),
					EntitlementHash:   ac.Assessment.EntitlementHash,
					Schedules:         newScheduleViews(schedules),
				}
				return f.Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "Assessment %d (%s) application %s [%s]\n",
						out.AssessmentID, out.TriggerType, out.ApplicationNumber, out.ApplicationStatus)
					if len(out.Schedules) == 0 {
						fmt.Fprintln(w, "No schedules.")
					}
					for _, sv := range out.Schedules {
						writeSchedule(w, sv)
					}
				})
			})
		},
	}
}

func newSchedulesPrepareCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare <schedule-id>",
		Short: "Deduct outstanding overawards and mark a schedule ready to send",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				scheduleID, err := parseID("schedule id", args[0])
				if err != nil {
					return err
				}

				res, err := s.engine.PrepareForSending(ctx, scheduleID)
				if err != nil {
					return err
				}

				out := PrepareOutput{
					OperationID: res.OperationID,
					Schedule:    newScheduleView(*res.Schedule),
					Deductions:  newOverawardViews(res.Deductions),
				}
				return f.Success(out, func(w io.Writer) {
					writeSchedule(w, out.Schedule)
					for _, d := range out.Deductions {
						fmt.Fprintf(w, "Deducted overaward: %s %s\n", d.Code, d.Amount.Neg())
					}
				})
			})
		},
	}
}

func newSchedulesMarkSentCommand(opts *RootOptions) *cobra.Command {
	var sentAt string

	cmd := &cobra.Command{
		Use:   "mark-sent <schedule-id>",
		Short: "Record that a ready schedule was sent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				scheduleID, err := parseID("schedule id", args[0])
				if err != nil {
					return err
				}
				at, err := parseInstant("sent-at", sentAt)
				if err != nil {
					return err
				}

				sched, err := s.engine.MarkSent(ctx, scheduleID, at)
				if err != nil {
					return err
				}

				view := newScheduleView(*sched)
				return f.Success(view, func(w io.Writer) { writeSchedule(w, view) })
			})
		},
	}

	cmd.Flags().StringVar(&sentAt, "sent-at", "", "send time (default now)")
	return cmd
}
