package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// RollbackOutput is the result of the rollback command.
type RollbackOutput struct {
	AssessmentID       int64 `json:"assessment_id"`
	ReversedOverawards int64 `json:"reversed_overawards"`
	CancelledSchedules int64 `json:"cancelled_schedules"`
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <assessment-id>",
		Short: "Undo unpaid work of an assessment's application",
		Long: `Cancel every pending schedule of the assessment's application and
reverse its overawards that were not yet paid. Sent and ready-to-send
schedules and their ledger history are kept. Running it twice is a no-op.

Example:
  disburse rollback 42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				assessmentID, err := parseID("assessment id", args[0])
				if err != nil {
					return err
				}

				res, err := s.engine.Rollback(ctx, assessmentID)
				if err != nil {
					return err
				}

				out := RollbackOutput{
					AssessmentID:       assessmentID,
					ReversedOverawards: res.ReversedOverawards,
					CancelledSchedules: res.CancelledSchedules,
				}
				return f.Success(out, func(w io.Writer) {
					fmt.Fprintf(w, "Rolled back assessment %d: %d schedule(s) cancelled, %d overaward(s) reversed\n",
						out.AssessmentID, out.CancelledSchedules, out.ReversedOverawards)
				})
			})
		},
	}
}
