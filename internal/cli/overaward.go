package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/engine"
)

// BalanceOutput is the result of overaward balance.
type BalanceOutput struct {
	StudentID int64           `json:"student_id"`
	Balance   balanceView     `json:"balance"`
	Entries   []overawardView `json:"entries,omitempty"`
}

// NewOverawardCommand creates the overaward command group.
func NewOverawardCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overaward",
		Short: "Inspect and record student overaward debt",
	}
	cmd.AddCommand(newOverawardBalanceCommand(opts))
	cmd.AddCommand(newOverawardAddCommand(opts))
	return cmd
}

func newOverawardBalanceCommand(opts *RootOptions) *cobra.Command {
	var entries bool

	cmd := &cobra.Command{
		Use:   "balance <student-id>",
		Short: "Show a student's outstanding overaward per value code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				studentID, err := parseID("student id", args[0])
				if err != nil {
					return err
				}

				balance, err := s.engine.OverawardBalance(ctx, studentID)
				if err != nil {
					return err
				}
				out := BalanceOutput{StudentID: studentID, Balance: balanceView(balance)}

				if entries {
					ledger, err := s.store.ListOverawards(ctx, studentID)
					if err != nil {
						return err
					}
					out.Entries = newOverawardViews(ledger)
				}

				return f.Success(out, func(w io.Writer) {
					writeBalance(w, studentID, out.Balance)
					for _, e := range out.Entries {
						fmt.Fprintf(w, "  #%d %-6s %10s  %-22s %s %s\n",
							e.ID, e.Code, e.Amount, e.Origin, e.AddedAt, e.State)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&entries, "entries", false, "also list every ledger entry, reversed ones included")
	return cmd
}

func newOverawardAddCommand(opts *RootOptions) *cobra.Command {
	var (
		studentID int64
		code      string
		amount    string
		note      string
		addedBy   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a manual overaward entry",
		Long: `Append a manual entry to a student's overaward ledger. A positive
amount is debt, a negative amount a repayment or correction. Manual entries
are never reversed by a rollback.

Example:
  disburse overaward add --student 7 --code CSLF --amount 150 --by ministry --note "legacy debt"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				value, err := parseAmount("amount", amount)
				if err != nil {
					return err
				}

				entry, err := s.engine.AddManualOveraward(ctx, engine.ManualOveraward{
					StudentID: studentID,
					ValueCode: code,
					Amount:    value,
					Note:      note,
					AddedBy:   addedBy,
				})
				if err != nil {
					return err
				}

				view := newOverawardView(*entry)
				return f.Success(view, func(w io.Writer) {
					fmt.Fprintf(w, "Recorded overaward #%d for student %d: %s %s\n",
						view.ID, view.StudentID, view.Code, view.Amount)
				})
			})
		},
	}

	cmd.Flags().Int64Var(&studentID, "student", 0, "student id (required)")
	cmd.Flags().StringVar(&code, "code", "", "value code, e.g. CSLF (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "signed amount (required)")
	cmd.Flags().StringVar(&note, "note", "", "free-text note")
	cmd.Flags().StringVar(&addedBy, "by", "", "who records the entry (required)")
	return cmd
}
