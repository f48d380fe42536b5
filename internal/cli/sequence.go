package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// SequenceOutput is the result of the sequence commands.
type SequenceOutput struct {
	Name   string `json:"name"`
	Number int64  `json:"number"`
}

// NewSequenceCommand creates the sequence command group.
func NewSequenceCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Read or consume named gap-free counters",
	}
	cmd.AddCommand(newSequenceNextCommand(opts))
	cmd.AddCommand(newSequenceShowCommand(opts))
	return cmd
}

func newSequenceNextCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next <name>",
		Short: "Consume and print the next number of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				n, err := s.engine.Sequencer().ConsumeNext(ctx, args[0], nil)
				if err != nil {
					return err
				}
				out := SequenceOutput{Name: args[0], Number: n}
				return f.Success(out, func(w io.Writer) { fmt.Fprintln(w, n) })
			})
		},
	}
}

func newSequenceShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [name]",
		Short: "Print the last number consumed from a sequence",
		Long: `Print the last number consumed from a sequence without consuming one.
Defaults to the policy's document number sequence.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				name := s.policy.DocumentSequence
				if len(args) == 1 {
					name = args[0]
				}
				n, err := s.store.ReadSequence(ctx, name)
				if err != nil {
					return err
				}
				out := SequenceOutput{Name: name, Number: n}
				return f.Success(out, func(w io.Writer) { fmt.Fprintf(w, "%s: %d\n", name, n) })
			})
		},
	}
}
