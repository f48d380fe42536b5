package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/engine"
)

// DefaultDatabase is used when --db is not given.
const DefaultDatabase = "disburse.db"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string // SQLite path or postgres:// DSN
	Policy   string // optional policy file (.cue, .yaml, .yml, .json)

	// Clock, OperationIDs and EventIDs override engine collaborators (for
	// testing). If nil, the engine defaults apply.
	Clock        engine.Clock
	OperationIDs engine.OperationIDGenerator
	EventIDs     engine.EventIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the disburse CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disburse",
		Short: "Disbursement settlement engine",
		Long: `Build disbursement schedules from assessed entitlements, settle them
against prior payments and outstanding overawards, and run enrolment
confirmation through to sending.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logs on stderr)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", DefaultDatabase, "SQLite path or postgres:// DSN")
	cmd.PersistentFlags().StringVar(&opts.Policy, "policy", "", "settlement policy file")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewSchedulesCommand(opts))
	cmd.AddCommand(NewRollbackCommand(opts))
	cmd.AddCommand(NewCOECommand(opts))
	cmd.AddCommand(NewOverawardCommand(opts))
	cmd.AddCommand(NewSequenceCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
