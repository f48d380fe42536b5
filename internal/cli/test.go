package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/harness"
)

// NewTestCommand creates the test command.
func NewTestCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run every scenario file in a directory against a fresh in-memory
database, checking step outcomes and assertions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  disburse test ./internal/harness/testdata/scenarios
  disburse test ./scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}
}

func runTests(cmd *cobra.Command, opts *RootOptions, dir string) error {
	f := newFormatter(cmd, opts)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return f.Fail(NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir)))
	}

	var hopts []harness.Option
	if opts.Verbose {
		hopts = append(hopts, harness.WithLogger(newLogger(f.GetErrWriter(), true)))
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	res, err := harness.RunDir(ctx, dir, hopts...)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to run scenarios", err))
	}

	if err := f.Success(res, func(w io.Writer) { writeSuite(w, res) }); err != nil {
		return err
	}

	if res.Failed > 0 {
		exitErr := NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", res.Failed, res.Total))
		exitErr.Reported = true
		return exitErr
	}
	return nil
}

func writeSuite(w io.Writer, res *harness.SuiteResult) {
	for _, fail := range res.Failures {
		name := fail.Scenario
		if name == "" {
			name = fail.ScenarioPath
		}
		fmt.Fprintf(w, "FAIL %s\n  %s\n", name, fail.Error)
	}
	fmt.Fprintf(w, "\n%d scenarios: %d passed, %d failed\n", res.Total, res.Passed, res.Failed)
}
