package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/domain"
)

// sessionFunc is the body of a command that needs the database.
type sessionFunc func(ctx context.Context, s *session, f *OutputFormatter) error

// withSession opens a session for the duration of fn and reports any error
// it returns through the formatter.
func withSession(cmd *cobra.Command, opts *RootOptions, fn sessionFunc) error {
	f := newFormatter(cmd, opts)

	s, err := openSession(opts, cmd.ErrOrStderr())
	if err != nil {
		return f.Fail(err)
	}
	defer s.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := fn(ctx, s, f); err != nil {
		if IsReported(err) {
			return err
		}
		return f.Fail(err)
	}
	return nil
}

func parseID(name, arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: must be a positive integer", name, arg))
	}
	return id, nil
}

func parseAmount(name, arg string) (decimal.Decimal, error) {
	if strings.TrimSpace(arg) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(arg))
	if err != nil {
		return decimal.Decimal{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid %s %q: must be a decimal amount", name, arg))
	}
	return d, nil
}

// parseInstant reads a --flag time: empty means now, a calendar date means
// midnight UTC, otherwise RFC 3339.
func parseInstant(name, arg string) (time.Time, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(domain.DateLayout, arg); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, arg)
	if err != nil {
		return time.Time{}, NewExitError(ExitCommandError,
			fmt.Sprintf("invalid %s %q: want %s or RFC 3339", name, arg, domain.DateLayout))
	}
	return t.UTC(), nil
}
