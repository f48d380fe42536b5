package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/disburse/internal/engine"
	"github.com/roach88/disburse/internal/policy"
	"github.com/roach88/disburse/internal/store"
)

// session is the per-invocation wiring: logger, store, policy and engine.
type session struct {
	logger *zap.Logger
	store  *store.Store
	policy policy.Policy
	engine *engine.Engine
}

// newLogger builds a development console logger on w. Info by default,
// Debug when verbose.
func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core)
}

// openSession loads the policy, opens the database (applying the schema)
// and builds the engine. Failures are command errors.
func openSession(opts *RootOptions, errOut io.Writer) (*session, error) {
	logger := newLogger(errOut, opts.Verbose)

	p, err := policy.Load(opts.Policy)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
	}

	logger.Debug("opening database", zap.String("db", opts.Database))
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	engOpts := []engine.Option{
		engine.WithPolicy(p),
		engine.WithLogger(logger),
	}
	if opts.Clock != nil {
		engOpts = append(engOpts, engine.WithClock(opts.Clock))
	}
	if opts.OperationIDs != nil {
		engOpts = append(engOpts, engine.WithOperationIDs(opts.OperationIDs))
	}
	if opts.EventIDs != nil {
		engOpts = append(engOpts, engine.WithEventIDs(opts.EventIDs))
	}

	return &session{
		logger: logger,
		store:  st,
		policy: p,
		engine: engine.New(st, engOpts...),
	}, nil
}

// Close releases the store and flushes the logger.
func (s *session) Close() error {
	_ = s.logger.Sync()
	return s.store.Close()
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so an
// interrupted command rolls back its unit of work.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
