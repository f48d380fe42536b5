package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/disburse/internal/store"
)

// SequenceFunc runs with the number about to be consumed, inside the same
// unit of work that consumes it.
type SequenceFunc func(ctx context.Context, tx *store.Tx, next int64) error

// Sequencer hands out gapless numbers from named counters. A number is
// consumed only when the work attached to it commits.
type Sequencer struct {
	store   *store.Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewSequencer creates a Sequencer whose units of work are bounded by
// timeout.
func NewSequencer(s *store.Store, timeout time.Duration, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{store: s, timeout: timeout, logger: logger}
}

// ConsumeNext locks the named counter, calls fn with current+1 and stores
// the new value only when fn succeeds, all in one unit of work. An error
// from fn is returned unchanged and rolls back both the number and
// everything fn wrote. A nil fn just consumes a number.
func (q *Sequencer) ConsumeNext(ctx context.Context, name string, fn SequenceFunc) (int64, error) {
	if name == "" {
		return 0, newError(ErrCodeInvalidInput, nil, "sequence name is required")
	}

	var next int64
	err := q.store.WithTx(ctx, q.timeout, func(ctx context.Context, tx *store.Tx) error {
		n, err := consumeNextInTx(ctx, tx, name, fn)
		next = n
		return err
	})
	if err != nil {
		return 0, err
	}

	q.logger.Debug("sequence consumed", zap.String("sequence", name), zap.Int64("number", next))
	return next, nil
}

func consumeNextInTx(ctx context.Context, tx *store.Tx, name string, fn SequenceFunc) (int64, error) {
	current, err := tx.LockSequence(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("consume next: %w", err)
	}
	next := current + 1

	if fn != nil {
		if err := fn(ctx, tx, next); err != nil {
			return 0, err
		}
	}

	if err := tx.SetSequence(ctx, name, next); err != nil {
		return 0, fmt.Errorf("consume next: %w", err)
	}
	return next, nil
}
