package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/policy"
	"github.com/roach88/disburse/internal/store"
)

// SystemActor is recorded as the author of ledger entries the engine
// creates on its own.
const SystemActor = "system"

// Notifier receives notifications inside the unit of work that produced
// them. notify.Outbox is the production implementation.
type Notifier interface {
	CreateWithTx(ctx context.Context, tx *store.Tx, event *notify.Event) error
}

// Engine is the disbursement settlement engine. Collaborators are fixed at
// construction; an Engine is safe for concurrent use because all shared
// state lives in the store.
type Engine struct {
	store    *store.Store
	policy   policy.Policy
	logger   *zap.Logger
	clock    Clock
	ids      OperationIDGenerator
	eventIDs EventIDGenerator
	notifier Notifier
	seq      *Sequencer
}

// Option allows configuration of engine collaborators.
type Option func(*Engine)

// WithPolicy sets the settlement policy. Default: policy.Default().
func WithPolicy(p policy.Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithLogger sets the structured logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the wall clock. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithOperationIDs sets the operation id generator. Default: UUIDv7Generator.
func WithOperationIDs(g OperationIDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithEventIDs sets the notification id generator. Default: UUIDv7EventIDs.
func WithEventIDs(g EventIDGenerator) Option {
	return func(e *Engine) {
		e.eventIDs = g
	}
}

// WithNotifier sets where notifications go. Default: the store's outbox.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// New creates an Engine backed by s.
func New(s *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		policy:   policy.Default(),
		logger:   zap.NewNop(),
		clock:    SystemClock{},
		ids:      UUIDv7Generator{},
		eventIDs: UUIDv7EventIDs{},
		notifier: notify.NewOutbox(s),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.seq = NewSequencer(s, e.policy.TransactionTimeout, e.logger)
	return e
}

// Sequencer returns the engine's sequence allocator.
func (e *Engine) Sequencer() *Sequencer {
	return e.seq
}

// Policy returns the settlement policy in effect.
func (e *Engine) Policy() policy.Policy {
	return e.policy
}

func (e *Engine) unitOfWork(ctx context.Context, fn func(ctx context.Context, tx *store.Tx) error) error {
	return e.store.WithTx(ctx, e.policy.TransactionTimeout, fn)
}

// emit queues a notification in the current unit of work.
func (e *Engine) emit(ctx context.Context, tx *store.Tx, operationID, eventType, aggregateID string, payload any) error {
	id, err := e.eventIDs.NewEventID()
	if err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	event, err := notify.NewEvent(id, eventType, aggregateID, operationID, payload, e.clock.Now())
	if err != nil {
		return err
	}
	return e.notifier.CreateWithTx(ctx, tx, event)
}

// finish logs the outcome of a failed operation and returns err unchanged.
func (e *Engine) finish(log *zap.Logger, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case IsPrecondition(err):
		log.Warn(op+" rejected", zap.Error(err))
	default:
		log.Error(op+" failed", zap.Error(err))
	}
	return err
}
