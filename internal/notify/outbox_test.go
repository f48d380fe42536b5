package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/disburse/internal/store"
	"github.com/roach88/disburse/internal/testutil"
)

func write(t *testing.T, s *store.Store, o *Outbox, events ...*Event) {
	t.Helper()
	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *store.Tx) error {
		for _, e := range events {
			if err := o.CreateWithTx(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func event(t *testing.T, eventType string, at time.Time) *Event {
	t.Helper()
	e, err := NewEvent(uuid.Must(uuid.NewV7()), eventType, "1", "op-1", map[string]string{"k": "v"}, at)
	require.NoError(t, err)
	return e
}

func TestOutbox_ListPendingOldestFirst(t *testing.T) {
	s := testutil.OpenStore(t)
	o := NewOutbox(s)

	later := event(t, EventScheduleSent, now.Add(time.Hour))
	earlier := event(t, EventScheduleReady, now)
	write(t, s, o, later, earlier)

	got, err := o.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, earlier.ID, got[0].ID)
	assert.Equal(t, later.ID, got[1].ID)
	assert.Equal(t, now, got[0].CreatedAt)
	assert.JSONEq(t, `{"k":"v"}`, string(got[0].Payload))
	assert.Equal(t, "op-1", got[0].CorrelationID)

	limited, err := o.ListPending(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := o.ListPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestOutbox_MarkPublished(t *testing.T) {
	ctx := context.Background()
	s := testutil.OpenStore(t)
	o := NewOutbox(s)
	e := event(t, EventCOEDeclined, now)
	write(t, s, o, e)

	require.NoError(t, o.MarkPublished(ctx, e.ID, now.Add(time.Minute)))

	pending, err := o.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = o.MarkPublished(ctx, e.ID, now)
	assert.ErrorIs(t, err, store.ErrNotFound, "already published")
	assert.ErrorIs(t, o.MarkPublished(ctx, uuid.Must(uuid.NewV7()), now), store.ErrNotFound)
}

func TestOutbox_RolledBackUnitOfWorkLeavesNoEvent(t *testing.T) {
	s := testutil.OpenStore(t)
	o := NewOutbox(s)

	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *store.Tx) error {
		require.NoError(t, o.CreateWithTx(ctx, tx, event(t, EventCOEConfirmed, now)))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	pending, err := o.ListPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutbox_CreateWithTxRejectsNil(t *testing.T) {
	s := testutil.OpenStore(t)
	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *store.Tx) error {
		return NewOutbox(s).CreateWithTx(ctx, tx, nil)
	})
	assert.ErrorIs(t, err, ErrInvalidEvent)
}
