package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRows(t *testing.T, s *Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestWithTx_Commits(t *testing.T) {
	s := createTestStore(t)

	withTx(t, s, func(ctx context.Context, tx *Tx) error {
		_, err := tx.LockSequence(ctx, "doc")
		return err
	})

	assert.Equal(t, 1, countRows(t, s, "sequence_controls"))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	boom := errors.New("boom")

	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.LockSequence(ctx, "doc"); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countRows(t, s, "sequence_controls"))
}

func TestWithTx_RollsBackAndRepanics(t *testing.T) {
	s := createTestStore(t)

	assert.PanicsWithValue(t, "kaboom", func() {
		_ = s.WithTx(context.Background(), 0, func(ctx context.Context, tx *Tx) error {
			if _, err := tx.LockSequence(ctx, "doc"); err != nil {
				return err
			}
			panic("kaboom")
		})
	})

	assert.Equal(t, 0, countRows(t, s, "sequence_controls"))

	// The connection must be usable again after the panic.
	withTx(t, s, func(ctx context.Context, tx *Tx) error {
		_, err := tx.LockSequence(ctx, "after")
		return err
	})
	assert.Equal(t, 1, countRows(t, s, "sequence_controls"))
}

func TestWithTx_TimeoutAborts(t *testing.T) {
	s := createTestStore(t)

	err := s.WithTx(context.Background(), 200*time.Millisecond, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.LockSequence(ctx, "doc"); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, countRows(t, s, "sequence_controls"))
}

func TestExpectOne(t *testing.T) {
	s := createTestStore(t)

	err := s.WithTx(context.Background(), 0, func(ctx context.Context, tx *Tx) error {
		return tx.SetSequence(ctx, "missing", 5)
	})
	assert.ErrorIs(t, err, ErrInvariant)
	assert.ErrorContains(t, err, "affected 0 rows")
}
