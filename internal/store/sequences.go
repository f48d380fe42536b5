package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LockSequence creates the named counter at 0 if it does not exist, then
// reads it under an exclusive lock held until the unit of work ends.
func (t *Tx) LockSequence(ctx context.Context, name string) (int64, error) {
	if _, err := t.ExecContext(ctx, `
		INSERT INTO sequence_controls (sequence_name, sequence_number) VALUES (?, 0)
		ON CONFLICT (sequence_name) DO NOTHING`, name); err != nil {
		return 0, fmt.Errorf("create sequence %q: %w", name, err)
	}

	var current int64
	err := queryOne(ctx, t, func(rows *sql.Rows) error {
		return rows.Scan(&current)
	}, `SELECT sequence_number FROM sequence_controls WHERE sequence_name = ?`+t.dialect.forUpdate(), name)
	if err != nil {
		return 0, fmt.Errorf("lock sequence %q: %w", name, err)
	}
	return current, nil
}

// SetSequence stores the counter's new value.
func (t *Tx) SetSequence(ctx context.Context, name string, value int64) error {
	res, err := t.ExecContext(ctx,
		`UPDATE sequence_controls SET sequence_number = ? WHERE sequence_name = ?`, value, name)
	if err != nil {
		return fmt.Errorf("set sequence %q: %w", name, err)
	}
	return expectOne(res, fmt.Sprintf("set sequence %q", name))
}

// ReadSequence returns the last number handed out by the named counter, or 0
// when it has never been used.
func (s *Store) ReadSequence(ctx context.Context, name string) (int64, error) {
	var current int64
	err := queryOne(ctx, s, func(rows *sql.Rows) error {
		return rows.Scan(&current)
	}, `SELECT sequence_number FROM sequence_controls WHERE sequence_name = ?`, name)
	if IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence %q: %w", name, err)
	}
	return current, nil
}
