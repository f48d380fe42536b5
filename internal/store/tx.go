package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tx is an open unit of work. It is only valid inside the callback passed to
// Store.WithTx and must not be retained after it returns.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// WithTx runs fn inside one transaction and commits when fn returns nil.
//
// The transaction is rolled back when fn returns an error, when the commit
// fails, when timeout elapses and when fn panics; the panic is re-raised after
// the rollback. A zero timeout leaves the unit of work bounded only by ctx.
func (s *Store) WithTx(ctx context.Context, timeout time.Duration, fn func(ctx context.Context, tx *Tx) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	done := false
	defer func() {
		if done {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) && err != nil {
			err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	tx := &Tx{tx: sqlTx, dialect: s.dialect}

	if s.dialect == Postgres && timeout > 0 {
		// Lets the server abort the session if this process stalls while
		// holding row locks.
		stmt := fmt.Sprintf("SET LOCAL idle_in_transaction_session_timeout = %d", timeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set transaction timeout: %w", err)
		}
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	done = true
	return nil
}

// Dialect reports which database the transaction runs on.
func (t *Tx) Dialect() Dialect {
	return t.dialect
}

// ExecContext executes a statement inside the unit of work. Placeholders are
// written as ? and rebound for the dialect.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

// QueryContext runs a query inside the unit of work. Callers close the rows.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

// insertID inserts one row and returns its generated id. PostgreSQL has no
// LastInsertId, so the statement carries RETURNING id on both dialects.
func (t *Tx) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := t.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// expectOne enforces that a single-row statement touched exactly one row.
func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: %w: affected %d rows, want 1", what, ErrInvariant, n)
	}
	return nil
}
