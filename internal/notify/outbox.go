package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/disburse/internal/store"
)

// Outbox persists events in the notifications table.
type Outbox struct {
	store *store.Store
}

// NewOutbox returns an outbox backed by s.
func NewOutbox(s *store.Store) *Outbox {
	return &Outbox{store: s}
}

// CreateWithTx writes a pending event inside the caller's unit of work.
func (o *Outbox) CreateWithTx(ctx context.Context, tx *store.Tx, e *Event) error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO notifications
		(id, event_type, aggregate_id, correlation_id, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.EventType, e.AggregateID, e.CorrelationID,
		string(e.Payload), e.Status, store.FormatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create notification %s: %w", e.EventType, err)
	}
	return nil
}

// ListPending returns up to limit pending events, oldest first.
func (o *Outbox) ListPending(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := o.store.QueryContext(ctx, `
		SELECT id, event_type, aggregate_id, correlation_id, payload, status, created_at, published_at
		FROM notifications
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list pending notifications: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	return events, nil
}

// MarkPublished moves a pending event to published.
func (o *Outbox) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return o.store.WithTx(ctx, 0, func(ctx context.Context, tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE notifications SET status = ?, published_at = ?
			WHERE id = ? AND status = ?`,
			StatusPublished, store.FormatTime(at), id.String(), StatusPending)
		if err != nil {
			return fmt.Errorf("mark notification published: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark notification published: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("mark notification %s published: %w", id, store.ErrNotFound)
		}
		return nil
	})
}

func scanEvent(rows *sql.Rows) (*Event, error) {
	var (
		e       Event
		payload []byte
	)
	if err := rows.Scan(
		&e.ID, &e.EventType, &e.AggregateID, &e.CorrelationID, &payload, &e.Status,
		store.ScanTime(&e.CreatedAt), store.ScanNullTime(&e.PublishedAt),
	); err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
