package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/disburse/internal/notify"
	"github.com/roach88/disburse/internal/store"
)

// EventView is one outbox notification.
type EventView struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     string          `json:"created_at"`
}

// NewOutboxCommand creates the outbox command group. A downstream dispatcher
// uses it to drain the notifications the engine commits with each
// operation.
func NewOutboxCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List and acknowledge pending notifications",
	}
	cmd.AddCommand(newOutboxPendingCommand(opts))
	cmd.AddCommand(newOutboxAckCommand(opts))
	return cmd
}

func newOutboxPendingCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending notifications, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				events, err := notify.NewOutbox(s.store).ListPending(ctx, limit)
				if err != nil {
					return err
				}

				views := make([]EventView, len(events))
				for i, e := range events {
					views[i] = EventView{
						ID:            e.ID.String(),
						EventType:     e.EventType,
						AggregateID:   e.AggregateID,
						CorrelationID: e.CorrelationID,
						Payload:       json.RawMessage(e.Payload),
						CreatedAt:     store.FormatTime(e.CreatedAt),
					}
				}
				return f.Success(views, func(w io.Writer) {
					if len(views) == 0 {
						fmt.Fprintln(w, "No pending notifications.")
						return
					}
					for _, v := range views {
						fmt.Fprintf(w, "%s  %-22s %-8s %s\n", v.ID, v.EventType, v.AggregateID, v.CreatedAt)
					}
				})
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum notifications to list")
	return cmd
}

func newOutboxAckCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <event-id>",
		Short: "Mark a notification as published",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid event id %q", args[0]))
				}

				now := time.Now().UTC()
				if opts.Clock != nil {
					now = opts.Clock.Now()
				}
				if err := notify.NewOutbox(s.store).MarkPublished(ctx, id, now); err != nil {
					if store.IsNotFound(err) {
						return WrapExitError(ExitFailure, "notification is not pending", err)
					}
					return err
				}

				out := map[string]string{"id": id.String(), "status": "PUBLISHED"}
				return f.Success(out, func(w io.Writer) { fmt.Fprintf(w, "Acknowledged %s\n", id) })
			})
		},
	}
}
