// Package notify is a transactional outbox for disbursement notifications.
//
// Events are written in the same unit of work as the state change they
// describe, so a notification exists if and only if the change committed.
// Delivery is left to a dispatcher that polls ListPending.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "PENDING"
	StatusPublished = "PUBLISHED"

	// MaxPayloadBytes bounds a single event payload.
	MaxPayloadBytes = 1 << 20
)

// Event types emitted by the engine.
const (
	EventSchedulesCreated   = "schedules.created"
	EventCOEConfirmed       = "coe.confirmed"
	EventCOEDeclined        = "coe.declined"
	EventOverawardRecorded  = "overaward.recorded"
	EventScheduleReady      = "schedule.ready_to_send"
	EventScheduleSent       = "schedule.sent"
	EventAssessmentRollback = "assessment.rolled_back"
)

var (
	ErrPayloadTooLarge = errors.New("notification payload exceeds max size")
	ErrInvalidEvent    = errors.New("invalid notification")
)

// Event is one row of the outbox.
type Event struct {
	ID            uuid.UUID
	EventType     string
	AggregateID   string
	CorrelationID string
	Payload       []byte
	Status        string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewEvent builds a pending event. The payload is encoded as JSON.
func NewEvent(id uuid.UUID, eventType, aggregateID, correlationID string, payload any, now time.Time) (*Event, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidEvent)
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("%w: event type is required", ErrInvalidEvent)
	}
	if aggregateID == "" {
		return nil, fmt.Errorf("%w: aggregate id is required", ErrInvalidEvent)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidEvent, err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}

	return &Event{
		ID:            id,
		EventType:     eventType,
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
		Payload:       data,
		Status:        StatusPending,
		CreatedAt:     now.UTC(),
	}, nil
}
