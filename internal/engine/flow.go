package engine

import (
	"sync"

	"github.com/google/uuid"
)

// OperationIDGenerator generates correlation ids for engine operations.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type OperationIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 operation ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids in order, then repeats the last
// one. Used for deterministic logs and golden traces.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("op-1", "op-2")
//	gen.Generate() // "op-1"
//	gen.Generate() // "op-2"
//	gen.Generate() // "op-2"
func NewFixedGenerator(ids ...string) *FixedGenerator {
	if len(ids) == 0 {
		ids = []string{"op-fixed"}
	}
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.ids[g.idx]
	if g.idx < len(g.ids)-1 {
		g.idx++
	}
	return id
}

// EventIDGenerator generates outbox notification ids.
// Implemented by UUIDv7EventIDs (production); tests inject a deterministic
// source so payloads and ids can be compared verbatim.
type EventIDGenerator interface {
	NewEventID() (uuid.UUID, error)
}

// UUIDv7EventIDs generates time-sortable UUIDv7 notification ids.
type UUIDv7EventIDs struct{}

// NewEventID returns a fresh UUIDv7.
func (UUIDv7EventIDs) NewEventID() (uuid.UUID, error) {
	return uuid.NewV7()
}
