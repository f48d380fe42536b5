package testutil

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SequentialIDs generates operation ids "<prefix>-0001", "<prefix>-0002", ...
//
// Unlike engine.FixedGenerator, which replays a fixed list, SequentialIDs
// never repeats, so every operation of a scenario stays distinguishable in
// logs and golden traces while remaining deterministic.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewSequentialIDs creates a generator. An empty prefix means "op".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "op"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id. Implements engine.OperationIDGenerator.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%04d", g.prefix, g.seq)
}

// SequentialEventIDs generates notification ids whose last eight bytes
// count up from 1: 00000000-0000-0000-0000-000000000001, ...
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialEventIDs struct {
	mu  sync.Mutex
	seq uint64
}

// NewSequentialEventIDs creates a generator starting at 1.
func NewSequentialEventIDs() *SequentialEventIDs {
	return &SequentialEventIDs{}
}

// NewEventID returns the next id. Implements engine.EventIDGenerator.
func (g *SequentialEventIDs) NewEventID() (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], g.seq)
	return id, nil
}
