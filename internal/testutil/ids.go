package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDGenerator hands out predictable scan identifiers for tests.
//
// IDs have the form "<prefix>-0001", "<prefix>-0002", ... which keeps golden
// output stable where a UUIDv7 would differ on every run.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequenceIDGenerator creates a generator. An empty prefix defaults to "scan".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "scan"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next identifier.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%s-%04d", g.prefix, g.next)
}
