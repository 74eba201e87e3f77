// Package id provides identifier generation for the coordinator.
//
// Two families of identifiers exist:
//   - Sequences: monotonically increasing positive integers used for
//     registration ids and sync-request ids. They travel over the message
//     protocol, so they stay plain int64 values.
//   - ULIDs: prefixed, lexicographically sortable strings used to name
//     sandbox contexts in logs and the HTTP API (ctx_*, req_*).
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// RegistrationID identifies one host proxy to remote object binding
type RegistrationID int64

// SyncID identifies one outstanding request/response exchange
type SyncID int64

// ContextID identifies an isolated execution context
type ContextID string

// RequestID identifies an API request
type RequestID string

const (
	ContextPrefix = "ctx"
	RequestPrefix = "req"
)

func (id RegistrationID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id SyncID) String() string         { return strconv.FormatInt(int64(id), 10) }
func (id ContextID) String() string      { return string(id) }
func (id RequestID) String() string      { return string(id) }

// ============================================================================
// Sequences
// ============================================================================

// Sequence hands out strictly increasing ids starting at 1.
// The zero value is ready to use.
type Sequence struct {
	last atomic.Int64
}

// Next returns the next id in the sequence
func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}

// Last returns the most recently issued id, 0 if none
func (s *Sequence) Last() int64 {
	return s.last.Load()
}

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewContextID generates a new context ID
func NewContextID() ContextID {
	return ContextID(Default().GenerateWithPrefix(ContextPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
