package pool

import (
	"errors"

	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
)

var (
	// ErrCapacity means no context can be reused or created ("too busy")
	ErrCapacity = errors.New("too busy")
	// ErrUnknownContext means a lifecycle event named a context the pool does not hold
	ErrUnknownContext = errors.New("context not in pool")
)

// Status is the readiness of a pooled context
type Status int

const (
	StatusLoading Status = iota
	StatusReady
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Admission tells how Admit found its context
type Admission int

const (
	Reused Admission = iota
	Repurposed
	Created
)

// String returns the string representation of the admission path
func (a Admission) String() string {
	switch a {
	case Reused:
		return "reused"
	case Repurposed:
		return "repurposed"
	case Created:
		return "created"
	default:
		return "unknown"
	}
}

// Listener receives lifecycle and inbound message events from a context
type Listener interface {
	// DidFinishLoad fires when the context finished loading its source
	DidFinishLoad(c Context)
	// DOMReady fires when the loaded document can be scripted
	DOMReady(c Context)
	// IPCMessage delivers a message the context sent to its host
	IPCMessage(c Context, channel string, args []any)
}

// Context is an isolated execution environment reachable only by messages
type Context interface {
	ID() id.ContextID
	// Attach installs the listener that receives this context's events
	Attach(l Listener)
	// Load navigates the context to src; completion is reported by DidFinishLoad
	Load(src string) error
	// Loaded reports whether the current source finished loading
	Loaded() bool
	// Send delivers a message into the context without waiting
	Send(channel string, args ...any) error
	Close() error
}

// ContextOptions are applied to every context the pool creates
type ContextOptions struct {
	Preload   string // script or locator evaluated before each page
	UserAgent string
}

// Factory creates a context for a pool key. The pool attaches its listener and
// starts the load itself.
type Factory func(poolKey string, opts ContextOptions) (Context, error)

// Config defines pool behavior
type Config struct {
	// Pooling enables automatic creation and reuse of contexts
	Pooling bool
	// MaxSize caps the number of live contexts while Pooling is on
	MaxSize int
	// Context is handed to the factory for each created context
	Context ContextOptions
	// Intn returns a random int in [0, n); nil uses math/rand
	Intn func(n int) int
}

// Stats is a snapshot of the pool
type Stats struct {
	Size     int            `json:"size"`
	MaxSize  int            `json:"max_size"`
	Pooling  bool           `json:"pooling"`
	Ready    int            `json:"ready"`
	Loading  int            `json:"loading"`
	Idle     int            `json:"idle"`
	Hosted   int            `json:"hosted"`
	Contexts []ContextStats `json:"contexts"`
}

// ContextStats describes one pooled context
type ContextStats struct {
	ID       id.ContextID        `json:"id"`
	Position int                 `json:"position"`
	PoolKey  string              `json:"pool_key"`
	Source   string              `json:"source"`
	Status   string              `json:"status"`
	Bound    bool                `json:"bound"`
	Hosted   []id.RegistrationID `json:"hosted"`
}
