// Package correlation tracks outstanding request/response exchanges.
//
// A Table maps sync-request ids to pending promises. Each entry is settled at
// most once: Resolve, Reject and the optional timeout all race to remove the
// entry, and whichever removes it settles the promise. Settlement for an id that
// is unknown or already removed is a silent no-op, since replies may arrive
// after a timeout rejected the request locally.
package correlation

import (
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/promise"
)

// ErrTimeout rejects requests whose reply did not arrive within the table timeout
var ErrTimeout = errors.New("timeout")

type entry struct {
	promise *promise.Promise[any]
	timer   *time.Timer
}

// Table is a correlation table for one registration
type Table struct {
	timeout time.Duration
	seq     id.Sequence

	mu      sync.Mutex
	pending map[id.SyncID]*entry
}

// New creates a table. A positive timeout rejects each request with ErrTimeout
// if it is still pending after that long.
func New(timeout time.Duration) *Table {
	return &Table{
		timeout: timeout,
		pending: make(map[id.SyncID]*entry),
	}
}

// Allocate reserves a fresh sync id and returns the promise its reply settles
func (t *Table) Allocate() (id.SyncID, *promise.Promise[any]) {
	syncID := id.SyncID(t.seq.Next())
	e := &entry{promise: promise.New[any]()}

	t.mu.Lock()
	t.pending[syncID] = e
	if t.timeout > 0 {
		e.timer = time.AfterFunc(t.timeout, func() {
			t.Reject(syncID, ErrTimeout)
		})
	}
	t.mu.Unlock()

	return syncID, e.promise
}

// Resolve settles syncID with value. Reports whether an entry was settled.
func (t *Table) Resolve(syncID id.SyncID, value any) bool {
	e := t.take(syncID)
	if e == nil {
		return false
	}
	return e.promise.Resolve(value)
}

// Reject settles syncID with err. Reports whether an entry was settled.
func (t *Table) Reject(syncID id.SyncID, err error) bool {
	e := t.take(syncID)
	if e == nil {
		return false
	}
	return e.promise.Reject(err)
}

// RejectAll settles every outstanding entry with err and empties the table
func (t *Table) RejectAll(err error) int {
	t.mu.Lock()
	entries := t.pending
	t.pending = make(map[id.SyncID]*entry)
	t.mu.Unlock()

	for _, e := range entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		e.promise.Reject(err)
	}
	return len(entries)
}

// Len returns the number of outstanding entries
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// take removes the entry for syncID and stops its timer
func (t *Table) take(syncID id.SyncID) *entry {
	t.mu.Lock()
	e, ok := t.pending[syncID]
	if ok {
		delete(t.pending, syncID)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}
