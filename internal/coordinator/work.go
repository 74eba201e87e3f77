package coordinator

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/correlation"
	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/promise"
)

// Work is one registration: a proxy bound to a remote object in a context
type Work struct {
	ID      id.RegistrationID
	PoolKey string
	Source  string
	Script  string
	Created time.Time

	proxy      *Proxy
	registered *promise.Promise[id.RegistrationID]
	table      *correlation.Table
	entry      *pool.Entry // nil until admitted, and again once released

	// sent is set once register went out to the bound context; until then
	// Call and Request queue on outbox
	sent   bool
	outbox []outbound

	// inbox runs fire-and-forget handlers one at a time, in arrival order
	inbox serial
}

// outbound is a message held until its registration reaches the context
type outbound struct {
	channel string
	args    []any
	syncID  id.SyncID // set for requests
}

// undelivered is a queued request whose message could not be sent
type undelivered struct {
	syncID id.SyncID
	err    error
}

func newWork(regID id.RegistrationID, proxy *Proxy, poolKey, src, script string, timeout time.Duration) *Work {
	return &Work{
		ID:         regID,
		PoolKey:    poolKey,
		Source:     src,
		Script:     script,
		Created:    time.Now(),
		proxy:      proxy,
		registered: promise.New[id.RegistrationID](),
		table:      correlation.New(timeout),
	}
}

// bound reports whether c is the context hosting w
func (w *Work) bound(c pool.Context) bool {
	return w.entry != nil && w.entry.Context() == c
}

// admitted reports whether w holds a place in the pool
func (w *Work) admitted() bool {
	return w.entry != nil
}

// failed returns the error w's registration was rejected with, if any
func (w *Work) failed() error {
	if !w.registered.Settled() {
		return nil
	}
	_, err := w.registered.Result()
	return err
}

func (w *Work) rejectUndelivered(lost []undelivered) {
	for _, u := range lost {
		w.table.Reject(u.syncID, u.err)
	}
}

// teardown settles everything still pending with err
func (w *Work) teardown(err error) {
	w.registered.Reject(err)
	w.table.RejectAll(err)
}

// serial runs functions one at a time in submission order on a goroutine of
// its own, started on demand
type serial struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (s *serial) run(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.drain()
}

func (s *serial) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}
