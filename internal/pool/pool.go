package pool

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
)

// Entry is one pooled context
type Entry struct {
	ctx      Context
	key      string
	src      string
	status   Status
	position int
	hosted   map[id.RegistrationID]struct{}
}

// Context returns the underlying context
func (e *Entry) Context() Context { return e.ctx }

// Key returns the pool key the context is tagged with
func (e *Entry) Key() string { return e.key }

// Source returns the locator the context was last loaded with
func (e *Entry) Source() string { return e.src }

// Status returns the readiness of the context
func (e *Entry) Status() Status { return e.status }

// Position returns the index of the context in the pool
func (e *Entry) Position() int { return e.position }

// Ready reports whether the context finished loading
func (e *Entry) Ready() bool { return e.status == StatusReady }

// Idle reports whether the context hosts no registration
func (e *Entry) Idle() bool { return len(e.hosted) == 0 }

// Hosts reports whether regID is hosted on the context
func (e *Entry) Hosts(regID id.RegistrationID) bool {
	_, ok := e.hosted[regID]
	return ok
}

// Hosted returns the hosted registration ids in ascending order
func (e *Entry) Hosted() []id.RegistrationID {
	ids := make([]id.RegistrationID, 0, len(e.hosted))
	for regID := range e.hosted {
		ids = append(ids, regID)
	}
	slices.Sort(ids)
	return ids
}

// Pool is the ordered collection of contexts
type Pool struct {
	config   Config
	factory  Factory
	listener Listener

	entries []*Entry
	index   map[string]int          // pool key -> position
	byID    map[id.ContextID]*Entry // context id -> entry
}

// New creates an empty pool. factory may be nil when pooling is disabled.
func New(config Config, factory Factory, listener Listener) *Pool {
	if config.Intn == nil {
		config.Intn = rand.IntN
	}
	return &Pool{
		config:   config,
		factory:  factory,
		listener: listener,
		index:    make(map[string]int),
		byID:     make(map[id.ContextID]*Entry),
	}
}

// Len returns the number of contexts in the pool
func (p *Pool) Len() int {
	return len(p.entries)
}

// Lookup returns the context bound to poolKey, if its tag still matches
func (p *Pool) Lookup(poolKey string) (*Entry, bool) {
	pos, ok := p.index[poolKey]
	if !ok || pos >= len(p.entries) {
		return nil, false
	}
	e := p.entries[pos]
	if e.key != poolKey {
		return nil, false
	}
	return e, true
}

// Entry returns the pooled entry for a context
func (p *Pool) Entry(c Context) (*Entry, bool) {
	e, ok := p.byID[c.ID()]
	return e, ok
}

// Admit finds or creates a context for poolKey. The returned entry may still
// be loading; the caller attaches its registration with Host.
func (p *Pool) Admit(poolKey, src string) (*Entry, Admission, error) {
	if e, ok := p.Lookup(poolKey); ok {
		return e, Reused, nil
	}
	// a binding whose context was retagged is stale
	delete(p.index, poolKey)

	if !p.config.Pooling {
		return nil, 0, fmt.Errorf("%w: no context registered for %q", ErrCapacity, poolKey)
	}

	if e := p.findIdle(); e != nil {
		if err := p.repurpose(e, poolKey, src); err != nil {
			return nil, 0, err
		}
		return e, Repurposed, nil
	}

	if len(p.entries) < p.config.MaxSize && p.factory != nil {
		e, err := p.create(poolKey, src)
		if err != nil {
			return nil, 0, err
		}
		return e, Created, nil
	}

	return nil, 0, ErrCapacity
}

// findIdle probes every context once, starting at a random offset, for one
// that is ready and hosts nothing. The random start spreads reuse across the
// pool instead of always recycling the first slot.
func (p *Pool) findIdle() *Entry {
	n := len(p.entries)
	if n == 0 {
		return nil
	}
	start := p.config.Intn(n)
	for j := 0; j < n; j++ {
		e := p.entries[(start+j)%n]
		if e.Ready() && e.Idle() {
			return e
		}
	}
	return nil
}

func (p *Pool) repurpose(e *Entry, poolKey, src string) error {
	if pos, ok := p.index[e.key]; ok && pos == e.position {
		delete(p.index, e.key)
	}
	e.key = poolKey
	e.src = src
	e.status = StatusLoading
	p.index[poolKey] = e.position

	if err := e.ctx.Load(src); err != nil {
		delete(p.index, poolKey)
		return fmt.Errorf("failed to load %s: %w", src, err)
	}
	return nil
}

func (p *Pool) create(poolKey, src string) (*Entry, error) {
	ctx, err := p.factory(poolKey, p.config.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	e := p.add(ctx, poolKey)
	e.src = src
	if err := ctx.Load(src); err != nil {
		p.remove(e)
		ctx.Close()
		return nil, fmt.Errorf("failed to load %s: %w", src, err)
	}
	return e, nil
}

// Register binds an externally created context to poolKey, superseding any
// previous binding for the key. It fails with ErrCapacity once a pooling pool
// is full.
func (p *Pool) Register(c Context, poolKey string) (*Entry, error) {
	if p.config.Pooling && len(p.entries) >= p.config.MaxSize {
		return nil, ErrCapacity
	}
	if _, dup := p.byID[c.ID()]; dup {
		return nil, fmt.Errorf("context %s already registered", c.ID())
	}
	e := p.add(c, poolKey)
	if c.Loaded() {
		e.status = StatusReady
	}
	return e, nil
}

func (p *Pool) add(c Context, poolKey string) *Entry {
	e := &Entry{
		ctx:      c,
		key:      poolKey,
		status:   StatusLoading,
		position: len(p.entries),
		hosted:   make(map[id.RegistrationID]struct{}),
	}
	p.entries = append(p.entries, e)
	p.index[poolKey] = e.position
	p.byID[c.ID()] = e
	if p.listener != nil {
		c.Attach(p.listener)
	}
	return e
}

// remove drops the most recently added entry after a failed creation
func (p *Pool) remove(e *Entry) {
	if e.position != len(p.entries)-1 {
		return
	}
	p.entries = p.entries[:e.position]
	if pos, ok := p.index[e.key]; ok && pos == e.position {
		delete(p.index, e.key)
	}
	delete(p.byID, e.ctx.ID())
}

// Host attaches a registration to a context
func (p *Pool) Host(e *Entry, regID id.RegistrationID) {
	e.hosted[regID] = struct{}{}
}

// Release detaches a registration. The context stays bound to its key and
// becomes eligible for repurposing once nothing is hosted. Reports whether the
// context is now idle.
func (p *Pool) Release(e *Entry, regID id.RegistrationID) bool {
	delete(e.hosted, regID)
	return e.Idle()
}

// MarkReady records that a context finished loading and returns its entry so
// the caller can flush deferred registrations.
func (p *Pool) MarkReady(c Context) (*Entry, error) {
	e, ok := p.byID[c.ID()]
	if !ok {
		return nil, ErrUnknownContext
	}
	e.status = StatusReady
	return e, nil
}

// Stats returns a snapshot of the pool
func (p *Pool) Stats() Stats {
	stats := Stats{
		Size:     len(p.entries),
		MaxSize:  p.config.MaxSize,
		Pooling:  p.config.Pooling,
		Contexts: make([]ContextStats, 0, len(p.entries)),
	}
	for _, e := range p.entries {
		switch e.status {
		case StatusReady:
			stats.Ready++
		case StatusLoading:
			stats.Loading++
		}
		if e.Idle() {
			stats.Idle++
		}
		stats.Hosted += len(e.hosted)

		bound, _ := p.Lookup(e.key)
		stats.Contexts = append(stats.Contexts, ContextStats{
			ID:       e.ctx.ID(),
			Position: e.position,
			PoolKey:  e.key,
			Source:   e.src,
			Status:   e.status.String(),
			Bound:    bound == e,
			Hosted:   e.Hosted(),
		})
	}
	return stats
}

// Close closes every context and empties the pool
func (p *Pool) Close() error {
	var firstErr error
	for _, e := range p.entries {
		if err := e.ctx.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.entries = nil
	p.index = make(map[string]int)
	p.byID = make(map[id.ContextID]*Entry)
	return firstErr
}
