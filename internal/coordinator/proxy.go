package coordinator

import (
	"context"
	"slices"
	"sync"
)

// Handler implements one host method callable from a remote object. ctx is
// cancelled when the coordinator closes. Handlers run off the context's event
// path and may block; calls of one registration run one at a time in the
// order they were sent, requests each on their own goroutine.
type Handler func(ctx context.Context, args []any) (any, error)

// Proxy is the host side of a registration: a table of named handlers
type Proxy struct {
	name string

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewProxy creates a proxy with no handlers
func NewProxy(name string) *Proxy {
	return &Proxy{
		name:     name,
		handlers: make(map[string]Handler),
	}
}

// Name returns the proxy name used in logs
func (p *Proxy) Name() string {
	return p.name
}

// Handle installs h for method, replacing any previous handler
func (p *Proxy) Handle(method string, h Handler) *Proxy {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[method] = h
	return p
}

// Handler returns the handler for method
func (p *Proxy) Handler(method string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[method]
	return h, ok
}

// Methods lists handled methods in order
func (p *Proxy) Methods() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	methods := make([]string, 0, len(p.handlers))
	for method := range p.handlers {
		methods = append(methods, method)
	}
	slices.Sort(methods)
	return methods
}
