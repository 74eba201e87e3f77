package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/GriffinCanCode/webviewrpc/internal/protocol"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/channel"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/promise"
	"go.uber.org/zap"
)

// Coordinator manages registrations over a pool of contexts
type Coordinator struct {
	opts     Options
	logger   *zap.Logger
	observer Observer
	seq      id.Sequence

	// ctx is handed to proxy handlers and cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pool    *pool.Pool
	works   map[id.RegistrationID]*Work
	proxies map[*Proxy]id.RegistrationID
	closed  bool
}

// Stats is a snapshot of the coordinator
type Stats struct {
	Registrations int        `json:"registrations"` // admitted into the pool
	Pending       int        `json:"pending"`
	Requests      int        `json:"requests"`
	Pool          pool.Stats `json:"pool"`
}

// New creates a coordinator. factory creates contexts on demand while
// BackgroundMode is on; it may be nil otherwise.
func New(opts Options, factory pool.Factory, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		opts:     opts,
		logger:   logger,
		observer: nopObserver{},
		ctx:      ctx,
		cancel:   cancel,
		works:    make(map[id.RegistrationID]*Work),
		proxies:  make(map[*Proxy]id.RegistrationID),
	}
	c.pool = pool.New(pool.Config{
		Pooling: opts.BackgroundMode,
		MaxSize: opts.WebviewPoolMaxLength,
		Context: pool.ContextOptions{
			Preload:   opts.Preload,
			UserAgent: opts.UserAgent,
		},
	}, factory, &bridge{c: c})
	return c
}

// SetObserver installs the metrics observer
func (c *Coordinator) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// Options returns the options the coordinator was created with
func (c *Coordinator) Options() Options {
	return c.opts
}

func validate(src, script string) error {
	if !protocol.ValidLocator(src) {
		return fmt.Errorf("%w: src not invalid: %q", ErrValidation, src)
	}
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("%w: script not invalid", ErrValidation)
	}
	return nil
}

// Register binds proxy to the object script evaluates to, inside a context for
// poolKey loaded from src. A proxy that is already registered is unregistered
// first. The promise resolves with the registration id once the remote object
// exists.
func (c *Coordinator) Register(proxy *Proxy, poolKey, src, script string) *promise.Promise[id.RegistrationID] {
	if proxy == nil {
		c.observe().RecordRegistration("invalid")
		return promise.Rejected[id.RegistrationID](fmt.Errorf("%w: proxy missing", ErrValidation))
	}
	if err := validate(src, script); err != nil {
		c.observe().RecordRegistration("invalid")
		return promise.Rejected[id.RegistrationID](err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return promise.Rejected[id.RegistrationID](ErrClosed)
	}

	var superseded *Work
	if prev, ok := c.proxies[proxy]; ok {
		superseded = c.detachLocked(prev)
	}

	w := newWork(id.RegistrationID(c.seq.Next()), proxy, poolKey, src, script, c.opts.SyncTimeout)
	c.works[w.ID] = w
	c.proxies[proxy] = w.ID

	entry, admission, err := c.pool.Admit(poolKey, src)
	if err == nil {
		c.pool.Host(entry, w.ID)
		w.entry = entry
		if entry.Ready() {
			_, err = c.sendRegister(w)
		}
	}
	active := c.activeLocked()
	observer := c.observer
	c.mu.Unlock()

	if superseded != nil {
		superseded.teardown(ErrUnregistered)
	}
	observer.SetRegistrationsActive(active)

	logger := c.logger.With(
		zap.Stringer("registration_id", w.ID),
		zap.String("proxy", proxy.Name()),
		zap.String("pool_key", poolKey),
	)
	if err != nil {
		if errors.Is(err, ErrCapacity) {
			logger.Warn("Registration rejected", zap.Error(err))
			observer.RecordRegistration("capacity")
		} else {
			logger.Info("Registration failed", zap.Error(err))
			observer.RecordRegistration("rejected")
		}
		w.registered.Reject(err)
		return w.registered
	}

	observer.RecordAdmission(admission.String())
	logger.Debug("Registration admitted",
		zap.String("admission", admission.String()),
		zap.Int("position", entry.Position()),
		zap.Bool("ready", entry.Ready()))
	return w.registered
}

// sendRegister sends the registration script, then whatever Call and Request
// queued while the context was loading; caller holds mu. Queued requests that
// could not be sent are returned for rejection once mu is released.
func (c *Coordinator) sendRegister(w *Work) ([]undelivered, error) {
	ctx := w.entry.Context()
	if err := ctx.Send(channel.Name(channel.EventRegister), int64(w.ID), w.Script); err != nil {
		return nil, err
	}
	w.sent = true

	var lost []undelivered
	for _, msg := range w.outbox {
		err := ctx.Send(msg.channel, msg.args...)
		if err == nil {
			continue
		}
		c.logger.Debug("Queued message not dispatched",
			zap.Stringer("registration_id", w.ID),
			zap.String("channel", msg.channel),
			zap.Error(err))
		if msg.syncID != 0 {
			lost = append(lost, undelivered{syncID: msg.syncID, err: err})
		}
	}
	w.outbox = nil
	return lost, nil
}

// activeLocked counts registrations holding a place in the pool
func (c *Coordinator) activeLocked() int {
	n := 0
	for _, w := range c.works {
		if w.admitted() {
			n++
		}
	}
	return n
}

// Unregister removes the live registration of proxy, if any
func (c *Coordinator) Unregister(proxy *Proxy) {
	c.mu.Lock()
	regID, ok := c.proxies[proxy]
	if !ok {
		c.mu.Unlock()
		return
	}
	w := c.detachLocked(regID)
	active := c.activeLocked()
	observer := c.observer
	c.mu.Unlock()

	w.teardown(ErrUnregistered)
	observer.SetRegistrationsActive(active)
	c.logger.Debug("Registration removed",
		zap.Stringer("registration_id", regID),
		zap.String("proxy", proxy.Name()))
}

// detachLocked drops a registration and releases its context
func (c *Coordinator) detachLocked(regID id.RegistrationID) *Work {
	w := c.works[regID]
	delete(c.works, regID)
	if c.proxies[w.proxy] == regID {
		delete(c.proxies, w.proxy)
	}

	if w.entry != nil {
		ctx := w.entry.Context()
		c.pool.Release(w.entry, regID)
		w.entry = nil
		w.outbox = nil
		if err := ctx.Send(channel.Name(channel.EventUnregister), int64(regID)); err != nil {
			c.logger.Debug("Failed to send unregister", zap.Stringer("registration_id", regID), zap.Error(err))
		}
	}
	return w
}

// Ensure returns the registration promise of proxy
func (c *Coordinator) Ensure(proxy *Proxy) *promise.Promise[id.RegistrationID] {
	c.mu.Lock()
	defer c.mu.Unlock()

	regID, ok := c.proxies[proxy]
	if !ok {
		return promise.Rejected[id.RegistrationID](fmt.Errorf("%w: work notfound", ErrNotFound))
	}
	return c.works[regID].registered
}

// Registration returns the id of proxy's current registration, settled or not
func (c *Coordinator) Registration(proxy *Proxy) (id.RegistrationID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	regID, ok := c.proxies[proxy]
	return regID, ok
}

// Lookup returns the proxy of a live registration
func (c *Coordinator) Lookup(regID id.RegistrationID) (*Proxy, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.works[regID]
	if !ok {
		return nil, false
	}
	return w.proxy, true
}

// Call invokes method on the remote object without waiting. Reports whether the
// message was dispatched. Calls made while the context is still loading are
// held and sent right after the registration script.
func (c *Coordinator) Call(regID id.RegistrationID, method string, args ...any) bool {
	if regID <= 0 || method == "" {
		return false
	}
	ch := channel.Message(int64(regID))
	payload := append([]any{method}, args...)

	c.mu.Lock()
	w, ok := c.works[regID]
	if !ok || !w.admitted() || w.failed() != nil {
		c.mu.Unlock()
		return false
	}
	if !w.sent {
		_, err := protocol.Normalize(payload)
		if err == nil {
			w.outbox = append(w.outbox, outbound{channel: ch, args: payload})
		}
		c.mu.Unlock()
		return err == nil
	}
	ctx := w.entry.Context()
	c.mu.Unlock()

	if err := ctx.Send(ch, payload...); err != nil {
		c.logger.Debug("Call not dispatched",
			zap.Stringer("registration_id", regID),
			zap.String("method", method),
			zap.Error(err))
		return false
	}
	return true
}

// Request invokes method on the remote object and returns a promise of its
// result. Remote failures reject with *RemoteError.
func (c *Coordinator) Request(regID id.RegistrationID, method string, args ...any) *promise.Promise[any] {
	if regID <= 0 || method == "" {
		return promise.Rejected[any](fmt.Errorf("%w: id or method missing", ErrNotFound))
	}

	c.mu.Lock()
	w, ok := c.works[regID]
	if !ok {
		c.mu.Unlock()
		return promise.Rejected[any](fmt.Errorf("%w: work notfound", ErrNotFound))
	}
	if !w.admitted() {
		c.mu.Unlock()
		return promise.Rejected[any](fmt.Errorf("%w: webview notfound", ErrNotFound))
	}
	if err := w.failed(); err != nil {
		c.mu.Unlock()
		return promise.Rejected[any](fmt.Errorf("%w: registration failed: %v", ErrNotFound, err))
	}
	ctx := w.entry.Context()
	ch := channel.SyncMessage(int64(regID))
	syncID, p := w.table.Allocate()
	payload := append([]any{int64(syncID), method}, args...)

	var err error
	queued := false
	if !w.sent {
		if _, err = protocol.Normalize(payload); err == nil {
			w.outbox = append(w.outbox, outbound{channel: ch, args: payload, syncID: syncID})
			queued = true
		}
	}
	observer := c.observer
	c.mu.Unlock()

	start := time.Now()
	p.Then(func(_ any, err error) {
		observer.RecordRequest(requestOutcome(err), time.Since(start))
	})

	if err == nil && !queued {
		err = ctx.Send(ch, payload...)
	}
	if err != nil {
		w.table.Reject(syncID, err)
	}
	return p
}

func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "resolved"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case IsRemote(err):
		return "remote_error"
	default:
		return "error"
	}
}

// RegisterContext binds a caller-created context to poolKey. This is the only
// way to provide contexts when BackgroundMode is off.
func (c *Coordinator) RegisterContext(ctx pool.Context, poolKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	entry, err := c.pool.Register(ctx, poolKey)
	if err != nil {
		return err
	}
	c.logger.Debug("Context registered",
		zap.Stringer("context_id", ctx.ID()),
		zap.String("pool_key", poolKey),
		zap.Int("position", entry.Position()),
		zap.Bool("ready", entry.Ready()))
	return nil
}

// Stats returns a snapshot of registrations and the pool
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Registrations: c.activeLocked(),
		Pool:          c.pool.Stats(),
	}
	for _, w := range c.works {
		if !w.registered.Settled() {
			stats.Pending++
		}
		stats.Requests += w.table.Len()
	}
	return stats
}

// Close rejects everything pending and closes every context
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	works := make([]*Work, 0, len(c.works))
	for _, w := range c.works {
		works = append(works, w)
	}
	c.works = make(map[id.RegistrationID]*Work)
	c.proxies = make(map[*Proxy]id.RegistrationID)
	err := c.pool.Close()
	c.mu.Unlock()

	c.cancel()
	for _, w := range works {
		w.teardown(ErrClosed)
	}
	c.logger.Info("Coordinator closed", zap.Int("registrations", len(works)))
	return err
}

func (c *Coordinator) observe() Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}
