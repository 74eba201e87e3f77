package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/loader"
	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/GriffinCanCode/webviewrpc/internal/protocol"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

var errExecutionTimeout = errors.New("execution timeout exceeded")

// Runtime is an isolated JavaScript context
type Runtime struct {
	id      id.ContextID
	config  Config
	session *loader.Session
	logger  *zap.Logger

	tasks  *mailbox // owned by the event loop
	outbox *mailbox // host-bound events

	mu         sync.Mutex
	listener   pool.Listener
	src        string
	loaded     bool
	generation uint64
	cancel     context.CancelFunc
	vm         *goja.Runtime
	devTools   bool
	closed     bool
	preload    string

	// Loop-owned state
	page    *page
	capture *[]LogEntry
}

// New creates a runtime with its own loader session. The runtime starts
// blank; call Load to navigate it.
func New(l *loader.Loader, config Config, logger *zap.Logger) (*Runtime, error) {
	session, err := l.NewSession(config.UserAgent)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	contextID := id.NewContextID()
	return &Runtime{
		id:       contextID,
		config:   config,
		session:  session,
		logger:   logger.With(zap.String("context_id", contextID.String())),
		tasks:    newMailbox(),
		outbox:   newMailbox(),
		devTools: config.DevTools,
	}, nil
}

// NewFactory returns a pool factory creating runtimes that share l. Non-empty
// context options override the matching fields of config.
func NewFactory(l *loader.Loader, config Config, logger *zap.Logger) pool.Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(poolKey string, opts pool.ContextOptions) (pool.Context, error) {
		c := config
		if opts.Preload != "" {
			c.Preload = opts.Preload
		}
		if opts.UserAgent != "" {
			c.UserAgent = opts.UserAgent
		}
		return New(l, c, logger.With(zap.String("pool_key", poolKey)))
	}
}

// ID returns the context id
func (r *Runtime) ID() id.ContextID {
	return r.id
}

// Attach installs the listener receiving lifecycle and IPC events
func (r *Runtime) Attach(l pool.Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = l
}

// Source returns the locator of the current navigation
func (r *Runtime) Source() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.src
}

// Loaded reports whether the current navigation finished
func (r *Runtime) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// OpenDevTools starts forwarding console output to the logger
func (r *Runtime) OpenDevTools() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devTools = true
}

// Load navigates to src. Any navigation in flight is abandoned.
func (r *Runtime) Load(src string) error {
	if !protocol.ValidLocator(src) {
		return fmt.Errorf("%w: %s", loader.ErrInvalidLocator, src)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	gen := r.generation
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.src = src
	r.loaded = false
	r.mu.Unlock()

	go r.fetch(ctx, gen, src)
	return nil
}

// Send queues a message for the page
func (r *Runtime) Send(channel string, args ...any) error {
	data, err := protocol.Encode(protocol.New(channel, args...))
	if err != nil {
		return err
	}
	if !r.tasks.push(func() { r.deliver(data) }) {
		return ErrClosed
	}
	return nil
}

// Execute evaluates script in the current page
func (r *Runtime) Execute(ctx context.Context, script string) (*Result, error) {
	type outcome struct {
		result *Result
		err    error
	}

	done := make(chan outcome, 1)
	ok := r.tasks.push(func() {
		result, err := r.execute(ctx, script)
		done <- outcome{result, err}
	})
	if !ok {
		return nil, ErrClosed
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.tasks.done:
		return nil, ErrClosed
	}
}

// Close stops the runtime. Queued messages are dropped.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.loaded = false
	if r.cancel != nil {
		r.cancel()
	}
	vm := r.vm
	r.mu.Unlock()

	if vm != nil {
		vm.Interrupt(ErrClosed)
	}
	r.tasks.close()
	r.outbox.close()
	return nil
}

func (r *Runtime) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && r.generation == gen
}

func (r *Runtime) fetch(ctx context.Context, gen uint64, src string) {
	doc, err := r.session.Fetch(ctx, src)
	preload := r.loadPreload(ctx)
	r.tasks.push(func() {
		r.navigate(gen, src, doc, preload, err)
	})
}

// loadPreload resolves the preload once per runtime
func (r *Runtime) loadPreload(ctx context.Context) string {
	if r.config.Preload == "" {
		return ""
	}
	if !protocol.ValidLocator(r.config.Preload) {
		return r.config.Preload
	}

	r.mu.Lock()
	cached := r.preload
	r.mu.Unlock()
	if cached != "" {
		return cached
	}

	doc, err := r.session.Fetch(ctx, r.config.Preload)
	if err != nil {
		r.logger.Warn("Failed to load preload", zap.String("preload", r.config.Preload), zap.Error(err))
		return ""
	}

	r.mu.Lock()
	r.preload = doc.Body
	r.mu.Unlock()
	return doc.Body
}

// navigate replaces the page; runs on the loop
func (r *Runtime) navigate(gen uint64, src string, doc *loader.Document, preload string, fetchErr error) {
	if !r.current(gen) {
		return
	}

	if fetchErr != nil {
		r.logger.Warn("Failed to load source", zap.String("src", src), zap.Error(fetchErr))
		doc = &loader.Document{URL: src, Kind: loader.KindHTML, CharacterSet: "utf-8"}
	}

	if r.page != nil {
		r.page.teardown()
	}
	p := r.newPage(gen, src, doc)
	r.page = p

	r.mu.Lock()
	r.vm = p.vm
	r.mu.Unlock()

	if fetchErr != nil {
		r.console(p, "error", fmt.Sprintf("Failed to load %s: %v", src, fetchErr))
	}
	if preload != "" {
		r.evaluate(p, "preload", preload)
	}
	for i, script := range doc.Scripts {
		r.evaluate(p, fmt.Sprintf("%s#script%d", src, i), script)
	}

	r.emit(gen, func(l pool.Listener) { l.DOMReady(r) })

	r.mu.Lock()
	if r.generation == gen && !r.closed {
		r.loaded = true
	}
	r.mu.Unlock()

	r.emit(gen, func(l pool.Listener) { l.DidFinishLoad(r) })
}

// evaluate runs a page-level script, reporting failures on the console
func (r *Runtime) evaluate(p *page, name, script string) {
	err := r.guard(context.Background(), p, func() error {
		_, err := p.vm.RunScript(name, script)
		return err
	})
	if err != nil {
		r.console(p, "error", errorText(err))
	}
}

// guard runs fn with the task timeout and ctx cancellation interrupting the VM
func (r *Runtime) guard(ctx context.Context, p *page, fn func() error) error {
	var timeout <-chan time.Time
	if r.config.Timeout > 0 {
		timer := time.NewTimer(r.config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-timeout:
			p.vm.Interrupt(errExecutionTimeout)
		case <-ctx.Done():
			p.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	err := fn()
	close(stop)
	<-exited
	p.vm.ClearInterrupt()
	return err
}

// deliver hands an inbound frame to the page agent; runs on the loop
func (r *Runtime) deliver(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		r.logger.Warn("Dropping malformed message", zap.Error(err))
		return
	}
	if r.page == nil {
		r.logger.Debug("Dropping message before first load", zap.String("channel", msg.Channel))
		return
	}
	r.page.agent.dispatch(msg.Channel, msg.Args)
}

// post sends a message to the host listener
func (r *Runtime) post(channel string, args ...any) error {
	normalized, err := protocol.Normalize(args)
	if err != nil {
		return err
	}
	r.outbox.push(func() {
		if l := r.currentListener(); l != nil {
			l.IPCMessage(r, channel, normalized)
		}
	})
	return nil
}

// emit queues a lifecycle event of navigation gen
func (r *Runtime) emit(gen uint64, fn func(pool.Listener)) {
	r.outbox.push(func() {
		if !r.current(gen) {
			return
		}
		if l := r.currentListener(); l != nil {
			fn(l)
		}
	})
}

func (r *Runtime) currentListener() pool.Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener
}

// schedule queues fn for page p, skipping it if p was navigated away
func (r *Runtime) schedule(p *page, fn func()) {
	r.tasks.push(func() {
		if r.page != p {
			return
		}
		fn()
	})
}

// execute runs script for Execute; runs on the loop
func (r *Runtime) execute(ctx context.Context, script string) (*Result, error) {
	p := r.page
	if p == nil {
		return nil, ErrNotLoaded
	}

	start := time.Now()
	result := &Result{Console: []LogEntry{}}
	r.capture = &result.Console
	defer func() { r.capture = nil }()
	mark := len(p.dom.changes)

	var val goja.Value
	err := r.guard(ctx, p, func() error {
		var err error
		val, err = p.vm.RunString(script)
		return err
	})

	result.Duration = time.Since(start)
	result.DOMChanges = append([]DOMChange{}, p.dom.changes[mark:]...)
	if err != nil {
		result.Error = err
		return result, err
	}

	if promise, ok := val.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			val = promise.Result()
		case goja.PromiseStateRejected:
			result.Error = fmt.Errorf("promise rejected: %s", promise.Result().String())
			return result, result.Error
		default:
			val = goja.Undefined()
		}
	}
	result.Value = exportValue(val)
	return result, nil
}

// console records a console entry of page p
func (r *Runtime) console(p *page, level, message string) {
	entry := LogEntry{Level: level, Message: message, Time: time.Now()}
	if r.capture != nil && r.page == p {
		*r.capture = append(*r.capture, entry)
	}

	r.mu.Lock()
	devTools := r.devTools
	r.mu.Unlock()
	if !devTools {
		return
	}

	fields := []zap.Field{zap.String("level", level), zap.String("message", message), zap.String("url", p.url)}
	if level == "error" {
		r.logger.Warn("Console", fields...)
	} else {
		r.logger.Info("Console", fields...)
	}
}

// exportValue converts goja value to Go value
func exportValue(val goja.Value) interface{} {
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

// errorText renders a script failure the way the page would print it
func errorText(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		if v := ex.Value(); v != nil {
			return v.String()
		}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return strings.TrimSpace(fmt.Sprint(interrupted.Value()))
	}
	return err.Error()
}
