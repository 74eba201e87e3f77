package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/GriffinCanCode/webviewrpc/internal/protocol"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/channel"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/promise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const script = `({ detect: function () { return Promise.resolve("x"); } })`

// fakeContext records what the coordinator sends and lets tests play the
// remote side
type fakeContext struct {
	id id.ContextID

	mu       sync.Mutex
	listener pool.Listener
	loads    []string
	loaded   bool
	sent     []protocol.Message
	closed   bool
	devTools bool
}

func newFakeContext(name string) *fakeContext {
	return &fakeContext{id: id.ContextID(name)}
}

func (f *fakeContext) ID() id.ContextID { return f.id }

func (f *fakeContext) Attach(l pool.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listener = l
}

func (f *fakeContext) Load(src string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, src)
	f.loaded = false
	return nil
}

func (f *fakeContext) Loaded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loaded
}

func (f *fakeContext) Send(ch string, args ...any) error {
	normalized, err := protocol.Normalize(args)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, protocol.New(ch, normalized...))
	return nil
}

func (f *fakeContext) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeContext) OpenDevTools() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devTools = true
}

// finish completes the current load
func (f *fakeContext) finish() {
	f.mu.Lock()
	f.loaded = true
	l := f.listener
	f.mu.Unlock()
	l.DOMReady(f)
	l.DidFinishLoad(f)
}

// emit sends a message from the remote side to the host
func (f *fakeContext) emit(event string, args ...any) {
	normalized, _ := protocol.Normalize(args)
	f.mu.Lock()
	l := f.listener
	f.mu.Unlock()
	l.IPCMessage(f, channel.Name(event), normalized)
}

func (f *fakeContext) messages(ch string) []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Message
	for _, m := range f.sent {
		if m.Channel == ch {
			out = append(out, m)
		}
	}
	return out
}

// channels lists the channel of everything sent, in order
func (f *fakeContext) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.Channel)
	}
	return out
}

func (f *fakeContext) lastLoad() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.loads) == 0 {
		return ""
	}
	return f.loads[len(f.loads)-1]
}

type harness struct {
	c *Coordinator

	mu       sync.Mutex
	contexts []*fakeContext
	opts     []pool.ContextOptions
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{}
	h.c = New(opts, func(poolKey string, co pool.ContextOptions) (pool.Context, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		fc := newFakeContext(fmt.Sprintf("ctx-%d", len(h.contexts)))
		h.contexts = append(h.contexts, fc)
		h.opts = append(h.opts, co)
		return fc, nil
	}, nil)
	t.Cleanup(func() { h.c.Close() })
	return h
}

func (h *harness) created() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.contexts)
}

func (h *harness) context(i int) *fakeContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.contexts[i]
}

// registered registers proxy and completes the handshake on the context
func (h *harness) registered(t *testing.T, proxy *Proxy, poolKey string) (id.RegistrationID, *fakeContext) {
	t.Helper()
	p := h.c.Register(proxy, poolKey, "https://example.test/"+poolKey, script)
	require.False(t, p.Settled())

	fc := h.bound(t, poolKey)
	if !fc.Loaded() {
		fc.finish()
	}

	regs := fc.messages(channel.Name(channel.EventRegister))
	require.NotEmpty(t, regs)
	regID, _ := protocol.Int64(regs[len(regs)-1].Args[0])
	fc.emit(channel.EventResolve, regID)

	got, err := await(t, p)
	require.NoError(t, err)
	return got, fc
}

func (h *harness) bound(t *testing.T, poolKey string) *fakeContext {
	t.Helper()
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	entry, ok := h.c.pool.Lookup(poolKey)
	require.True(t, ok)
	return entry.Context().(*fakeContext)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("nothing received")
	}
	var zero T
	return zero
}

func await[T any](t *testing.T, p *promise.Promise[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := p.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "promise did not settle")
	return v, err
}

func TestRegisterValidation(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	tests := []struct {
		name   string
		src    string
		script string
	}{
		{"bad scheme", "ftp://bad", script},
		{"empty src", "", script},
		{"upper case scheme", "HTTPS://example.test", script},
		{"blank script", "https://example.test", "  \n\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := h.c.Register(NewProxy("p"), "k", tt.src, tt.script)
			require.True(t, p.Settled())
			_, err := p.Result()
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
	assert.Equal(t, 0, h.created())
	assert.Equal(t, 0, h.c.Stats().Registrations)
}

func TestRegisterRejectsNilProxy(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	p := h.c.Register(nil, "k", "https://example.test", script)
	require.True(t, p.Settled())
	_, err := p.Result()
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, 0, h.created())

	h.c.Unregister(nil)
	_, err = await(t, h.c.Ensure(nil))
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestContextOptionsReachFactory(t *testing.T) {
	opts := DefaultOptions()
	opts.Preload = "window.pre = true"
	opts.UserAgent = "agent/2"
	h := newHarness(t, opts)

	h.registered(t, NewProxy("p"), "k")

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []pool.ContextOptions{{Preload: "window.pre = true", UserAgent: "agent/2"}}, h.opts)
}

func TestRegisterDefersUntilReady(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	p := h.c.Register(NewProxy("p"), "k", "https://example.test", script)
	require.Equal(t, 1, h.created())
	fc := h.context(0)
	assert.Equal(t, "https://example.test", fc.lastLoad())
	assert.Empty(t, fc.messages(channel.Name(channel.EventRegister)))

	fc.finish()
	regs := fc.messages(channel.Name(channel.EventRegister))
	require.Len(t, regs, 1)
	assert.Equal(t, []any{int64(1), script}, regs[0].Args)
	assert.False(t, p.Settled())

	fc.emit(channel.EventResolve, int64(1))
	regID, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, id.RegistrationID(1), regID)
	assert.False(t, fc.devTools)
}

func TestRegisterFlushesAllDeferred(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	h.c.Register(NewProxy("a"), "k", "https://example.test", script)
	h.c.Register(NewProxy("b"), "k", "https://example.test", script)
	require.Equal(t, 1, h.created())

	fc := h.context(0)
	fc.finish()
	regs := fc.messages(channel.Name(channel.EventRegister))
	require.Len(t, regs, 2)
	assert.Equal(t, int64(1), regs[0].Args[0])
	assert.Equal(t, int64(2), regs[1].Args[0])
}

func TestRegisterReusesReadyContext(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	_, fc := h.registered(t, NewProxy("a"), "k")

	p := h.c.Register(NewProxy("b"), "k", "https://example.test/k", script)
	assert.Equal(t, 1, h.created())
	assert.Len(t, fc.loads, 1)

	regs := fc.messages(channel.Name(channel.EventRegister))
	require.Len(t, regs, 2)
	fc.emit(channel.EventResolve, int64(2))
	regID, err := await(t, p)
	require.NoError(t, err)
	assert.Equal(t, id.RegistrationID(2), regID)
}

func TestRegisterRemoteReject(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	p := h.c.Register(NewProxy("p"), "k", "https://example.test", "throw new Error('boom')")
	fc := h.context(0)
	fc.finish()
	fc.emit(channel.EventReject, int64(1), "Error: boom")

	_, err := await(t, p)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "Error: boom", remote.Text)

	// duplicate settlement is ignored
	fc.emit(channel.EventResolve, int64(1))
	_, err = p.Result()
	assert.True(t, IsRemote(err))
}

func TestRegisterIgnoresOtherContexts(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	p := h.c.Register(NewProxy("p"), "k", "https://example.test", script)
	h.context(0).finish()

	stranger := newFakeContext("stranger")
	stranger.Attach(&bridge{c: h.c})
	stranger.emit(channel.EventResolve, int64(1))
	assert.False(t, p.Settled())
}

func TestCapacityAndReuse(t *testing.T) {
	opts := DefaultOptions()
	opts.WebviewPoolMaxLength = 2
	h := newHarness(t, opts)

	a := NewProxy("a")
	h.registered(t, a, "k1")
	h.registered(t, NewProxy("b"), "k2")

	p := h.c.Register(NewProxy("c"), "k3", "https://example.test/k3", script)
	_, err := await(t, p)
	assert.True(t, errors.Is(err, ErrCapacity))
	assert.EqualError(t, err, "too busy")
	assert.Equal(t, 2, h.created())
	assert.Equal(t, 2, h.c.Stats().Registrations, "rejected registrations are not active")
	assert.Equal(t, 2, h.c.Stats().Pool.Hosted)

	h.c.Unregister(a)
	regID, fc := h.registered(t, NewProxy("d"), "k4")
	assert.Equal(t, 2, h.created())
	assert.Equal(t, "https://example.test/k4", fc.lastLoad())
	assert.Equal(t, id.RegistrationID(4), regID)
}

func TestReRegisterSupersedes(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	proxy := NewProxy("p")
	first, fc := h.registered(t, proxy, "k")

	second := h.c.Register(proxy, "k", "https://example.test/k", script)
	unregs := fc.messages(channel.Name(channel.EventUnregister))
	require.Len(t, unregs, 1)
	assert.Equal(t, []any{int64(first)}, unregs[0].Args)
	assert.Equal(t, 1, h.c.Stats().Registrations)
	assert.Same(t, second, h.c.Ensure(proxy))
}

func TestUnregister(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	proxy := NewProxy("p")

	// never registered
	h.c.Unregister(proxy)

	p := h.c.Register(proxy, "k", "https://example.test", script)
	fc := h.context(0)
	fc.finish()

	h.c.Unregister(proxy)
	h.c.Unregister(proxy)

	_, err := await(t, p)
	assert.True(t, errors.Is(err, ErrUnregistered))
	assert.Len(t, fc.messages(channel.Name(channel.EventUnregister)), 1)
	assert.Equal(t, 0, h.c.Stats().Registrations)
	assert.Equal(t, 1, h.c.Stats().Pool.Idle)

	_, ok := h.c.Lookup(1)
	assert.False(t, ok)
}

func TestUnregisterRejectsOutstandingRequests(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	proxy := NewProxy("p")
	regID, _ := h.registered(t, proxy, "k")

	req := h.c.Request(regID, "detect")
	h.c.Unregister(proxy)

	_, err := await(t, req)
	assert.True(t, errors.Is(err, ErrUnregistered))
}

func TestEnsure(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	_, err := await(t, h.c.Ensure(NewProxy("nobody")))
	assert.True(t, errors.Is(err, ErrNotFound))

	proxy := NewProxy("p")
	p := h.c.Register(proxy, "k", "https://example.test", script)
	assert.Same(t, p, h.c.Ensure(proxy))

	regID, ok := h.c.Registration(proxy)
	assert.True(t, ok)
	found, ok := h.c.Lookup(regID)
	assert.True(t, ok)
	assert.Same(t, proxy, found)

	h.c.Unregister(proxy)
	_, ok = h.c.Registration(proxy)
	assert.False(t, ok)
}

func TestCall(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	regID, fc := h.registered(t, NewProxy("p"), "k")

	assert.False(t, h.c.Call(0, "detect"))
	assert.False(t, h.c.Call(regID, ""))
	assert.False(t, h.c.Call(99, "detect"))
	assert.False(t, h.c.Call(regID, "detect", func() {}))

	assert.True(t, h.c.Call(regID, "detect", "text", 1))
	msgs := fc.messages(channel.Message(int64(regID)))
	require.Len(t, msgs, 1)
	assert.Equal(t, []any{"detect", "text", int64(1)}, msgs[0].Args)
}

func TestRequestResolve(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	regID, fc := h.registered(t, NewProxy("p"), "k")

	req := h.c.Request(regID, "detect", "a")
	msgs := fc.messages(channel.SyncMessage(int64(regID)))
	require.Len(t, msgs, 1)
	assert.Equal(t, []any{int64(1), "detect", "a"}, msgs[0].Args)
	assert.Equal(t, 1, h.c.Stats().Requests)

	fc.emit(channel.EventSyncResolve, int64(regID), int64(1), "x")
	fc.emit(channel.EventSyncReject, int64(regID), int64(1), "late")

	v, err := await(t, req)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	assert.Equal(t, 0, h.c.Stats().Requests)
}

func TestRequestBeforeReady(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	p := h.c.Register(NewProxy("p"), "k", "https://example.test", script)
	fc := h.context(0)
	regID := id.RegistrationID(1)

	req := h.c.Request(regID, "detect", "a")
	assert.True(t, h.c.Call(regID, "detect", "b"))
	assert.False(t, h.c.Call(regID, "detect", func() {}))
	assert.Empty(t, fc.channels(), "nothing is sent while loading")
	assert.Equal(t, 1, h.c.Stats().Requests)

	fc.finish()
	assert.Equal(t, []string{
		channel.Name(channel.EventRegister),
		channel.SyncMessage(int64(regID)),
		channel.Message(int64(regID)),
	}, fc.channels())
	assert.Equal(t, []any{int64(1), "detect", "a"}, fc.messages(channel.SyncMessage(int64(regID)))[0].Args)
	assert.Equal(t, []any{"detect", "b"}, fc.messages(channel.Message(int64(regID)))[0].Args)

	fc.emit(channel.EventResolve, int64(regID))
	fc.emit(channel.EventSyncResolve, int64(regID), int64(1), "x")
	_, err := await(t, p)
	require.NoError(t, err)
	v, err := await(t, req)
	require.NoError(t, err)
	assert.Equal(t, "x", v)
}

func TestRequestAfterRemoteRejection(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	h.c.Register(NewProxy("p"), "k", "https://example.test", "throw new Error('boom')")
	fc := h.context(0)
	queued := h.c.Request(1, "detect")
	fc.finish()
	fc.emit(channel.EventReject, int64(1), "Error: boom")

	_, err := await(t, queued)
	assert.True(t, IsRemote(err))
	assert.Equal(t, 0, h.c.Stats().Requests)

	_, err = await(t, h.c.Request(1, "detect"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, h.c.Call(1, "detect"))
}

func TestRequestRemoteReject(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	regID, fc := h.registered(t, NewProxy("p"), "k")

	req := h.c.Request(regID, "detect")
	fc.emit(channel.EventSyncReject, int64(regID), int64(1), "Error: nope")

	_, err := await(t, req)
	assert.True(t, IsRemote(err))
	assert.EqualError(t, err, "Error: nope")
}

func TestRequestTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.SyncTimeout = 20 * time.Millisecond
	h := newHarness(t, opts)
	regID, fc := h.registered(t, NewProxy("p"), "k")

	start := time.Now()
	req := h.c.Request(regID, "detect")
	_, err := await(t, req)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	fc.emit(channel.EventSyncResolve, int64(regID), int64(1), "late")
	_, err = req.Result()
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, 0, h.c.Stats().Requests)
}

func TestRequestNotFound(t *testing.T) {
	opts := DefaultOptions()
	opts.WebviewPoolMaxLength = 1
	h := newHarness(t, opts)
	regID, _ := h.registered(t, NewProxy("p"), "k")

	tests := []struct {
		name   string
		regID  id.RegistrationID
		method string
	}{
		{"zero id", 0, "detect"},
		{"empty method", regID, ""},
		{"unknown id", 42, "detect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := await(t, h.c.Request(tt.regID, tt.method))
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}

	// a registration that never got a context
	busy := h.c.Register(NewProxy("busy"), "other", "https://example.test/other", script)
	_, err := await(t, busy)
	require.True(t, errors.Is(err, ErrCapacity))
	_, err = await(t, h.c.Request(regID+1, "detect"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "webview notfound")
	assert.Equal(t, 0, h.c.Stats().Requests)
}

func TestInboundMessage(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	got := make(chan []any, 4)
	proxy := NewProxy("p").Handle("onDetect", func(ctx context.Context, args []any) (any, error) {
		got <- args
		return nil, nil
	})
	regID, fc := h.registered(t, proxy, "k")

	// unknown methods and registrations are ignored
	fc.emit(channel.EventMessage, int64(regID), "missing")
	fc.emit(channel.EventMessage, int64(99), "onDetect")

	fc.emit(channel.EventMessage, int64(regID), "onDetect", "x", int64(2))
	fc.emit(channel.EventMessage, int64(regID), "onDetect", "y")
	assert.Equal(t, []any{"x", int64(2)}, receive(t, got))
	assert.Equal(t, []any{"y"}, receive(t, got))
	assert.Empty(t, got)
}

func TestMessageHandlerMayBlockOnRequest(t *testing.T) {
	h := newHarness(t, DefaultOptions())

	results := make(chan any, 2)
	proxy := NewProxy("p")
	proxy.Handle("onNotify", func(ctx context.Context, args []any) (any, error) {
		regID, _ := h.c.Registration(proxy)
		v, err := h.c.Request(regID, "detect").Wait(ctx)
		if err != nil {
			return nil, err
		}
		results <- v
		return nil, nil
	})
	proxy.Handle("onDone", func(ctx context.Context, args []any) (any, error) {
		results <- "done"
		return nil, nil
	})
	regID, fc := h.registered(t, proxy, "k")
	ch := channel.SyncMessage(int64(regID))

	// both return while the first handler waits for its reply
	fc.emit(channel.EventMessage, int64(regID), "onNotify")
	fc.emit(channel.EventMessage, int64(regID), "onDone")

	require.Eventually(t, func() bool { return len(fc.messages(ch)) == 1 }, 2*time.Second, 5*time.Millisecond)
	fc.emit(channel.EventSyncResolve, int64(regID), int64(1), "x")

	assert.Equal(t, "x", receive(t, results))
	assert.Equal(t, "done", receive(t, results), "messages of one registration run in order")
}

func TestInboundSyncMessage(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	proxy := NewProxy("p").
		Handle("double", func(ctx context.Context, args []any) (any, error) {
			n, _ := protocol.Int64(args[0])
			return n * 2, nil
		}).
		Handle("fail", func(ctx context.Context, args []any) (any, error) {
			return nil, errors.New("host failure")
		})
	regID, fc := h.registered(t, proxy, "k")
	rid := int64(regID)

	tests := []struct {
		name    string
		regID   int64
		method  string
		channel string
		result  any
	}{
		{"resolves", rid, "double", channel.Name(channel.EventSyncResolve), int64(42)},
		{"handler error", rid, "fail", channel.Name(channel.EventSyncReject), "host failure"},
		{"unknown method", rid, "missing", channel.Name(channel.EventSyncReject), textHostMethodNotFound},
		{"unknown registration", 99, "double", channel.Name(channel.EventSyncReject), textHostObjectNotFound},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncID := int64(i + 1)
			before := len(fc.messages(tt.channel))
			fc.emit(channel.EventSyncMessage, tt.regID, syncID, tt.method, int64(21))

			require.Eventually(t, func() bool {
				return len(fc.messages(tt.channel)) > before
			}, time.Second, 5*time.Millisecond)
			msgs := fc.messages(tt.channel)
			assert.Equal(t, []any{tt.regID, syncID, tt.result}, msgs[len(msgs)-1].Args)
		})
	}
}

func TestPoolingDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.BackgroundMode = false
	h := newHarness(t, opts)

	_, err := await(t, h.c.Register(NewProxy("a"), "k", "https://example.test", script))
	assert.True(t, errors.Is(err, ErrCapacity))
	assert.Equal(t, 0, h.created())

	manual := newFakeContext("manual")
	manual.loaded = true
	require.NoError(t, h.c.RegisterContext(manual, "k"))

	p := h.c.Register(NewProxy("b"), "k", "https://example.test", script)
	regs := manual.messages(channel.Name(channel.EventRegister))
	require.Len(t, regs, 1)
	manual.emit(channel.EventResolve, regs[0].Args[0])
	_, err = await(t, p)
	assert.NoError(t, err)
	assert.Equal(t, 0, h.created())
}

func TestRegisterContextLoadingFlushesOnReady(t *testing.T) {
	opts := DefaultOptions()
	opts.BackgroundMode = false
	h := newHarness(t, opts)

	manual := newFakeContext("manual")
	require.NoError(t, h.c.RegisterContext(manual, "k"))
	h.c.Register(NewProxy("a"), "k", "https://example.test", script)
	assert.Empty(t, manual.messages(channel.Name(channel.EventRegister)))

	manual.finish()
	assert.Len(t, manual.messages(channel.Name(channel.EventRegister)), 1)
}

func TestRegisterContextCapacity(t *testing.T) {
	opts := DefaultOptions()
	opts.WebviewPoolMaxLength = 1
	h := newHarness(t, opts)
	h.registered(t, NewProxy("a"), "k")

	err := h.c.RegisterContext(newFakeContext("manual"), "other")
	assert.True(t, errors.Is(err, ErrCapacity))
}

func TestDevToolsOnDOMReady(t *testing.T) {
	opts := DefaultOptions()
	opts.DevTools = true
	h := newHarness(t, opts)

	h.c.Register(NewProxy("a"), "k", "https://example.test", script)
	fc := h.context(0)
	fc.finish()
	assert.True(t, fc.devTools)
}

func TestStaleLoadIgnored(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.c.Register(NewProxy("a"), "k", "https://example.test", script)
	fc := h.context(0)

	// the context has not finished its current navigation
	fc.listener.DidFinishLoad(fc)
	assert.Empty(t, fc.messages(channel.Name(channel.EventRegister)))
	assert.Equal(t, 1, h.c.Stats().Pool.Loading)
}

func TestSamePoolKeySharesOneContext(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	for i := 0; i < 5; i++ {
		h.c.Register(NewProxy(fmt.Sprintf("p%d", i)), "shared", "https://example.test", script)
	}
	assert.Equal(t, 1, h.created())
	assert.Equal(t, 5, h.c.Stats().Pool.Hosted)
}

func TestClose(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	pending := h.c.Register(NewProxy("a"), "k", "https://example.test", script)
	fc := h.context(0)

	require.NoError(t, h.c.Close())
	require.NoError(t, h.c.Close())

	_, err := await(t, pending)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, fc.closed)

	_, err = await(t, h.c.Register(NewProxy("b"), "k", "https://example.test", script))
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(h.c.RegisterContext(newFakeContext("m"), "k"), ErrClosed))
}

type recordingObserver struct {
	mu            sync.Mutex
	registrations map[string]int
	requests      map[string]int
	admissions    map[string]int
	active        int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		registrations: make(map[string]int),
		requests:      make(map[string]int),
		admissions:    make(map[string]int),
	}
}

func (o *recordingObserver) RecordRegistration(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registrations[outcome]++
}

func (o *recordingObserver) RecordAdmission(admission string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admissions[admission]++
}

func (o *recordingObserver) RecordRequest(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests[outcome]++
}

func (o *recordingObserver) SetRegistrationsActive(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = count
}

func TestObserver(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	obs := newRecordingObserver()
	h.c.SetObserver(obs)

	h.c.Register(NewProxy("bad"), "k", "ftp://bad", script)
	regID, fc := h.registered(t, NewProxy("a"), "k")
	h.registered(t, NewProxy("b"), "k")

	req := h.c.Request(regID, "detect")
	fc.emit(channel.EventSyncResolve, int64(regID), int64(1), "x")
	_, err := await(t, req)
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.registrations["invalid"])
	assert.Equal(t, 2, obs.registrations["resolved"])
	assert.Equal(t, 1, obs.admissions["created"])
	assert.Equal(t, 1, obs.admissions["reused"])
	assert.Equal(t, 1, obs.requests["resolved"])
	assert.Equal(t, 2, obs.active)
}
