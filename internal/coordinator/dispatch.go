package coordinator

import (
	"github.com/GriffinCanCode/webviewrpc/internal/pool"
	"github.com/GriffinCanCode/webviewrpc/internal/protocol"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/channel"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"go.uber.org/zap"
)

const (
	textHostObjectNotFound = "host object not found"
	textHostMethodNotFound = "host object method not found"
)

var (
	chResolve     = channel.Name(channel.EventResolve)
	chReject      = channel.Name(channel.EventReject)
	chMessage     = channel.Name(channel.EventMessage)
	chSyncMessage = channel.Name(channel.EventSyncMessage)
	chSyncResolve = channel.Name(channel.EventSyncResolve)
	chSyncReject  = channel.Name(channel.EventSyncReject)
)

// bridge receives context events on behalf of the coordinator
type bridge struct {
	c *Coordinator
}

// DidFinishLoad marks the context ready and sends every deferred registration
func (b *bridge) DidFinishLoad(ctx pool.Context) {
	c := b.c

	c.mu.Lock()
	// a navigation started after this load finished supersedes it
	if c.closed || !ctx.Loaded() {
		c.mu.Unlock()
		return
	}
	entry, err := c.pool.MarkReady(ctx)
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("Load finished for unknown context", zap.Stringer("context_id", ctx.ID()))
		return
	}

	var settle []func()
	for _, regID := range entry.Hosted() {
		w, ok := c.works[regID]
		if !ok {
			continue
		}
		lost, err := c.sendRegister(w)
		switch {
		case err != nil:
			settle = append(settle, func() { w.teardown(err) })
		case len(lost) > 0:
			settle = append(settle, func() { w.rejectUndelivered(lost) })
		}
	}
	hosted := len(entry.Hosted())
	c.mu.Unlock()

	for _, fn := range settle {
		fn()
	}
	c.logger.Debug("Context ready",
		zap.Stringer("context_id", ctx.ID()),
		zap.String("pool_key", entry.Key()),
		zap.Int("hosted", hosted))
}

// DOMReady opens the debugging surface when DevTools is enabled
func (b *bridge) DOMReady(ctx pool.Context) {
	if !b.c.opts.DevTools {
		return
	}
	if d, ok := ctx.(interface{ OpenDevTools() }); ok {
		d.OpenDevTools()
	}
}

// IPCMessage dispatches a message a context sent to the host
func (b *bridge) IPCMessage(ctx pool.Context, ch string, args []any) {
	if len(args) == 0 {
		return
	}
	n, ok := protocol.Int64(args[0])
	if !ok {
		return
	}
	regID := id.RegistrationID(n)

	switch ch {
	case chResolve:
		b.settleRegistration(ctx, regID, nil)
	case chReject:
		b.settleRegistration(ctx, regID, &RemoteError{Text: protocol.Text(argAt(args, 1))})
	case chMessage:
		b.message(ctx, regID, args[1:])
	case chSyncMessage:
		b.syncMessage(ctx, regID, args[1:])
	case chSyncResolve, chSyncReject:
		b.settleRequest(ctx, ch, regID, args[1:])
	}
}

// work returns the registration if it is hosted on ctx
func (b *bridge) work(ctx pool.Context, regID id.RegistrationID) *Work {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	w, ok := b.c.works[regID]
	if !ok || !w.bound(ctx) {
		return nil
	}
	return w
}

func (b *bridge) settleRegistration(ctx pool.Context, regID id.RegistrationID, err error) {
	w := b.work(ctx, regID)
	if w == nil {
		return
	}

	observer := b.c.observe()
	logger := b.c.logger.With(zap.Stringer("registration_id", regID), zap.String("proxy", w.proxy.Name()))
	if err == nil {
		if w.registered.Resolve(regID) {
			observer.RecordRegistration("resolved")
			logger.Debug("Registration resolved")
		}
		return
	}
	if w.registered.Reject(err) {
		observer.RecordRegistration("rejected")
		logger.Info("Registration rejected by remote", zap.Error(err))
	}
	// the remote object does not exist, so nothing outstanding can be answered
	w.table.RejectAll(err)
}

// message queues a fire-and-forget call from the remote object on the
// registration's inbox; unknown methods are ignored. Handlers may block,
// including on requests to the same context.
func (b *bridge) message(ctx pool.Context, regID id.RegistrationID, args []any) {
	w := b.work(ctx, regID)
	if w == nil || len(args) == 0 {
		return
	}
	method, _ := protocol.String(args[0])
	h, ok := w.proxy.Handler(method)
	if !ok {
		return
	}

	params := args[1:]
	w.inbox.run(func() {
		if _, err := h(b.c.ctx, params); err != nil {
			b.c.logger.Info("Host handler failed",
				zap.Stringer("registration_id", regID),
				zap.String("method", method),
				zap.Error(err))
		}
	})
}

// syncMessage runs a request from the remote object and replies with the
// outcome. The remote side waits for the reply, so failures to find the
// target are answered too.
func (b *bridge) syncMessage(ctx pool.Context, regID id.RegistrationID, args []any) {
	if len(args) == 0 {
		return
	}
	syncID, ok := protocol.Int64(args[0])
	if !ok {
		return
	}
	method, _ := protocol.String(argAt(args, 1))

	reject := func(text string) {
		b.reply(ctx, chSyncReject, int64(regID), syncID, text)
	}

	w := b.work(ctx, regID)
	if w == nil {
		reject(textHostObjectNotFound)
		return
	}
	h, ok := w.proxy.Handler(method)
	if !ok {
		reject(textHostMethodNotFound)
		return
	}

	var params []any
	if len(args) > 2 {
		params = args[2:]
	}
	go func() {
		result, err := h(b.c.ctx, params)
		if err != nil {
			reject(err.Error())
			return
		}
		if err := ctx.Send(chSyncResolve, int64(regID), syncID, result); err != nil {
			reject(err.Error())
		}
	}()
}

func (b *bridge) reply(ctx pool.Context, ch string, args ...any) {
	if err := ctx.Send(ch, args...); err != nil {
		b.c.logger.Debug("Failed to reply", zap.String("channel", ch), zap.Error(err))
	}
}

// settleRequest settles a request the host made; unmatched ids are ignored
func (b *bridge) settleRequest(ctx pool.Context, ch string, regID id.RegistrationID, args []any) {
	w := b.work(ctx, regID)
	if w == nil || len(args) == 0 {
		return
	}
	syncID, ok := protocol.Int64(args[0])
	if !ok {
		return
	}

	if ch == chSyncResolve {
		w.table.Resolve(id.SyncID(syncID), argAt(args, 1))
		return
	}
	w.table.Reject(id.SyncID(syncID), &RemoteError{Text: protocol.Text(argAt(args, 1))})
}

func argAt(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}
