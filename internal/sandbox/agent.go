package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/webviewrpc/internal/correlation"
	"github.com/GriffinCanCode/webviewrpc/internal/protocol"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/channel"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/dop251/goja"
)

const dataURLPrefix = "data:application/javascript"

var (
	errUnregistered   = errors.New("unregistered")
	errNavigated      = errors.New("page navigated away")
	errMethodNotFound = errors.New("remote object method not found")
)

// helpers run inside each VM; settle adopts plain values and thenables alike
var helpers = goja.MustCompile("agent", `(function () {
	return {
		settle: function (value, ok, fail) {
			Promise.resolve(value).then(ok, fail);
		},
		deferred: function () {
			var handles = {};
			handles.promise = new Promise(function (resolve, reject) {
				handles.resolve = resolve;
				handles.reject = reject;
			});
			return handles;
		}
	};
})()`, false)

// remoteObject is a registered object and the requests it has in flight
type remoteObject struct {
	id     int64
	object *goja.Object
	table  *correlation.Table
}

// agent is the runtime side of the dispatch protocol for one page
type agent struct {
	rt   *Runtime
	page *page

	objects map[int64]*remoteObject
	routes  map[string]func(args []any)

	settle   goja.Callable
	deferred goja.Callable
}

func newAgent(rt *Runtime, p *page) *agent {
	a := &agent{
		rt:      rt,
		page:    p,
		objects: make(map[int64]*remoteObject),
		routes:  make(map[string]func(args []any)),
	}

	v, err := p.vm.RunProgram(helpers)
	if err != nil {
		panic(fmt.Sprintf("sandbox: agent helpers: %v", err))
	}
	obj := v.ToObject(p.vm)
	a.settle, _ = goja.AssertFunction(obj.Get("settle"))
	a.deferred, _ = goja.AssertFunction(obj.Get("deferred"))

	a.routes[channel.Name(channel.EventRegister)] = a.register
	a.routes[channel.Name(channel.EventUnregister)] = a.unregister
	a.routes[channel.Name(channel.EventSyncResolve)] = a.syncResolve
	a.routes[channel.Name(channel.EventSyncReject)] = a.syncReject
	return a
}

// dispatch routes an inbound message; unknown channels are ignored
func (a *agent) dispatch(ch string, args []any) {
	if route, ok := a.routes[ch]; ok {
		route(args)
	}
}

// close rejects the requests of every object on the page
func (a *agent) close() {
	for regID := range a.objects {
		a.drop(regID, errNavigated)
	}
}

func (a *agent) register(args []any) {
	regID, ok := protocol.Int64(arg(args, 0))
	if !ok {
		return
	}
	script, _ := protocol.String(arg(args, 1))

	object, err := a.evaluate(script)
	if err != nil {
		a.post(channel.Name(channel.EventReject), regID, errorText(err))
		return
	}

	if _, exists := a.objects[regID]; exists {
		a.drop(regID, errUnregistered)
	}
	ro := &remoteObject{
		id:     regID,
		object: object,
		table:  correlation.New(a.rt.config.SyncTimeout),
	}
	a.objects[regID] = ro

	object.Set("call", a.makeCall(ro))
	object.Set("request", a.makeRequest(ro))
	a.routes[channel.Message(regID)] = func(args []any) { a.message(ro, args) }
	a.routes[channel.SyncMessage(regID)] = func(args []any) { a.syncMessage(ro, args) }

	a.post(channel.Name(channel.EventResolve), regID)
}

// evaluate turns a registration script into the remote object
func (a *agent) evaluate(script string) (*goja.Object, error) {
	vm := a.page.vm

	script = strings.TrimSpace(script)
	if strings.HasPrefix(script, dataURLPrefix) {
		_, payload, _ := strings.Cut(script, ",")
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid data URL: %w", err)
		}
		script = string(decoded)
	}

	// anonymous AMD: define(load) registers load() as the module
	var module goja.Value
	previous := vm.Get("define")
	vm.Set("define", func(call goja.FunctionCall) goja.Value {
		load, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(vm.NewTypeError("define expects a factory function"))
		}
		v, err := load(goja.Undefined())
		if err != nil {
			panic(err)
		}
		module = v
		return goja.Undefined()
	})
	defer func() {
		if previous == nil {
			vm.GlobalObject().Delete("define")
		} else {
			vm.Set("define", previous)
		}
	}()

	var value goja.Value
	err := a.rt.guard(context.Background(), a.page, func() error {
		var err error
		value, err = vm.RunString(script)
		return err
	})
	if err != nil {
		return nil, err
	}

	if module != nil && !goja.IsUndefined(module) && !goja.IsNull(module) {
		if exported, ok := module.(*goja.Object); ok {
			if def, ok := exported.Get("default").(*goja.Object); ok && !isFunction(def) {
				value = def
			}
		}
	}

	object, ok := value.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("TypeError: registration script evaluated to %s, not an object", typeOf(value))
	}
	return object, nil
}

func (a *agent) unregister(args []any) {
	regID, ok := protocol.Int64(arg(args, 0))
	if !ok {
		return
	}
	a.drop(regID, errUnregistered)
}

func (a *agent) drop(regID int64, reason error) {
	ro, ok := a.objects[regID]
	if !ok {
		return
	}
	delete(a.objects, regID)
	delete(a.routes, channel.Message(regID))
	delete(a.routes, channel.SyncMessage(regID))
	ro.table.RejectAll(reason)
}

func (a *agent) syncResolve(args []any) {
	ro, syncID, ok := a.lookupSync(args)
	if !ok {
		return
	}
	ro.table.Resolve(syncID, arg(args, 2))
}

func (a *agent) syncReject(args []any) {
	ro, syncID, ok := a.lookupSync(args)
	if !ok {
		return
	}
	ro.table.Reject(syncID, errors.New(protocol.Text(arg(args, 2))))
}

func (a *agent) lookupSync(args []any) (*remoteObject, id.SyncID, bool) {
	regID, ok := protocol.Int64(arg(args, 0))
	if !ok {
		return nil, 0, false
	}
	syncID, ok := protocol.Int64(arg(args, 1))
	if !ok {
		return nil, 0, false
	}
	ro, ok := a.objects[regID]
	return ro, id.SyncID(syncID), ok
}

// message invokes a method for a fire-and-forget host call
func (a *agent) message(ro *remoteObject, args []any) {
	method, _ := protocol.String(arg(args, 0))
	fn, ok := goja.AssertFunction(ro.object.Get(method))
	if !ok {
		a.rt.console(a.page, "warn", fmt.Sprintf("%v: %s", errMethodNotFound, method))
		return
	}

	err := a.rt.guard(context.Background(), a.page, func() error {
		_, err := fn(ro.object, a.values(rest(args, 1))...)
		return err
	})
	if err != nil {
		a.rt.console(a.page, "error", errorText(err))
	}
}

// syncMessage invokes a method for a host request and replies with its outcome
func (a *agent) syncMessage(ro *remoteObject, args []any) {
	syncID, ok := protocol.Int64(arg(args, 0))
	if !ok {
		return
	}
	method, _ := protocol.String(arg(args, 1))
	resolveCh := channel.Name(channel.EventSyncResolve)
	rejectCh := channel.Name(channel.EventSyncReject)

	fn, ok := goja.AssertFunction(ro.object.Get(method))
	if !ok {
		a.post(rejectCh, ro.id, syncID, fmt.Sprintf("%v: %s", errMethodNotFound, method))
		return
	}

	vm := a.page.vm
	onResolve := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if err := a.rt.post(resolveCh, ro.id, syncID, exportValue(call.Argument(0))); err != nil {
			a.post(rejectCh, ro.id, syncID, err.Error())
		}
		return goja.Undefined()
	})
	onReject := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		a.post(rejectCh, ro.id, syncID, call.Argument(0).String())
		return goja.Undefined()
	})

	err := a.rt.guard(context.Background(), a.page, func() error {
		result, err := fn(ro.object, a.values(rest(args, 2))...)
		if err != nil {
			return err
		}
		_, err = a.settle(goja.Undefined(), result, onResolve, onReject)
		return err
	})
	if err != nil {
		a.post(rejectCh, ro.id, syncID, errorText(err))
	}
}

// makeCall implements object.call(method, ...args)
func (a *agent) makeCall(ro *remoteObject) func(goja.FunctionCall) goja.Value {
	vm := a.page.vm
	return func(call goja.FunctionCall) goja.Value {
		payload := append([]any{ro.id, call.Argument(0).String()}, exportAll(rest(call.Arguments, 1))...)
		if err := a.rt.post(channel.Name(channel.EventMessage), payload...); err != nil {
			panic(vm.NewTypeError(err.Error()))
		}
		return goja.Undefined()
	}
}

// makeRequest implements object.request(method, ...args), returning a promise
func (a *agent) makeRequest(ro *remoteObject) func(goja.FunctionCall) goja.Value {
	vm := a.page.vm
	return func(call goja.FunctionCall) goja.Value {
		handles, err := a.deferred(goja.Undefined())
		if err != nil {
			panic(err)
		}
		h := handles.ToObject(vm)
		resolve, _ := goja.AssertFunction(h.Get("resolve"))
		reject, _ := goja.AssertFunction(h.Get("reject"))

		syncID, pending := ro.table.Allocate()
		pending.Then(func(value any, err error) {
			a.rt.schedule(a.page, func() {
				_ = a.rt.guard(context.Background(), a.page, func() error {
					if err != nil {
						_, err := reject(goja.Undefined(), vm.ToValue(err.Error()))
						return err
					}
					_, err := resolve(goja.Undefined(), vm.ToValue(value))
					return err
				})
			})
		})

		payload := append([]any{ro.id, int64(syncID), call.Argument(0).String()}, exportAll(rest(call.Arguments, 1))...)
		if err := a.rt.post(channel.Name(channel.EventSyncMessage), payload...); err != nil {
			ro.table.Reject(syncID, err)
		}
		return h.Get("promise")
	}
}

// post sends to the host, reporting failures on the console
func (a *agent) post(ch string, args ...any) {
	if err := a.rt.post(ch, args...); err != nil {
		a.rt.console(a.page, "error", err.Error())
	}
}

func (a *agent) values(args []any) []goja.Value {
	values := make([]goja.Value, len(args))
	for i, v := range args {
		values[i] = a.page.vm.ToValue(v)
	}
	return values
}

func exportAll(values []goja.Value) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = exportValue(v)
	}
	return out
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func rest[T any](args []T, from int) []T {
	if from < len(args) {
		return args[from:]
	}
	return nil
}

func isFunction(v goja.Value) bool {
	_, ok := goja.AssertFunction(v)
	return ok
}

func typeOf(v goja.Value) string {
	switch {
	case v == nil || goja.IsUndefined(v):
		return "undefined"
	case goja.IsNull(v):
		return "null"
	default:
		return v.ExportType().String()
	}
}
