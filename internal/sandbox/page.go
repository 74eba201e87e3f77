package sandbox

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/loader"
	"github.com/dop251/goja"
)

// minInterval keeps setInterval(fn, 0) from monopolizing the loop
const minInterval = time.Millisecond

// page is one navigation: a VM, its document and its agent
type page struct {
	generation uint64
	url        string
	vm         *goja.Runtime
	doc        *loader.Document
	dom        *DOM
	agent      *agent

	timers    map[int64]*time.Timer
	nextTimer int64
}

func (r *Runtime) newPage(gen uint64, src string, doc *loader.Document) *page {
	vm := goja.New()
	if r.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(r.config.MaxCallStackSize)
	}

	p := &page{
		generation: gen,
		url:        src,
		vm:         vm,
		doc:        doc,
		dom:        NewDOM(doc.HTML),
		timers:     make(map[int64]*time.Timer),
	}
	r.setupGlobals(p)
	p.agent = newAgent(r, p)
	return p
}

// teardown stops everything the page scheduled
func (p *page) teardown() {
	for tid, t := range p.timers {
		t.Stop()
		delete(p.timers, tid)
	}
	p.agent.close()
}

// setupGlobals configures global objects and security
func (r *Runtime) setupGlobals(p *page) {
	vm := p.vm

	// Remove dangerous globals
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	global := vm.GlobalObject()
	vm.Set("window", global)
	vm.Set("self", global)
	vm.Set("location", r.location(p))

	navigator := vm.NewObject()
	navigator.Set("userAgent", r.session.UserAgent())
	vm.Set("navigator", navigator)

	vm.Set("document", r.document(p))

	if r.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "warn", "error", "info", "debug"} {
			console.Set(level, r.makeConsoleFunc(p, level))
		}
		vm.Set("console", console)
	}

	vm.Set("setTimeout", r.makeTimerFunc(p, false))
	vm.Set("setInterval", r.makeTimerFunc(p, true))
	vm.Set("clearTimeout", r.makeClearTimerFunc(p))
	vm.Set("clearInterval", r.makeClearTimerFunc(p))

	vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError("atob: invalid base64"))
		}
		return vm.ToValue(string(decoded))
	})
	vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})
}

func (r *Runtime) location(p *page) *goja.Object {
	loc := p.vm.NewObject()
	loc.Set("href", p.url)
	loc.Set("toString", func(goja.FunctionCall) goja.Value { return p.vm.ToValue(p.url) })

	u, err := url.Parse(p.url)
	if err != nil {
		return loc
	}
	loc.Set("protocol", u.Scheme+":")
	loc.Set("host", u.Host)
	loc.Set("hostname", u.Hostname())
	loc.Set("port", u.Port())
	loc.Set("pathname", u.EscapedPath())
	loc.Set("search", prefixed("?", u.RawQuery))
	loc.Set("hash", prefixed("#", u.Fragment))
	if u.Host != "" {
		loc.Set("origin", u.Scheme+"://"+u.Host)
	} else {
		loc.Set("origin", "null")
	}
	return loc
}

func prefixed(prefix, s string) string {
	if s == "" {
		return ""
	}
	return prefix + s
}

// makeConsoleFunc creates a console function
func (r *Runtime) makeConsoleFunc(p *page, level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		r.console(p, level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// makeTimerFunc implements setTimeout and setInterval on the event loop
func (r *Runtime) makeTimerFunc(p *page, repeat bool) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(p.vm.NewTypeError("timer callback is not a function"))
		}
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		if repeat && delay < minInterval {
			delay = minInterval
		}
		var extra []goja.Value
		if len(call.Arguments) > 2 {
			extra = append(extra, call.Arguments[2:]...)
		}

		p.nextTimer++
		tid := p.nextTimer

		var arm func()
		arm = func() {
			p.timers[tid] = time.AfterFunc(delay, func() {
				r.schedule(p, func() {
					if _, live := p.timers[tid]; !live {
						return
					}
					if !repeat {
						delete(p.timers, tid)
					}
					err := r.guard(context.Background(), p, func() error {
						_, err := fn(goja.Undefined(), extra...)
						return err
					})
					if err != nil {
						r.console(p, "error", errorText(err))
					}
					if _, live := p.timers[tid]; live && repeat {
						arm()
					}
				})
			})
		}
		arm()

		return p.vm.ToValue(tid)
	}
}

func (r *Runtime) makeClearTimerFunc(p *page) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		tid := call.Argument(0).ToInteger()
		if t, ok := p.timers[tid]; ok {
			t.Stop()
			delete(p.timers, tid)
		}
		return goja.Undefined()
	}
}
