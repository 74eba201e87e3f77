// Package promise provides a settle-once future used for registration and
// request results.
//
// A Promise is settled by exactly one call to Resolve or Reject; later calls
// report false and change nothing. Waiters block on Wait or select on Done.
package promise

import (
	"context"
	"sync"
)

// Promise is a value that becomes available once.
type Promise[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error

	mu        sync.Mutex
	callbacks []func(T, error)
}

// New creates a pending promise
func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolved returns a promise already settled with value
func Resolved[T any](value T) *Promise[T] {
	p := New[T]()
	p.Resolve(value)
	return p
}

// Rejected returns a promise already settled with err
func Rejected[T any](err error) *Promise[T] {
	p := New[T]()
	p.Reject(err)
	return p
}

// Resolve settles the promise with a value. Reports whether this call settled it.
func (p *Promise[T]) Resolve(value T) bool {
	return p.settle(value, nil)
}

// Reject settles the promise with an error. Reports whether this call settled it.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.settle(zero, err)
}

func (p *Promise[T]) settle(value T, err error) bool {
	settled := false
	p.once.Do(func() {
		p.mu.Lock()
		p.value = value
		p.err = err
		callbacks := p.callbacks
		p.callbacks = nil
		close(p.done)
		p.mu.Unlock()

		for _, cb := range callbacks {
			cb(value, err)
		}
		settled = true
	})
	return settled
}

// Done is closed once the promise settles
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Settled reports whether the promise has settled
func (p *Promise[T]) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Result returns the settled value and error. Only meaningful after Done.
func (p *Promise[T]) Result() (T, error) {
	<-p.done
	return p.value, p.err
}

// Wait blocks until the promise settles or ctx is done
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to run once the promise settles. If it already has, fn
// runs immediately on the calling goroutine.
func (p *Promise[T]) Then(fn func(T, error)) {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		fn(p.value, p.err)
		return
	default:
	}
	p.callbacks = append(p.callbacks, fn)
	p.mu.Unlock()
}
