// Package signalbus republishes engine lifecycle signals to waiters.
package signalbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
)

// ErrTimeout is returned when no matching signal arrives in time
var ErrTimeout = errors.New("signal wait timeout")

// Predicate selects the signals a waiter is interested in
type Predicate func(engine.Signal) bool

// Named matches signals by name
func Named(name string) Predicate {
	return func(s engine.Signal) bool { return s.Signal == name }
}

// Bus fans engine signals out to one-shot waiters
type Bus struct {
	mu      sync.Mutex
	waiters map[uint64]*Waiter
	nextID  uint64
	timeout time.Duration
}

// New creates a bus whose waits fail after timeout
func New(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = engine.DefaultSignalTimeout
	}
	return &Bus{
		waiters: make(map[uint64]*Waiter),
		timeout: timeout,
	}
}

// Publish delivers sig to every pending waiter whose predicate matches.
// Matched waiters are removed; each waiter receives at most one signal.
func (b *Bus) Publish(sig engine.Signal) {
	logger.WithComponent("signalbus").Debug().
		Str("type", sig.Type).
		Str("signal", sig.Signal).
		Int("code", sig.Code).
		Str("error", sig.Error).
		Msg("Engine signal")

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, w := range b.waiters {
		if !w.pred(sig) {
			continue
		}
		w.ch <- sig
		delete(b.waiters, id)
	}
}

// Pending returns the number of registered waiters
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// Expect registers a waiter before the action that triggers the signal, so
// a fast engine cannot deliver it before anyone listens.
func (b *Bus) Expect(pred Predicate) *Waiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	w := &Waiter{
		bus:  b,
		id:   b.nextID,
		pred: pred,
		ch:   make(chan engine.Signal, 1),
	}
	b.waiters[w.id] = w
	return w
}

// WaitFor registers a waiter and blocks until it resolves
func (b *Bus) WaitFor(ctx context.Context, pred Predicate) (engine.Signal, error) {
	return b.Expect(pred).Wait(ctx)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.waiters, id)
	b.mu.Unlock()
}

// Waiter is a pending one-shot subscription
type Waiter struct {
	bus  *Bus
	id   uint64
	pred Predicate
	ch   chan engine.Signal
}

// Wait blocks until a matching signal arrives, the bus timeout elapses or
// ctx is done. The waiter is unregistered on return.
func (w *Waiter) Wait(ctx context.Context) (engine.Signal, error) {
	timer := time.NewTimer(w.bus.timeout)
	defer timer.Stop()
	defer w.Cancel()

	select {
	case sig := <-w.ch:
		return sig, nil
	case <-timer.C:
		return engine.Signal{}, fmt.Errorf("%w after %s", ErrTimeout, w.bus.timeout)
	case <-ctx.Done():
		return engine.Signal{}, ctx.Err()
	}
}

// Cancel unregisters the waiter
func (w *Waiter) Cancel() {
	w.bus.remove(w.id)
}
