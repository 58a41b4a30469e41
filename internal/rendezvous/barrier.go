// Package rendezvous implements the cyclic barrier spec §4.5 and §9 ask
// for: n parties call Wait, the n-th call runs an on-release action
// synchronously before anyone is released, and Abort breaks the barrier for
// every current and future waiter. The standard library has no such
// primitive, so this composes sync.Mutex + sync.Cond + a generation counter
// (to avoid spurious wakeups across cycles) plus an abort flag consulted
// under the same mutex, exactly as the spec's design note recommends.
package rendezvous

import (
	"errors"
	"sync"
)

// ErrBroken is returned by every current and future Wait call once Abort
// has been invoked (spec §4.5).
var ErrBroken = errors.New("broken")

// Barrier gates n parties on a one-time (or cyclic, if reused) rendezvous.
type Barrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	n          int
	count      int
	generation uint64
	broken     bool
	action     func() error
	actionErr  error
}

// New creates a Barrier for n parties. action runs exactly once per cycle,
// synchronously on the goroutine that completes the n-th Wait, before any
// waiter (including that one) returns.
func New(n int, action func() error) *Barrier {
	b := &Barrier{n: n, action: action}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until n parties have called Wait in the current generation, or
// until Abort is called. It returns ErrBroken if the barrier is, or becomes,
// broken while waiting; it returns the action's error (if any) to every
// party released in the generation the action ran for.
func (b *Barrier) Wait() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken {
		return ErrBroken
	}

	gen := b.generation
	b.count++
	if b.count == b.n {
		var err error
		if b.action != nil {
			err = b.action()
		}
		b.actionErr = err
		b.count = 0
		b.generation++
		b.cond.Broadcast()
		return err
	}

	for gen == b.generation && !b.broken {
		b.cond.Wait()
	}
	if b.broken {
		return ErrBroken
	}
	return b.actionErr
}

// Abort breaks the barrier: every blocked Wait call returns ErrBroken
// immediately, and every future Wait call returns ErrBroken without
// blocking. Idempotent.
func (b *Barrier) Abort() {
	b.mu.Lock()
	b.broken = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Broken reports whether the barrier has been aborted.
func (b *Barrier) Broken() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}
