// Package draw wires internal/rendezvous to internal/store: it is the
// "Rendezvous / draw coordinator" of spec §4.5. The n-th arrival scans the
// store, classifies every bet with the caller-supplied HasWon predicate,
// and publishes a write-once table of winning documents per agency before
// releasing any waiter.
package draw

import (
	"fmt"
	"sync/atomic"

	"github.com/fedepagnotta/lottery-server/internal/metrics"
	"github.com/fedepagnotta/lottery-server/internal/rendezvous"
	"github.com/fedepagnotta/lottery-server/internal/store"
)

// ErrBroken re-exports rendezvous.ErrBroken so callers of this package
// don't need to import internal/rendezvous directly.
var ErrBroken = rendezvous.ErrBroken

// winnersTable maps agency_id to its ordered winning documents.
type winnersTable map[int][]string

// Coordinator gates the one-time draw computation behind a barrier sized to
// the expected client count K.
type Coordinator struct {
	barrier *rendezvous.Barrier
	st      *store.Store
	hasWon  store.HasWon
	table   atomic.Pointer[winnersTable]
}

// New creates a Coordinator for expectedClients agencies.
func New(expectedClients int, st *store.Store, hasWon store.HasWon) *Coordinator {
	c := &Coordinator{st: st, hasWon: hasWon}
	c.barrier = rendezvous.New(expectedClients, c.runDraw)
	return c
}

// ArriveAndWait is called by a handler once it has reached FINISHED_SENDING.
// It returns once the draw has run (ErrBroken if shutdown aborted it first).
func (c *Coordinator) ArriveAndWait() error {
	return c.barrier.Wait()
}

// Abort breaks the barrier, releasing every blocked and future
// ArriveAndWait call with ErrBroken. Used by shutdown (spec §5).
func (c *Coordinator) Abort() {
	c.barrier.Abort()
}

// WinnersFor returns the winning documents for agency, or nil if the draw
// has not run yet or the agency has none. Safe to call concurrently once
// ArriveAndWait has returned without error.
func (c *Coordinator) WinnersFor(agency int) []string {
	t := c.table.Load()
	if t == nil {
		return nil
	}
	return (*t)[agency]
}

// runDraw is the barrier's on-release action: it executes exactly once,
// synchronously, on the goroutine that completes the K-th arrival.
func (c *Coordinator) runDraw() error {
	bets, err := c.st.Scan()
	if err != nil {
		return fmt.Errorf("draw: scan failed: %w", err)
	}
	table := make(winnersTable)
	for _, b := range bets {
		if c.hasWon(b) {
			table[b.Agency] = append(table[b.Agency], b.Document)
		}
	}
	c.table.Store(&table)
	metrics.IncDraw(len(table))
	return nil
}
