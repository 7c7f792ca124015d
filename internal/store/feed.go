// Package store implements the client-side state layer: the session
// manager, the account registry, the transaction ledger cache and the
// Garzon operational session. Each store owns its state behind a narrow
// operation set and publishes immutable snapshots to subscribers; all
// cross-store effects are wired by the reactor package through these
// subscriptions, never by reaching into another store's internals.
package store

import (
	"sort"
	"sync"
)

// feed fans a store's state snapshots out to subscribers. Snapshots are
// delivered synchronously, in subscription order, after the publishing
// store has released its own state lock.
type feed[T any] struct {
	mu   sync.Mutex
	subs map[uint64]func(T)
	next uint64
}

// subscribe registers fn and returns a cancel function.
func (f *feed[T]) subscribe(fn func(T)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.subs == nil {
		f.subs = make(map[uint64]func(T))
	}
	id := f.next
	f.next++
	f.subs[id] = fn

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// publish delivers the snapshot to every subscriber.
func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	fns := make([]func(T), 0, len(f.subs))
	ids := make([]uint64, 0, len(f.subs))
	for id := range f.subs {
		ids = append(ids, id)
	}
	// Map iteration order is random; deliver in subscription order so
	// rule evaluation is deterministic.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, f.subs[id])
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
