package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"devicehub/clientobj"
)

// ClientTable is the in-memory directory of Client Objects this gateway
// process currently owns, keyed by client_id. It plays the role
// server_generic.py's Network.clients dict played: the single place a
// reconnecting device's frame finds its existing Client Object (or
// creates one), and the single place eviction removes it from.
type ClientTable struct {
	mu      sync.RWMutex
	clients map[string]*clientobj.Object
}

// NewClientTable creates an empty table.
func NewClientTable() *ClientTable {
	return &ClientTable{clients: make(map[string]*clientobj.Object)}
}

// GetOrCreate returns the existing Client Object for id, or creates one
// via newFn if none exists yet. newFn is only invoked while holding the
// write lock, so two concurrent logins for the same id never race to
// create two objects.
func (t *ClientTable) GetOrCreate(id string, newFn func() *clientobj.Object) *clientobj.Object {
	t.mu.RLock()
	obj, ok := t.clients[id]
	t.mu.RUnlock()
	if ok && !obj.Removed() {
		return obj
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if obj, ok := t.clients[id]; ok && !obj.Removed() {
		return obj
	}
	obj = newFn()
	t.clients[id] = obj
	return obj
}

// Get returns the Client Object for id, if any.
func (t *ClientTable) Get(id string) (*clientobj.Object, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.clients[id]
	return obj, ok
}

// Remove drops id from the table. Client Object eviction calls this via
// its onRemoved callback.
func (t *ClientTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
}

// Len returns the number of tracked Client Objects.
func (t *ClientTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

// AwaitConnection blocks until every id in ids has an attached transport,
// or timeout elapses, whichever comes first. An id with no Client Object
// in the table at all (never logged in, or already evicted) fails fast
// with ErrNoSuchClient rather than waiting out the full timeout; an id
// that exists but stays Disconnected/Closing past the deadline fails
// with ErrReadTimeout. ids are checked in order against one shared
// deadline, so the total wait is bounded by timeout regardless of how
// many ids are given.
func (t *ClientTable) AwaitConnection(ctx context.Context, ids []string, timeout time.Duration) error {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, id := range ids {
		obj, ok := t.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoSuchClient, id)
		}
		if err := obj.WaitConnected(deadline); err != nil {
			if errors.Is(err, clientobj.ErrRemoved) {
				return fmt.Errorf("%w: %s", ErrNoSuchClient, id)
			}
			return fmt.Errorf("%w: %s", ErrReadTimeout, id)
		}
	}
	return nil
}

// Range calls f for every tracked Client Object. Iteration stops early if
// f returns false. Used for shutdown broadcasts.
func (t *ClientTable) Range(f func(id string, obj *clientobj.Object) bool) {
	t.mu.RLock()
	snapshot := make(map[string]*clientobj.Object, len(t.clients))
	for k, v := range t.clients {
		snapshot[k] = v
	}
	t.mu.RUnlock()
	for id, obj := range snapshot {
		if !f(id, obj) {
			return
		}
	}
}
