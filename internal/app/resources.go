package app

import (
	"context"
	"sync"
)

// Resources gates navigation until deferred application code has loaded.
// Split app bundles close the gate at bootstrap and open it once the full
// page bundle is in.
type Resources struct {
	mu     sync.Mutex
	loaded bool
	ready  chan struct{}
}

// NewResources returns a gate, open when loaded is true.
func NewResources(loaded bool) *Resources {
	r := &Resources{loaded: loaded, ready: make(chan struct{})}
	if loaded {
		close(r.ready)
	}
	return r
}

// Reset closes the gate. It is a no-op when the gate is already closed.
func (r *Resources) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded {
		return
	}
	r.loaded = false
	r.ready = make(chan struct{})
}

// MarkLoaded opens the gate and releases every waiter.
func (r *Resources) MarkLoaded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return
	}
	r.loaded = true
	close(r.ready)
}

// Loaded reports whether the gate is open.
func (r *Resources) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

// Wait blocks until the gate opens or ctx is done.
func (r *Resources) Wait(ctx context.Context) error {
	r.mu.Lock()
	ready := r.ready
	r.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
