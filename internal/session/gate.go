package session

import (
	"errors"
	"sync"
)

// ErrActionPending is returned when a manual action is requested while
// another is still in flight. The request is rejected locally; no network
// call is made.
var ErrActionPending = errors.New("a manual action is already pending")

// actionGate serializes manual actions against the autonomous agent loop.
// It is a boolean mutex, not a queue: a second request while one is
// pending is rejected, not buffered.
type actionGate struct {
	mu      sync.Mutex
	pending bool
}

// TryAcquire claims the gate. It returns ErrActionPending without
// blocking when an action is already in flight.
func (g *actionGate) TryAcquire() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending {
		return ErrActionPending
	}
	g.pending = true
	return nil
}

// Release frees the gate. Releasing an unclaimed gate is a no-op.
func (g *actionGate) Release() {
	g.mu.Lock()
	g.pending = false
	g.mu.Unlock()
}
