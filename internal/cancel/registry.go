// Package cancel tracks long-running operations so callers can abort them.
//
// The registry is process-wide and in-memory only. Operations in flight when
// the process exits are forgotten and cannot be cancelled after a restart.
package cancel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRegistryFull is returned by Register when the bound is reached.
var ErrRegistryFull = errors.New("cancellation registry full")

// Operation describes a registered operation.
type Operation struct {
	ID        string
	OwnerID   string
	StartedAt time.Time
}

type entry struct {
	op     Operation
	cancel context.CancelFunc
}

// Registry maps operation ids to cancel handles.
type Registry struct {
	mu      sync.Mutex
	max     int
	entries map[string]*entry
}

// NewRegistry creates a registry holding at most max operations.
// A max of zero or less means unbounded.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:     max,
		entries: make(map[string]*entry),
	}
}

// Register adds an operation. It fails if the id is already registered or the
// registry is full.
func (r *Registry) Register(operationID, ownerID string, cancel context.CancelFunc) error {
	if operationID == "" {
		return fmt.Errorf("operation id is required")
	}
	if cancel == nil {
		return fmt.Errorf("cancel handle is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[operationID]; ok {
		return fmt.Errorf("operation %s already registered", operationID)
	}
	if r.max > 0 && len(r.entries) >= r.max {
		return ErrRegistryFull
	}

	r.entries[operationID] = &entry{
		op:     Operation{ID: operationID, OwnerID: ownerID, StartedAt: time.Now()},
		cancel: cancel,
	}
	return nil
}

// Cancel signals the operation and removes it. It returns false when the id
// is unknown or already finished.
func (r *Registry) Cancel(operationID string) bool {
	r.mu.Lock()
	e, ok := r.entries[operationID]
	if ok {
		delete(r.entries, operationID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.cancel()
	return true
}

// Unregister removes an operation without signaling it. Unknown ids are ignored.
func (r *Registry) Unregister(operationID string) {
	r.mu.Lock()
	delete(r.entries, operationID)
	r.mu.Unlock()
}

// Lookup returns the registered operation, if any.
func (r *Registry) Lookup(operationID string) (Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[operationID]
	if !ok {
		return Operation{}, false
	}
	return e.op, true
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
