// Package serializer runs workspace operations one at a time per
// workspace while letting operations on different workspaces proceed
// concurrently.
package serializer

import (
	"context"
	"fmt"
	"sync"
)

// Serializer chains operations per workspace key in submission order.
// Each operation waits for its predecessor on the same key to finish,
// whether that predecessor succeeded or failed. The zero value is not
// usable; call New.
type Serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// New returns an empty Serializer.
func New() *Serializer {
	return &Serializer{tails: make(map[string]chan struct{})}
}

// Run executes fn after every previously submitted operation for the
// same workspace key has finished. A failed predecessor does not block
// the chain; fn still runs. Run returns fn's error, or the context
// error when the context ends before fn's turn arrives. fn is skipped
// in that case, but the chain still advances past its slot.
func (s *Serializer) Run(ctx context.Context, workspaceID string, fn func(ctx context.Context) error) error {
	if workspaceID == "" {
		return fmt.Errorf("workspace id is required")
	}
	if fn == nil {
		return fmt.Errorf("operation is required")
	}

	slot := make(chan struct{})
	s.mu.Lock()
	predecessor := s.tails[workspaceID]
	s.tails[workspaceID] = slot
	s.mu.Unlock()

	if predecessor != nil {
		select {
		case <-predecessor:
		case <-ctx.Done():
			// The slot must not open before the predecessor finishes,
			// or a successor could overlap with it. Hand the release
			// off instead of closing here.
			go func() {
				<-predecessor
				s.release(workspaceID, slot)
			}()
			return ctx.Err()
		}
	}

	defer s.release(workspaceID, slot)

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// release opens the slot for the next operation and removes the
// registry entry once the chain drains. A successor that arrived
// meanwhile has replaced the tail, so the entry stays until that
// successor finishes.
func (s *Serializer) release(workspaceID string, slot chan struct{}) {
	close(slot)
	s.mu.Lock()
	if s.tails[workspaceID] == slot {
		delete(s.tails, workspaceID)
	}
	s.mu.Unlock()
}

// RunParallel executes fn immediately, outside the workspace chain.
// Use it for operations that do not read current state before writing.
func (s *Serializer) RunParallel(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("operation is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Idle reports whether no operations are queued or running for any
// workspace.
func (s *Serializer) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tails) == 0
}
