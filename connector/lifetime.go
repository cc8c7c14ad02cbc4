package connector

import (
	"fmt"
	"sync/atomic"

	"gomemflow/memory"
)

// Lifetime tracks whether an owner has been closed. Connectors and os layers
// embed it so derived handles can detect use after close.
type Lifetime struct {
	closed atomic.Bool
}

// Alive reports whether MarkClosed has not been called yet.
func (l *Lifetime) Alive() bool {
	return !l.closed.Load()
}

// MarkClosed flips the lifetime to closed and reports whether this call did it.
func (l *Lifetime) MarkClosed() bool {
	return l.closed.CompareAndSwap(false, true)
}

// Check returns ErrDetachedProcess once closed.
func (l *Lifetime) Check(what string) error {
	if l.closed.Load() {
		return fmt.Errorf("%s closed: %w", what, memory.ErrDetachedProcess)
	}
	return nil
}
