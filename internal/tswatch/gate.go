package tswatch

import (
	"sync"
	"sync/atomic"
)

// gate serializes handler calls and stops them for good once closed. After
// close returns no handler starts. close may be called from inside a handler,
// so a close that finds a handler running does not wait for it.
type gate struct {
	mu        sync.Mutex
	closed    atomic.Bool
	inHandler atomic.Bool
}

// do runs fn unless the gate is closed and reports whether it ran.
func (g *gate) do(fn func()) bool {
	if fn == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return false
	}
	g.inHandler.Store(true)
	defer g.inHandler.Store(false)
	if g.closed.Load() {
		return false
	}
	fn()
	return true
}

func (g *gate) close() {
	if g.closed.Swap(true) {
		return
	}
	if g.inHandler.Load() {
		return
	}
	// Wait out a do that passed its closed check but has not started fn.
	g.mu.Lock()
	g.mu.Unlock()
}

func (g *gate) isClosed() bool { return g.closed.Load() }
