package memory

import (
	"context"
	"sync/atomic"
)

// ConcurrencyGate is the single-process transfer ceiling: an atomic counter
// updated by compare-and-swap, never read-modify-write. This is the
// in-memory shape of the shared-counter redesign; multi-instance
// deployments use the Redis gate instead.
type ConcurrencyGate struct {
	active atomic.Int64
	max    int64
}

// NewConcurrencyGate creates a gate with the given ceiling.
func NewConcurrencyGate(max int) *ConcurrencyGate {
	if max <= 0 {
		max = 5
	}
	return &ConcurrencyGate{max: int64(max)}
}

func (g *ConcurrencyGate) TryAcquire(_ context.Context) (bool, error) {
	for {
		cur := g.active.Load()
		if cur >= g.max {
			return false, nil
		}
		if g.active.CompareAndSwap(cur, cur+1) {
			return true, nil
		}
	}
}

func (g *ConcurrencyGate) Release(_ context.Context) error {
	for {
		cur := g.active.Load()
		if cur <= 0 {
			return nil
		}
		if g.active.CompareAndSwap(cur, cur-1) {
			return nil
		}
	}
}

// Active reports the current in-flight count. Test hook.
func (g *ConcurrencyGate) Active() int64 {
	return g.active.Load()
}
