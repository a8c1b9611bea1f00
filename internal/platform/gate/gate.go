package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is an exclusive-access primitive. At most one holder runs inside the
// guarded section at a time.
type Gate struct {
	sem    *semaphore.Weighted
	locked atomic.Bool
}

var (
	sharedOnce sync.Once
	shared     *Gate
)

// New returns a gate unrelated to any other instance.
func New() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Acquire returns the process-wide gate when useShared is true and a fresh
// independent gate otherwise.
func Acquire(useShared bool) *Gate {
	if !useShared {
		return New()
	}
	sharedOnce.Do(func() {
		shared = New()
	})
	return shared
}

// Lock blocks until the gate is held or ctx is done.
func (g *Gate) Lock(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	g.locked.Store(true)
	return nil
}

func (g *Gate) TryLock() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.locked.Store(true)
	return true
}

func (g *Gate) Unlock() {
	g.locked.Store(false)
	g.sem.Release(1)
}

// IsLocked is advisory; the answer may be stale by the time it is used.
func (g *Gate) IsLocked() bool {
	return g.locked.Load()
}

// RunExclusive runs fn while holding the gate and releases it on every exit
// path, including a panic inside fn.
func (g *Gate) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if err := g.Lock(ctx); err != nil {
		return fmt.Errorf("acquire gate: %w", err)
	}
	defer g.Unlock()
	return fn(ctx)
}
