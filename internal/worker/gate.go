package worker

import (
	"context"
	"math"

	"golang.org/x/sync/semaphore"
)

// FinishGate counts workers that have been spawned but have not yet
// reported their bootstrap evaluation finished. Spawning acquires one
// unit, the finished notification releases it; Wait drains by taking
// the whole capacity, so it returns only when every outstanding worker
// has finished (or been torn down). Used for bounded backpressure and
// for test-mode shutdown.
type FinishGate struct {
	sem *semaphore.Weighted
	cap int64
}

func NewFinishGate() *FinishGate {
	c := int64(math.MaxInt32)
	return &FinishGate{sem: semaphore.NewWeighted(c), cap: c}
}

// Started registers a spawned worker. The capacity is effectively
// unbounded, so this never blocks in practice.
func (g *FinishGate) Started() {
	_ = g.sem.Acquire(context.Background(), 1)
}

// Finished balances one Started.
func (g *FinishGate) Finished() {
	g.sem.Release(1)
}

// Wait blocks until every started worker has finished.
func (g *FinishGate) Wait(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, g.cap); err != nil {
		return err
	}
	g.sem.Release(g.cap)
	return nil
}
