package upload

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/eunmann/s3-upload-stream/pkg/membudget"
)

// gate bounds part uploads in flight and bytes held in part buffers.
//
// A part buffer reserves partSize bytes from the budget before its first
// byte is written and gives them back once its upload finishes. Submitting a
// full buffer takes one of max upload slots. Either wait blocks the producer,
// which is the backpressure the Engine applies to its writer.
type gate struct {
	slots    *semaphore.Weighted
	max      int
	inFlight atomic.Int32

	budget   *membudget.Budget
	partSize uint64
}

func newGate(max int, budget *membudget.Budget, partSize int64) *gate {
	return &gate{
		slots:    semaphore.NewWeighted(int64(max)),
		max:      max,
		budget:   budget,
		partSize: uint64(partSize),
	}
}

// reserve blocks until a part buffer's worth of memory is available.
func (g *gate) reserve(ctx context.Context) error {
	return g.budget.Reserve(ctx, g.partSize)
}

func (g *gate) unreserve() {
	g.budget.Release(g.partSize)
}

// acquire blocks until an upload slot is free.
func (g *gate) acquire(ctx context.Context) error {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	g.inFlight.Add(1)
	return nil
}

func (g *gate) release() {
	g.inFlight.Add(-1)
	g.slots.Release(1)
}

// saturated reports whether every upload slot is taken.
func (g *gate) saturated() bool {
	return int(g.inFlight.Load()) >= g.max
}
