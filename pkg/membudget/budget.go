// Package membudget bounds the number of bytes buffered by uploads.
//
// Every part buffer reserves its full size before the first byte is copied in
// and releases it once the part upload has finished, so the sum of buffered
// and in-flight bytes never exceeds the budget. A Budget may be private to one
// upload or shared by several uploads running in the same process.
package membudget

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// DefaultBudgetBytes is the fallback process budget when system RAM cannot be detected.
const DefaultBudgetBytes uint64 = 1024 * 1024 * 1024

// ErrExceedsBudget is returned when a single reservation is larger than the whole budget.
var ErrExceedsBudget = errors.New("membudget: reservation exceeds total budget")

// Source indicates how the budget was determined.
type Source string

const (
	// SourceAutoRAM indicates the budget is a fraction of detected RAM.
	SourceAutoRAM Source = "auto-ram"
	// SourceDefault indicates the budget used the fallback default.
	SourceDefault Source = "default"
	// SourceUpload indicates a private per-upload budget (part size x concurrency).
	SourceUpload Source = "upload"
	// SourceCLI indicates the budget was set via CLI flag.
	SourceCLI Source = "cli"
	// SourceEnv indicates the budget was set via environment variable.
	SourceEnv Source = "env"
)

// Budget tracks reserved bytes against a fixed total.
//
// Budget is safe for concurrent use.
type Budget struct {
	total  uint64
	source Source

	mu      sync.Mutex
	cond    *sync.Cond
	inUse   uint64
	peak    uint64
	waiting int
}

// Config holds configuration for creating a Budget.
type Config struct {
	// TotalBytes is the total memory budget in bytes.
	TotalBytes uint64

	// Source indicates how the budget was determined.
	Source Source
}

// New creates a new Budget with the given configuration.
func New(cfg Config) *Budget {
	b := &Budget{
		total:  cfg.TotalBytes,
		source: cfg.Source,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewFromSystemRAM creates a Budget set to a quarter of system RAM, or
// DefaultBudgetBytes when RAM cannot be detected.
func NewFromSystemRAM() *Budget {
	ram, ok := SystemRAM()
	if !ok {
		return New(Config{TotalBytes: DefaultBudgetBytes, Source: SourceDefault})
	}
	return New(Config{TotalBytes: ram / 4, Source: SourceAutoRAM})
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 {
	return b.total
}

// Source returns how the budget was determined.
func (b *Budget) Source() Source {
	return b.source
}

// InUse returns the currently reserved bytes.
func (b *Budget) InUse() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// Available returns total minus reserved bytes.
func (b *Budget) Available() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - b.inUse
}

// TryReserve reserves n bytes if they are available without blocking.
func (b *Budget) TryReserve(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryReserveLocked(n)
}

// Reserve blocks until n bytes can be reserved or ctx is done.
func (b *Budget) Reserve(ctx context.Context, n uint64) error {
	if n > b.total {
		return fmt.Errorf("reserve %d of %d bytes: %w", n, b.total, ErrExceedsBudget)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tryReserveLocked(n) {
		return nil
	}

	// Wake the waiters when ctx ends so they can observe ctx.Err.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.waiting++
	defer func() { b.waiting-- }()
	for !b.tryReserveLocked(n) {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	return nil
}

func (b *Budget) tryReserveLocked(n uint64) bool {
	if b.inUse+n > b.total {
		return false
	}
	b.inUse += n
	if b.inUse > b.peak {
		b.peak = b.inUse
	}
	return true
}

// Release returns n bytes to the budget and wakes blocked reservations.
func (b *Budget) Release(n uint64) {
	b.mu.Lock()
	if n > b.inUse {
		n = b.inUse
	}
	b.inUse -= n
	b.mu.Unlock()

	b.cond.Broadcast()
}

// Stats is a snapshot of the budget.
type Stats struct {
	TotalBytes     uint64
	InUseBytes     uint64
	PeakBytes      uint64
	AvailableBytes uint64
	Waiting        int
	Source         Source
	UsagePercent   float64
}

// Stats returns current budget statistics.
func (b *Budget) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	var pct float64
	if b.total > 0 {
		pct = float64(b.inUse) / float64(b.total) * 100.0
	}
	return Stats{
		TotalBytes:     b.total,
		InUseBytes:     b.inUse,
		PeakBytes:      b.peak,
		AvailableBytes: b.total - b.inUse,
		Waiting:        b.waiting,
		Source:         b.source,
		UsagePercent:   pct,
	}
}
