// Package memdiag compares the Go heap with the bytes reserved in a
// membudget.Budget while uploads run.
//
// The budget only accounts for part buffers. A heap far above the budget
// points at buffers that escape the budget (retained request bodies, pool
// growth) rather than at the configured limit.
package memdiag

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	// Registers pprof handlers on DefaultServeMux for the pprof HTTP server.
	_ "net/http/pprof"

	"github.com/rs/zerolog"

	"github.com/eunmann/s3-upload-stream/pkg/humanfmt"
	"github.com/eunmann/s3-upload-stream/pkg/membudget"
)

// DefaultInterval is the sampling interval used when Config.Interval is zero.
const DefaultInterval = 5 * time.Second

// divergenceWarn is the heap/budget ratio above which a warning is logged.
const divergenceWarn = 2.0

// Config controls the tracker.
type Config struct {
	Interval time.Duration
	// PprofAddr starts a pprof server when set (e.g. "localhost:6060").
	PprofAddr string
}

// Sample is one heap and budget observation.
type Sample struct {
	HeapAlloc   uint64
	HeapSys     uint64
	Sys         uint64
	NumGC       uint32
	BudgetInUse uint64
	BudgetTotal uint64
	BudgetPeak  uint64
	Waiting     int
}

// Ratio returns HeapAlloc / BudgetInUse, or 0 while nothing is reserved.
func (s Sample) Ratio() float64 {
	if s.BudgetInUse == 0 {
		return 0
	}
	return float64(s.HeapAlloc) / float64(s.BudgetInUse)
}

// Tracker samples memory against one budget.
type Tracker struct {
	cfg    Config
	budget *membudget.Budget
	log    zerolog.Logger

	mu       sync.Mutex
	peakHeap uint64
	samples  int
}

// NewTracker returns a tracker for budget.
func NewTracker(cfg Config, budget *membudget.Budget, log zerolog.Logger) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Tracker{cfg: cfg, budget: budget, log: log}
}

// Sample reads runtime and budget statistics and updates the peak heap.
func (t *Tracker) Sample() Sample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	bs := t.budget.Stats()

	t.mu.Lock()
	t.peakHeap = max(t.peakHeap, m.HeapAlloc)
	t.samples++
	t.mu.Unlock()

	return Sample{
		HeapAlloc:   m.HeapAlloc,
		HeapSys:     m.HeapSys,
		Sys:         m.Sys,
		NumGC:       m.NumGC,
		BudgetInUse: bs.InUseBytes,
		BudgetTotal: bs.TotalBytes,
		BudgetPeak:  bs.PeakBytes,
		Waiting:     bs.Waiting,
	}
}

// LogNow samples once and logs the result.
func (t *Tracker) LogNow(reason string) Sample {
	s := t.Sample()
	t.log.Debug().
		Str("reason", reason).
		Str("heap_alloc", humanfmt.Bytes(int64(s.HeapAlloc))).
		Str("heap_sys", humanfmt.Bytes(int64(s.HeapSys))).
		Str("budget_inuse", humanfmt.Bytes(int64(s.BudgetInUse))).
		Str("budget_total", humanfmt.Bytes(int64(s.BudgetTotal))).
		Str("budget_peak", humanfmt.Bytes(int64(s.BudgetPeak))).
		Int("budget_waiting", s.Waiting).
		Float64("heap_vs_budget_ratio", s.Ratio()).
		Str("peak_heap", humanfmt.Bytes(int64(t.PeakHeap()))).
		Uint32("num_gc", s.NumGC).
		Msg("memory stats")

	if s.Ratio() > divergenceWarn && s.BudgetInUse >= 64<<20 {
		t.log.Warn().
			Str("heap_alloc", humanfmt.Bytes(int64(s.HeapAlloc))).
			Str("budget_inuse", humanfmt.Bytes(int64(s.BudgetInUse))).
			Float64("ratio", s.Ratio()).
			Msg("heap usage significantly exceeds budget")
	}
	return s
}

// PeakHeap returns the highest HeapAlloc seen.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

// Samples returns the number of samples taken.
func (t *Tracker) Samples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samples
}

// Run logs a sample every interval until ctx is done, then logs a final one.
func (t *Tracker) Run(ctx context.Context) {
	if t.cfg.PprofAddr != "" {
		go t.servePprof(ctx)
	}

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.LogNow("shutdown")
			return
		case <-ticker.C:
			t.LogNow("periodic")
		}
	}
}

func (t *Tracker) servePprof(ctx context.Context) {
	srv := &http.Server{Addr: t.cfg.PprofAddr, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	t.log.Info().Str("addr", t.cfg.PprofAddr).Msg("starting pprof server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		t.log.Error().Err(err).Msg("pprof server failed")
	}
}
