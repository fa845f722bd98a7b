package memdiag

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/s3-upload-stream/pkg/membudget"
)

func TestSampleReportsBudget(t *testing.T) {
	b := membudget.New(membudget.Config{TotalBytes: 1 << 20, Source: membudget.SourceCLI})
	if !b.TryReserve(4096) {
		t.Fatal("TryReserve(4096) = false, want true")
	}
	defer b.Release(4096)

	tr := NewTracker(Config{}, b, zerolog.Nop())
	s := tr.Sample()

	if s.BudgetInUse != 4096 {
		t.Errorf("BudgetInUse = %d, want 4096", s.BudgetInUse)
	}
	if s.BudgetTotal != 1<<20 {
		t.Errorf("BudgetTotal = %d, want %d", s.BudgetTotal, 1<<20)
	}
	if s.HeapAlloc == 0 {
		t.Error("HeapAlloc = 0, want > 0")
	}
	if tr.PeakHeap() < s.HeapAlloc {
		t.Errorf("PeakHeap() = %d, want >= %d", tr.PeakHeap(), s.HeapAlloc)
	}
	if tr.cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v, want %v", tr.cfg.Interval, DefaultInterval)
	}
}

func TestSampleRatio(t *testing.T) {
	tests := []struct {
		name string
		s    Sample
		want float64
	}{
		{"nothing reserved", Sample{HeapAlloc: 100}, 0},
		{"equal", Sample{HeapAlloc: 100, BudgetInUse: 100}, 1},
		{"heap above budget", Sample{HeapAlloc: 300, BudgetInUse: 100}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Ratio(); got != tt.want {
				t.Errorf("Ratio() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLogNow(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	b := membudget.New(membudget.Config{TotalBytes: 1 << 20})

	NewTracker(Config{}, b, log).LogNow("test")

	out := buf.String()
	for _, field := range []string{`"reason":"test"`, `"budget_total"`, `"heap_alloc"`, `"memory stats"`} {
		if !strings.Contains(out, field) {
			t.Errorf("log output missing %s: %s", field, out)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	b := membudget.New(membudget.Config{TotalBytes: 1 << 20})
	tr := NewTracker(Config{Interval: time.Millisecond}, b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for tr.Samples() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if tr.Samples() < 3 {
		t.Errorf("Samples() = %d, want >= 3", tr.Samples())
	}
}
