// Package benchutil provides synthetic input streams and transport latency
// for upload benchmarks.
package benchutil

import (
	"context"
	"io"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/eunmann/s3-upload-stream/pkg/transport/memtransport"
)

// SkipIfNoLongBench skips the benchmark if S3UP_LONG_BENCH is not set.
// Use this to gate long-running benchmarks that shouldn't run by default.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("S3UP_LONG_BENCH") == "" {
		b.Skip("set S3UP_LONG_BENCH=1 to run scaling benchmark")
	}
}

// StreamConfig configures a synthetic input stream.
type StreamConfig struct {
	// Size is the total number of bytes produced.
	Size int64
	// ChunkMin and ChunkMax bound the length returned by each Read, which
	// mimics a producer writing in uneven pieces. Zero means up to len(p).
	ChunkMin, ChunkMax int
	// Seed for reproducible data. 0 = use default seed.
	Seed int64
}

type stream struct {
	cfg  StreamConfig
	rng  *rand.Rand
	left int64
}

// NewStream returns a reader producing cfg.Size pseudo-random bytes.
func NewStream(cfg StreamConfig) io.Reader {
	seed := cfg.Seed
	if seed == 0 {
		seed = 42
	}
	return &stream{cfg: cfg, rng: rand.New(rand.NewSource(seed)), left: cfg.Size}
}

func (s *stream) Read(p []byte) (int, error) {
	if s.left <= 0 {
		return 0, io.EOF
	}
	n := len(p)
	if s.cfg.ChunkMax > 0 {
		span := s.cfg.ChunkMax - s.cfg.ChunkMin
		want := s.cfg.ChunkMin
		if span > 0 {
			want += s.rng.Intn(span + 1)
		}
		n = min(n, max(want, 1))
	}
	n = int(min(int64(n), s.left))
	s.rng.Read(p[:n])
	s.left -= int64(n)
	return n, nil
}

// WithLatency installs a fixed per-part delay on t, simulating network time.
// The delay honors cancellation.
func WithLatency(t *memtransport.Transport, d time.Duration) *memtransport.Transport {
	t.Hooks.Part = func(ctx context.Context, _ int32, _ []byte) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return t
}
