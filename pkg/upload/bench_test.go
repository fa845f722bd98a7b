package upload

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/eunmann/s3-upload-stream/pkg/benchutil"
	"github.com/eunmann/s3-upload-stream/pkg/transport"
	"github.com/eunmann/s3-upload-stream/pkg/transport/memtransport"
)

/*
Upload engine benchmarks

These stream synthetic data through the engine into the in-memory transport
with a fixed per-part latency, so the numbers show how concurrency hides
transport time and what the engine itself costs per byte.

Run quick comparison:
  go test -bench='BenchmarkUpload/' -benchtime=3x ./pkg/upload/...

Run scaling tests:
  S3UP_LONG_BENCH=1 go test -bench='BenchmarkUpload_Scaling' -benchtime=1x ./pkg/upload/...
*/

// BenchmarkUpload compares concurrency levels on a 64 MiB stream.
func BenchmarkUpload(b *testing.B) {
	for _, c := range []int{1, 4, 8} {
		b.Run(fmt.Sprintf("concurrency=%d", c), func(b *testing.B) {
			benchmarkUpload(b, 64<<20, c, 10*time.Millisecond)
		})
	}
}

// BenchmarkUpload_Scaling runs larger streams (gated).
func BenchmarkUpload_Scaling(b *testing.B) {
	benchutil.SkipIfNoLongBench(b)

	for _, size := range []int64{256 << 20, 1 << 30} {
		b.Run(fmt.Sprintf("size=%dMiB", size>>20), func(b *testing.B) {
			benchmarkUpload(b, size, 8, 10*time.Millisecond)
		})
	}
}

func benchmarkUpload(b *testing.B, size int64, concurrency int, latency time.Duration) {
	b.Helper()
	b.ReportAllocs()
	b.SetBytes(size)

	dest := transport.Destination{Bucket: "bench", Key: "obj"}
	for i := range b.N {
		mt := benchutil.WithLatency(memtransport.New(), latency)
		src := benchutil.NewStream(benchutil.StreamConfig{Size: size, ChunkMin: 1 << 10, ChunkMax: 256 << 10, Seed: int64(i + 1)})

		obj, err := Upload(context.Background(), mt, dest, src, Config{Concurrency: concurrency})
		if err != nil {
			b.Fatalf("upload: %v", err)
		}
		if obj == nil {
			b.Fatal("nil object")
		}
	}
}
