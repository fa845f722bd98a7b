package upload

import (
	"io"
	"sync"
)

// chunkBuffer accumulates bytes for one part at a time. It never holds more
// than threshold bytes: callers get back how much of their input was taken.
// Drained payloads can be handed back with recycle once uploaded.
//
// chunkBuffer is not safe for concurrent use, except recycle.
type chunkBuffer struct {
	threshold int
	buf       []byte
	pool      *sync.Pool
}

func newChunkBuffer(threshold int) *chunkBuffer {
	return &chunkBuffer{
		threshold: threshold,
		pool: &sync.Pool{New: func() any {
			b := make([]byte, 0, threshold)
			return &b
		}},
	}
}

func (b *chunkBuffer) open() {
	if b.buf == nil {
		b.buf = (*b.pool.Get().(*[]byte))[:0]
	}
}

// write appends as much of p as fits and reports whether the buffer is full.
func (b *chunkBuffer) write(p []byte) (n int, full bool) {
	b.open()
	n = min(len(p), b.threshold-len(b.buf))
	b.buf = append(b.buf, p[:n]...)
	return n, len(b.buf) >= b.threshold
}

// readFrom performs one Read from r directly into the free space.
func (b *chunkBuffer) readFrom(r io.Reader) (n int, full bool, err error) {
	b.open()
	n, err = r.Read(b.buf[len(b.buf):b.threshold])
	b.buf = b.buf[:len(b.buf)+n]
	return n, len(b.buf) >= b.threshold, err
}

// drain removes and returns the current contents.
func (b *chunkBuffer) drain() []byte {
	p := b.buf
	b.buf = nil
	return p
}

// flushRemainder returns the tail at end of stream, or nil if empty.
func (b *chunkBuffer) flushRemainder() []byte {
	if len(b.buf) == 0 {
		b.reset()
		return nil
	}
	return b.drain()
}

// reset discards the contents.
func (b *chunkBuffer) reset() {
	if b.buf != nil {
		b.recycle(b.buf)
		b.buf = nil
	}
}

func (b *chunkBuffer) len() int {
	return len(b.buf)
}

// recycle returns an uploaded payload's backing array to the pool.
func (b *chunkBuffer) recycle(p []byte) {
	if cap(p) < b.threshold {
		return
	}
	p = p[:0]
	b.pool.Put(&p)
}
