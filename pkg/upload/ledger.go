package upload

import (
	"fmt"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// PartResult is the outcome of one successfully uploaded part.
type PartResult struct {
	PartNumber int32
	ETag       string
	Size       int64
}

// Ledger records part results keyed by part number. Results may be recorded
// in any order; Parts lists them by part number.
//
// Ledger is not safe for concurrent use. The Engine guards it with its mutex.
type Ledger struct {
	results map[int32]PartResult
	order   []int32
	bytes   int64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{results: make(map[int32]PartResult)}
}

// Record adds r. Recording a part number twice is an error.
func (l *Ledger) Record(r PartResult) error {
	if _, ok := l.results[r.PartNumber]; ok {
		return fmt.Errorf("part %d: %w", r.PartNumber, ErrDuplicatePart)
	}
	l.results[r.PartNumber] = r
	l.order = append(l.order, r.PartNumber)
	l.bytes += r.Size
	return nil
}

// Len returns the number of recorded parts.
func (l *Ledger) Len() int {
	return len(l.results)
}

// Bytes returns the total size of recorded parts.
func (l *Ledger) Bytes() int64 {
	return l.bytes
}

// Get returns the result for a part number.
func (l *Ledger) Get(partNumber int32) (PartResult, bool) {
	r, ok := l.results[partNumber]
	return r, ok
}

// CompletionOrder returns part numbers in the order they were recorded.
func (l *Ledger) CompletionOrder() []int32 {
	return append([]int32(nil), l.order...)
}

// Parts returns the completion list for parts 1..last in ascending order.
// It fails with ErrIncompleteLedger if any part in that range is missing or
// if parts beyond last were recorded.
func (l *Ledger) Parts(last int32) ([]transport.CompletedPart, error) {
	if int(last) != len(l.results) {
		missing := l.missing(last)
		return nil, fmt.Errorf("%w: have %d of %d parts, missing %v", ErrIncompleteLedger, len(l.results), last, missing)
	}
	parts := make([]transport.CompletedPart, 0, last)
	for n := int32(1); n <= last; n++ {
		r, ok := l.results[n]
		if !ok {
			return nil, fmt.Errorf("%w: missing part %d", ErrIncompleteLedger, n)
		}
		parts = append(parts, transport.CompletedPart{PartNumber: n, ETag: r.ETag, Size: r.Size})
	}
	return parts, nil
}

func (l *Ledger) missing(last int32) []int32 {
	var out []int32
	for n := int32(1); n <= last; n++ {
		if _, ok := l.results[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
