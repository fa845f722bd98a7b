// Package memtransport is an in-memory transport.Transport.
//
// It keeps every transaction in process memory, records the calls it receives
// and tracks how many UploadPart calls overlap. Hooks allow callers to delay or
// fail individual operations, which makes it the backend of choice for tests
// and dry runs.
package memtransport

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

// ErrNoSuchUpload is returned for operations on unknown or finished uploads.
var ErrNoSuchUpload = errors.New("memtransport: no such upload")

// ErrPartMissing is returned by CompleteUpload when a listed part was never
// uploaded or its ETag does not match.
var ErrPartMissing = errors.New("memtransport: part missing or etag mismatch")

// Hooks customize the behavior of individual operations. A nil hook is a
// no-op; a non-nil error from a hook fails the operation.
type Hooks struct {
	Initiate func(ctx context.Context, dest transport.Destination) error
	Part     func(ctx context.Context, partNumber int32, body []byte) error
	Complete func(ctx context.Context, parts []transport.CompletedPart) error
	Abort    func(ctx context.Context) error
}

// Call counters.
type Calls struct {
	Initiate int
	Part     int
	Complete int
	Abort    int
}

type upload struct {
	dest  transport.Destination
	opts  transport.UploadOptions
	parts map[int32][]byte
	etags map[int32]string
}

// Transport stores uploads in memory. The zero value is not usable; call New.
type Transport struct {
	Hooks Hooks

	mu          sync.Mutex
	uploads     map[string]*upload
	objects     map[transport.Destination][]byte
	calls       Calls
	completed   [][]transport.CompletedPart
	inFlight    int
	maxInFlight int
}

// New returns an empty in-memory transport.
func New() *Transport {
	return &Transport{
		uploads: make(map[string]*upload),
		objects: make(map[transport.Destination][]byte),
	}
}

// InitiateUpload opens a new transaction.
func (t *Transport) InitiateUpload(ctx context.Context, dest transport.Destination, opts transport.UploadOptions) (*transport.Upload, error) {
	t.mu.Lock()
	t.calls.Initiate++
	t.mu.Unlock()

	if t.Hooks.Initiate != nil {
		if err := t.Hooks.Initiate(ctx, dest); err != nil {
			return nil, err
		}
	}

	id := uuid.NewString()
	t.mu.Lock()
	t.uploads[id] = &upload{
		dest:  dest,
		opts:  opts,
		parts: make(map[int32][]byte),
		etags: make(map[int32]string),
	}
	t.mu.Unlock()

	return &transport.Upload{ID: id, Destination: dest, Options: opts}, nil
}

// UploadPart stores a copy of body under partNumber.
func (t *Transport) UploadPart(ctx context.Context, u *transport.Upload, partNumber int32, body []byte) (transport.UploadedPart, error) {
	t.mu.Lock()
	t.calls.Part++
	t.inFlight++
	if t.inFlight > t.maxInFlight {
		t.maxInFlight = t.inFlight
	}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.inFlight--
		t.mu.Unlock()
	}()

	if t.Hooks.Part != nil {
		if err := t.Hooks.Part(ctx, partNumber, body); err != nil {
			return transport.UploadedPart{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return transport.UploadedPart{}, err
	}

	sum := md5.Sum(body)
	etag := hex.EncodeToString(sum[:])
	data := append([]byte(nil), body...)

	t.mu.Lock()
	defer t.mu.Unlock()
	up, ok := t.uploads[u.ID]
	if !ok {
		return transport.UploadedPart{}, ErrNoSuchUpload
	}
	up.parts[partNumber] = data
	up.etags[partNumber] = etag

	return transport.UploadedPart{PartNumber: partNumber, ETag: etag, Size: int64(len(body))}, nil
}

// CompleteUpload concatenates the listed parts into the destination object.
// Parts must be in strictly ascending order. A zero-part completion produces
// an empty object unless the Complete hook rejects it.
func (t *Transport) CompleteUpload(ctx context.Context, u *transport.Upload, parts []transport.CompletedPart) (*transport.Object, error) {
	listed := append([]transport.CompletedPart(nil), parts...)

	t.mu.Lock()
	t.calls.Complete++
	t.completed = append(t.completed, listed)
	t.mu.Unlock()

	if t.Hooks.Complete != nil {
		if err := t.Hooks.Complete(ctx, parts); err != nil {
			return nil, err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	up, ok := t.uploads[u.ID]
	if !ok {
		return nil, ErrNoSuchUpload
	}

	var data []byte
	for i, p := range parts {
		if i > 0 && p.PartNumber <= parts[i-1].PartNumber {
			return nil, fmt.Errorf("memtransport: parts out of order at %d", p.PartNumber)
		}
		body, ok := up.parts[p.PartNumber]
		if !ok || up.etags[p.PartNumber] != p.ETag {
			return nil, fmt.Errorf("part %d: %w", p.PartNumber, ErrPartMissing)
		}
		data = append(data, body...)
	}

	sum := md5.Sum(data)
	obj := &transport.Object{
		Location: "mem://" + up.dest.String(),
		Bucket:   up.dest.Bucket,
		Key:      up.dest.Key,
		ETag:     fmt.Sprintf("%s-%d", hex.EncodeToString(sum[:]), len(parts)),
	}
	t.objects[up.dest] = data
	delete(t.uploads, u.ID)
	return obj, nil
}

// AbortUpload discards a transaction and its parts.
func (t *Transport) AbortUpload(ctx context.Context, u *transport.Upload) error {
	t.mu.Lock()
	t.calls.Abort++
	t.mu.Unlock()

	if t.Hooks.Abort != nil {
		if err := t.Hooks.Abort(ctx); err != nil {
			return err
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.uploads[u.ID]; !ok {
		return ErrNoSuchUpload
	}
	delete(t.uploads, u.ID)
	return nil
}

// Object returns the committed bytes of dest.
func (t *Transport) Object(dest transport.Destination) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	data, ok := t.objects[dest]
	return data, ok
}

// Calls returns the operation counters.
func (t *Transport) Calls() Calls {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Completions returns the part lists of every CompleteUpload call.
func (t *Transport) Completions() [][]transport.CompletedPart {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]transport.CompletedPart(nil), t.completed...)
}

// PartSizes returns the stored part sizes of an open upload keyed by part number.
func (t *Transport) PartSizes(uploadID string) map[int32]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	up, ok := t.uploads[uploadID]
	if !ok {
		return nil
	}
	sizes := make(map[int32]int, len(up.parts))
	for n, b := range up.parts {
		sizes[n] = len(b)
	}
	return sizes
}

// OpenUploads returns the ids of transactions that are neither completed nor aborted.
func (t *Transport) OpenUploads() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.uploads))
	for id := range t.uploads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MaxInFlight returns the highest number of overlapping UploadPart calls seen.
func (t *Transport) MaxInFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxInFlight
}

var _ transport.Transport = (*Transport)(nil)
