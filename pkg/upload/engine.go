// Package upload streams an unbounded byte stream into a multipart upload.
//
// An Engine cuts the stream into fixed-size parts, uploads up to
// Config.Concurrency parts at a time through a transport.Transport and
// finishes the transaction with a single complete call listing the parts in
// order. Any part failure aborts the whole transaction.
//
// Typical use:
//
//	e, err := upload.New(t, dest, upload.Config{Concurrency: 4})
//	if err != nil { ... }
//	if err := e.Start(ctx); err != nil { ... }
//	if _, err := io.Copy(e, src); err != nil {
//		return e.Abort(err)
//	}
//	return e.Close()
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/eunmann/s3-upload-stream/internal/logctx"
	"github.com/eunmann/s3-upload-stream/pkg/logging"
	"github.com/eunmann/s3-upload-stream/pkg/transport"
)

const logPhase = "upload"

// State is the engine lifecycle state.
type State int

// Engine states.
const (
	StateIdle State = iota
	StateInitiating
	StateActive
	StateDraining
	StateFinalizing
	StateCompleted
	StateAborted
)

var stateNames = [...]string{"idle", "initiating", "active", "draining", "finalizing", "completed", "aborted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether s is Completed or Aborted.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// Stats is a snapshot of an engine's counters.
type Stats struct {
	State          State
	BytesReceived  int64
	BytesUploaded  int64
	PartsSubmitted int
	PartsCompleted int
	InFlight       int
	PeakInFlight   int
}

// Engine uploads one object. Write, ReadFrom and Close are the producer
// side and must be called from one goroutine at a time; they block while
// the engine applies backpressure. Abort, Stats, State, Saturated, Done and
// Result are safe to call from any goroutine.
type Engine struct {
	t         transport.Transport
	dest      transport.Destination
	cfg       Config
	sessionID string
	maxParts  int32

	buf      *chunkBuffer
	gate     *gate
	uploader partUploader

	// wmu serializes the producer side. buf and reserved are guarded by it.
	wmu      sync.Mutex
	reserved bool

	ctx        context.Context
	prodCtx    context.Context
	cancelProd context.CancelCauseFunc
	log        zerolog.Logger
	started    time.Time
	progress   *logging.ProgressTracker
	received   atomic.Int64

	wg sync.WaitGroup

	mu           sync.Mutex
	state        State
	upload       *transport.Upload
	ledger       *Ledger
	lastPart     int32
	ended        bool
	failErr      error
	inFlight     int
	peakInFlight int
	result       *transport.Object
	resultErr    error
	done         chan struct{}
}

// New validates cfg and returns an idle engine for dest.
func New(t transport.Transport, dest transport.Destination, cfg Config) (*Engine, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidConfig)
	}
	if dest.Bucket == "" || dest.Key == "" {
		return nil, fmt.Errorf("%w: destination %q needs bucket and key", ErrInvalidConfig, dest.String())
	}
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Engine{
		t:         t,
		dest:      dest,
		cfg:       cfg,
		sessionID: uuid.NewString(),
		maxParts:  MaxParts,
		buf:       newChunkBuffer(int(cfg.PartSize)),
		gate:      newGate(cfg.Concurrency, cfg.Budget, cfg.PartSize),
		ledger:    NewLedger(),
		log:       zerolog.Nop(),
		done:      make(chan struct{}),
	}, nil
}

// Start opens the remote transaction. ctx governs every transport call of
// the upload except the abort, which runs even after ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.state == StateAborted:
		err := e.resultErr
		e.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case e.state != StateIdle:
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.state = StateInitiating
	e.mu.Unlock()

	ctx = logctx.WithStr(ctx, "session_id", e.sessionID)
	e.started = time.Now()

	u, err := e.t.InitiateUpload(ctx, e.dest, e.cfg.Options)
	if err != nil {
		err = &Error{Op: OpInitiate, Bucket: e.dest.Bucket, Key: e.dest.Key, Err: err}
		e.log = logctx.FromContext(ctx)
		e.mu.Lock()
		if e.failErr == nil {
			e.failErr = err
		}
		e.mu.Unlock()
		e.finish(nil, err)
		return err
	}

	ctx = logctx.WithUpload(ctx, e.dest.Bucket, e.dest.Key, u.ID)
	e.ctx = ctx
	e.prodCtx, e.cancelProd = context.WithCancelCause(ctx)
	e.log = logctx.FromContext(ctx)
	e.progress = logging.NewProgressTracker(logPhase, e.cfg.SizeHint, e.log)
	e.uploader = partUploader{t: e.t, u: u}

	e.mu.Lock()
	e.upload = u
	if cause := e.failErr; cause != nil {
		// Abort was called while the transaction was being opened.
		e.ended = true
		e.mu.Unlock()
		e.log.Warn().Err(cause).Msg("aborted during initiation")
		e.abortAfterDrain()
		return e.resultErr
	}
	e.state = StateActive
	e.mu.Unlock()

	e.log.Debug().
		Int64("part_size", e.cfg.PartSize).
		Int("concurrency", e.cfg.Concurrency).
		Uint64("budget_bytes", e.cfg.Budget.Total()).
		Msg("upload started")
	return nil
}

// Write buffers p and submits every part it fills. It blocks while the
// memory budget or the upload slots are exhausted. After the upload failed
// Write returns the failure; after Close it returns ErrClosed.
func (e *Engine) Write(p []byte) (int, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	if err := e.writable(); err != nil {
		return 0, err
	}

	written := 0
	for len(p) > 0 {
		if err := e.openPart(); err != nil {
			return written, err
		}
		n, full := e.buf.write(p)
		p = p[n:]
		written += n
		e.received.Add(int64(n))
		if full {
			if err := e.submit(e.buf.drain()); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// ReadFrom reads r until EOF straight into part buffers. It does not end
// the stream; call Close afterwards. A read error is returned as is and
// leaves the upload open so the caller can Abort with it.
func (e *Engine) ReadFrom(r io.Reader) (int64, error) {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	if err := e.writable(); err != nil {
		return 0, err
	}

	var total int64
	for {
		if err := e.openPart(); err != nil {
			return total, err
		}
		n, full, rerr := e.buf.readFrom(r)
		total += int64(n)
		e.received.Add(int64(n))
		if full {
			if err := e.submit(e.buf.drain()); err != nil {
				return total, err
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, rerr
		}
	}
}

// Close ends the stream: it submits the remaining bytes as the last part,
// waits for all uploads and completes the transaction, or aborts it if
// anything failed. Close returns the terminal result and is idempotent.
func (e *Engine) Close() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()

	e.mu.Lock()
	switch {
	case e.state == StateIdle || e.state == StateInitiating:
		e.mu.Unlock()
		return ErrNotStarted
	case e.ended || e.state.Terminal():
		e.mu.Unlock()
		<-e.done
		return e.resultErr
	}
	e.ended = true
	failed := e.failErr != nil
	if !failed {
		e.state = StateDraining
	}
	e.mu.Unlock()

	if !failed {
		if rem := e.buf.flushRemainder(); rem != nil {
			// A submit failure is picked up below through failErr.
			_ = e.submit(rem)
		}
	} else {
		e.buf.reset()
	}
	e.dropPart()

	e.wg.Wait()

	e.mu.Lock()
	if e.failErr != nil {
		e.mu.Unlock()
		<-e.done
		return e.resultErr
	}
	e.state = StateFinalizing
	parts, err := e.ledger.Parts(e.lastPart)
	e.mu.Unlock()

	if err == nil {
		var obj *transport.Object
		obj, err = e.t.CompleteUpload(e.ctx, e.upload, parts)
		if err == nil {
			e.finish(obj, nil)
			return nil
		}
		err = e.txError(OpComplete, err)
	}

	e.mu.Lock()
	e.failLocked(err)
	e.mu.Unlock()
	<-e.done
	return e.resultErr
}

// Abort fails the upload with cause (ErrAborted if nil), waits for in-flight
// parts and aborts the remote transaction. If the upload already reached a
// terminal state or is completing, Abort waits for and returns that result.
// A Write blocked on backpressure returns early; a ReadFrom blocked inside
// its reader is waited for.
func (e *Engine) Abort(cause error) error {
	if cause == nil {
		cause = ErrAborted
	}

	e.mu.Lock()
	switch {
	case e.state == StateIdle:
		e.failErr = cause
		e.mu.Unlock()
		e.finish(nil, cause)
		return cause
	case e.state == StateInitiating:
		// Start aborts the transaction once it is open.
		if e.failErr == nil {
			e.failErr = cause
		}
		e.mu.Unlock()
		<-e.done
		return e.resultErr
	case e.state == StateFinalizing || e.state.Terminal():
		e.mu.Unlock()
		<-e.done
		return e.resultErr
	}
	e.failLocked(cause)
	e.ended = true
	e.mu.Unlock()

	// Failing cancelled prodCtx, so a producer blocked in Write lets go of wmu.
	e.wmu.Lock()
	e.buf.reset()
	e.dropPart()
	e.wmu.Unlock()

	<-e.done
	return e.resultErr
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Saturated reports whether every upload slot is in use, meaning the next
// full part will block the producer.
func (e *Engine) Saturated() bool {
	return e.gate.saturated()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() Stats {
	return Stats{
		State:          e.state,
		BytesReceived:  e.received.Load(),
		BytesUploaded:  e.ledger.Bytes(),
		PartsSubmitted: int(e.lastPart),
		PartsCompleted: e.ledger.Len(),
		InFlight:       e.inFlight,
		PeakInFlight:   e.peakInFlight,
	}
}

// Done is closed once the engine reaches Completed or Aborted.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Result blocks until the engine is terminal and returns the committed
// object or the failure.
func (e *Engine) Result() (*transport.Object, error) {
	<-e.done
	return e.result, e.resultErr
}

// UploadID returns the transport's transaction id, empty before Start.
func (e *Engine) UploadID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.upload == nil {
		return ""
	}
	return e.upload.ID
}

// SessionID returns the engine-local id carried in every log line as
// session_id. Unlike UploadID it is known before Start.
func (e *Engine) SessionID() string {
	return e.sessionID
}

// Destination returns the object being written.
func (e *Engine) Destination() transport.Destination {
	return e.dest
}

func (e *Engine) writable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.failErr != nil:
		return e.failErr
	case e.state == StateIdle || e.state == StateInitiating:
		return ErrNotStarted
	case e.ended || e.state != StateActive:
		return ErrClosed
	}
	return nil
}

// openPart reserves memory for a new part buffer if none is open.
func (e *Engine) openPart() error {
	if e.reserved {
		return nil
	}
	if err := e.gate.reserve(e.prodCtx); err != nil {
		return e.producerFailed(fmt.Errorf("reserve part buffer: %w", err))
	}
	e.reserved = true
	return nil
}

// dropPart gives back the reservation of a part buffer that will not be submitted.
func (e *Engine) dropPart() {
	if e.reserved {
		e.gate.unreserve()
		e.reserved = false
	}
}

// submit numbers payload and starts its upload once a slot is free.
// Ownership of payload and of the buffer reservation passes to the upload.
func (e *Engine) submit(payload []byte) error {
	if err := e.gate.acquire(e.prodCtx); err != nil {
		e.buf.recycle(payload)
		e.dropPart()
		return e.producerFailed(fmt.Errorf("wait for upload slot: %w", err))
	}

	e.mu.Lock()
	if e.failErr == nil && e.lastPart >= e.maxParts {
		e.failLocked(fmt.Errorf("%w: limit is %d", ErrTooManyParts, e.maxParts))
	}
	if e.failErr != nil {
		err := e.failErr
		e.mu.Unlock()
		e.gate.release()
		e.buf.recycle(payload)
		e.dropPart()
		return err
	}
	e.lastPart++
	partNumber := e.lastPart
	e.inFlight++
	if e.inFlight > e.peakInFlight {
		e.peakInFlight = e.inFlight
	}
	inFlight := e.inFlight
	e.wg.Add(1)
	e.mu.Unlock()

	e.reserved = false
	logging.PartStarted(e.log, logPhase, partNumber, int64(len(payload)), inFlight)
	go e.runPart(partNumber, payload)
	return nil
}

func (e *Engine) runPart(partNumber int32, payload []byte) {
	defer e.wg.Done()

	start := time.Now()
	res, err := e.uploader.upload(e.ctx, partNumber, payload)
	elapsed := time.Since(start)

	// Record before giving back the slot so a waiting producer sees a failure.
	e.mu.Lock()
	e.inFlight--
	e.recordLocked(partNumber, res, err, elapsed)
	e.mu.Unlock()

	e.buf.recycle(payload)
	e.gate.release()
	e.gate.unreserve()
}

func (e *Engine) recordLocked(partNumber int32, res PartResult, err error, elapsed time.Duration) {
	log := logctx.PartLogger(e.ctx, partNumber)
	if e.failErr != nil {
		log.Debug().Err(err).Msg("discarding part result after failure")
		return
	}
	if err != nil {
		e.failLocked(err)
		return
	}
	if err := e.ledger.Record(res); err != nil {
		e.failLocked(err)
		return
	}

	e.progress.RecordPart(res.Size, elapsed)
	logging.PartComplete(log, logPhase, elapsed).
		Bytes("size", res.Size).
		Str("etag", res.ETag).
		ProgressFromTracker(e.progress).
		Throughput(res.Size).
		LogDebug("part uploaded")

	if e.cfg.Observer != nil {
		e.cfg.Observer.PartUploaded(Progress{
			PartNumber: res.PartNumber,
			ETag:       res.ETag,
			PartSize:   res.Size,
			Stats:      e.statsLocked(),
		})
	}
}

// producerFailed fails the upload with err unless it already failed, in
// which case the original failure is returned.
func (e *Engine) producerFailed(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failErr != nil {
		return e.failErr
	}
	e.failLocked(err)
	return err
}

// failLocked records the first failure and schedules the abort. No part is
// submitted once failErr is set, so the abort runs after in-flight parts drain.
func (e *Engine) failLocked(err error) {
	if e.failErr != nil {
		return
	}
	e.failErr = err
	e.cancelProd(err)
	e.log.Warn().Err(err).Str("state", e.state.String()).Msg("upload failed, aborting")
	go e.abortAfterDrain()
}

func (e *Engine) abortAfterDrain() {
	e.wg.Wait()

	e.mu.Lock()
	cause := e.failErr
	e.mu.Unlock()

	err := cause
	if aerr := e.t.AbortUpload(context.WithoutCancel(e.ctx), e.upload); aerr != nil {
		aerr = e.txError(OpAbort, aerr)
		e.log.Error().Err(aerr).Msg("abort failed")
		err = errors.Join(cause, aerr)
	}
	e.finish(nil, err)
}

// finish moves the engine to its terminal state and notifies once.
func (e *Engine) finish(obj *transport.Object, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}

	elapsed := time.Since(e.started)
	uploaded := e.ledger.Bytes()
	if err != nil {
		e.state = StateAborted
		logging.UploadAborted(e.log, logPhase, elapsed).
			Str("error", err.Error()).
			Bytes("received_bytes", e.received.Load()).
			Bytes("uploaded_bytes", uploaded).
			Int("parts_uploaded", e.ledger.Len()).
			LogWarn("upload aborted")
		if e.cfg.Observer != nil {
			e.cfg.Observer.Failed(err)
		}
	} else {
		e.state = StateCompleted
		logging.UploadComplete(e.log, logPhase, elapsed).
			Str("location", obj.Location).
			Str("etag", obj.ETag).
			Bytes("bytes", uploaded).
			Count("parts", int64(e.ledger.Len())).
			Throughput(uploaded).
			Log("upload completed")
		if e.cfg.Observer != nil {
			e.cfg.Observer.Completed(obj)
		}
	}
	e.result, e.resultErr = obj, err
	if e.cancelProd != nil {
		e.cancelProd(context.Canceled)
	}
	close(e.done)
}

func (e *Engine) txError(op Op, err error) error {
	return &Error{Op: op, Bucket: e.dest.Bucket, Key: e.dest.Key, UploadID: e.upload.ID, Err: err}
}

var (
	_ io.WriteCloser = (*Engine)(nil)
	_ io.ReaderFrom  = (*Engine)(nil)
)
