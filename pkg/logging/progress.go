package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/s3-upload-stream/pkg/humanfmt"
)

// ProgressTracker tracks uploaded bytes and part durations for one upload.
// The total is a hint: it is zero for streams of unknown length, in which
// case percentage and ETA are not reported.
// It is safe for concurrent use.
type ProgressTracker struct {
	total     int64
	uploaded  atomic.Int64
	parts     atomic.Int64
	startTime time.Time
	log       zerolog.Logger
	phase     string

	// Moving window of recent part throughputs (bytes/second).
	mu          sync.Mutex
	recentRates []float64
	maxRecent   int
}

// NewProgressTracker creates a new progress tracker.
func NewProgressTracker(phase string, totalBytes int64, log zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		total:       totalBytes,
		startTime:   time.Now(),
		log:         log,
		phase:       phase,
		recentRates: make([]float64, 0, 10),
		maxRecent:   10,
	}
}

// RecordPart records that a part of size bytes finished after d.
func (pt *ProgressTracker) RecordPart(size int64, d time.Duration) {
	pt.uploaded.Add(size)
	pt.parts.Add(1)

	if d <= 0 {
		return
	}
	pt.mu.Lock()
	if len(pt.recentRates) >= pt.maxRecent {
		pt.recentRates = pt.recentRates[1:]
	}
	pt.recentRates = append(pt.recentRates, float64(size)/d.Seconds())
	pt.mu.Unlock()
}

// Progress returns uploaded bytes, completed parts and the total hint.
func (pt *ProgressTracker) Progress() (uploaded, parts, total int64) {
	return pt.uploaded.Load(), pt.parts.Load(), pt.total
}

// ProgressPct returns the progress percentage (0-100), or -1 when the total is unknown.
func (pt *ProgressTracker) ProgressPct() float64 {
	if pt.total <= 0 {
		return -1
	}
	pct := float64(pt.uploaded.Load()) * 100.0 / float64(pt.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ETA estimates the remaining time from recent part throughput.
// Returns 0 when the total is unknown or nothing has been uploaded yet.
func (pt *ProgressTracker) ETA() time.Duration {
	if pt.total <= 0 {
		return 0
	}
	remaining := pt.total - pt.uploaded.Load()
	if remaining <= 0 {
		return 0
	}

	pt.mu.Lock()
	var rate float64
	if len(pt.recentRates) > 0 {
		var sum float64
		for _, r := range pt.recentRates {
			sum += r
		}
		rate = sum / float64(len(pt.recentRates))
	}
	pt.mu.Unlock()

	if rate <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rate * float64(time.Second))
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// Phase returns the tracker's phase label.
func (pt *ProgressTracker) Phase() string {
	return pt.phase
}

// CompletionEvent helps build consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int64 adds an int64 field.
func (ce *CompletionEvent) Int64(key string, val int64) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds byte count with optional human-readable companion.
func (ce *CompletionEvent) Bytes(key string, bytes int64) *CompletionEvent {
	ce.fields[key] = bytes
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(bytes)
	}
	return ce
}

// Count adds count with optional human-readable companion.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// ProgressFromTracker adds uploaded bytes, part count and, when the total
// is known, percentage and ETA.
func (ce *CompletionEvent) ProgressFromTracker(pt *ProgressTracker) *CompletionEvent {
	uploaded, parts, total := pt.Progress()
	ce.fields["uploaded_bytes"] = uploaded
	ce.fields["parts_done"] = parts
	if total > 0 {
		ce.fields["total_bytes"] = total
		ce.fields["progress_pct"] = pt.ProgressPct()
	}
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Throughput adds throughput fields.
func (ce *CompletionEvent) Throughput(bytes int64) *CompletionEvent {
	if ce.elapsed > 0 {
		bps := float64(bytes) / ce.elapsed.Seconds()
		ce.fields["throughput_bps"] = bps
		if IsPrettyMode() {
			ce.fields["throughput_h"] = humanfmt.Throughput(bytes, ce.elapsed)
		}
	}
	return ce
}

// Log emits the completion event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the completion event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

// LogWarn emits the completion event at warn level.
func (ce *CompletionEvent) LogWarn(msg string) {
	ce.emit(ce.log.Warn(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}

	e.Msg(msg)
}

// PartComplete starts a part_completed event.
func PartComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "part_completed", phase, elapsed)
}

// UploadComplete starts an upload_completed event.
func UploadComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "upload_completed", phase, elapsed)
}

// UploadAborted starts an upload_aborted event.
func UploadAborted(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "upload_aborted", phase, elapsed)
}

// PartStarted logs a part submission at debug level (no duration, no progress).
func PartStarted(log zerolog.Logger, phase string, partNumber int32, size int64, inFlight int) {
	log.Debug().
		Str("event", "part_started").
		Str("phase", phase).
		Int32("part_number", partNumber).
		Int64("size", size).
		Int("in_flight", inFlight).
		Msg("part started")
}
