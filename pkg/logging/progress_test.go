package logging

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestProgressTracker_BasicOperations(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	pt := NewProgressTracker("upload", 1000, log)

	pt.RecordPart(200, 100*time.Millisecond)
	pt.RecordPart(100, 50*time.Millisecond)

	uploaded, parts, total := pt.Progress()
	if uploaded != 300 {
		t.Errorf("expected uploaded=300, got %d", uploaded)
	}
	if parts != 2 {
		t.Errorf("expected parts=2, got %d", parts)
	}
	if total != 1000 {
		t.Errorf("expected total=1000, got %d", total)
	}

	if pct := pt.ProgressPct(); pct != 30.0 {
		t.Errorf("expected progress 30%%, got %.1f%%", pct)
	}
	if pt.Phase() != "upload" {
		t.Errorf("Phase() = %q, want %q", pt.Phase(), "upload")
	}
}

func TestProgressTracker_ETA(t *testing.T) {
	log := zerolog.Nop()

	pt := NewProgressTracker("upload", 1000, log)

	// 100 bytes per 100ms = 1000 B/s; 800 bytes remaining is ~800ms.
	pt.RecordPart(100, 100*time.Millisecond)
	pt.RecordPart(100, 100*time.Millisecond)

	eta := pt.ETA()
	if eta < 700*time.Millisecond || eta > 900*time.Millisecond {
		t.Errorf("expected ETA ~800ms, got %v", eta)
	}
}

func TestProgressTracker_UnknownTotal(t *testing.T) {
	pt := NewProgressTracker("upload", 0, zerolog.Nop())
	pt.RecordPart(100, 10*time.Millisecond)

	if pct := pt.ProgressPct(); pct != -1 {
		t.Errorf("expected -1 for unknown total, got %.1f", pct)
	}
	if eta := pt.ETA(); eta != 0 {
		t.Errorf("expected zero ETA for unknown total, got %v", eta)
	}
}

func TestProgressTracker_Overshoot(t *testing.T) {
	pt := NewProgressTracker("upload", 100, zerolog.Nop())
	pt.RecordPart(150, time.Millisecond)

	if pct := pt.ProgressPct(); pct != 100 {
		t.Errorf("expected pct capped at 100, got %.1f", pct)
	}
	if eta := pt.ETA(); eta != 0 {
		t.Errorf("expected zero ETA once total reached, got %v", eta)
	}
}

func TestProgressTracker_WindowLimit(t *testing.T) {
	pt := NewProgressTracker("upload", 1<<30, zerolog.Nop())
	for i := 0; i < 25; i++ {
		pt.RecordPart(10, time.Millisecond)
	}
	pt.mu.Lock()
	n := len(pt.recentRates)
	pt.mu.Unlock()
	if n != pt.maxRecent {
		t.Errorf("expected %d recent rates, got %d", pt.maxRecent, n)
	}
}

func TestCompletionEvent_BasicFields(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(false)

	ce := NewCompletionEvent(log, "test_event", "test_phase", 500*time.Millisecond)
	ce.Str("key", "value").
		Int("count", 42).
		Int64("big_count", 1000000).
		Log("test message")

	output := buf.String()

	if !strings.Contains(output, `"event":"test_event"`) {
		t.Errorf("expected event field, got: %s", output)
	}
	if !strings.Contains(output, `"phase":"test_phase"`) {
		t.Errorf("expected phase field, got: %s", output)
	}
	if !strings.Contains(output, `"duration_ms":500`) {
		t.Errorf("expected duration_ms field, got: %s", output)
	}
	if !strings.Contains(output, `"key":"value"`) {
		t.Errorf("expected key field, got: %s", output)
	}
	if !strings.Contains(output, `"count":42`) {
		t.Errorf("expected count field, got: %s", output)
	}
}

func TestCompletionEvent_BytesAndCounts(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(true)
	defer SetPrettyMode(false)

	NewCompletionEvent(log, "test_event", "test_phase", time.Second).
		Bytes("size", 1073741824).
		Count("parts", 1500000).
		Log("test message")

	output := buf.String()

	if !strings.Contains(output, `"size":1073741824`) {
		t.Errorf("expected raw size field, got: %s", output)
	}
	if !strings.Contains(output, `"parts":1500000`) {
		t.Errorf("expected raw parts field, got: %s", output)
	}
	if !strings.Contains(output, `"size_h":"1.00 GiB"`) {
		t.Errorf("expected human size field, got: %s", output)
	}
	if !strings.Contains(output, `"parts_h":"1.50M"`) {
		t.Errorf("expected human parts field, got: %s", output)
	}
}

func TestCompletionEvent_ProgressFromTracker(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(false)

	pt := NewProgressTracker("upload", 400, log)
	pt.RecordPart(100, 100*time.Millisecond)

	PartComplete(log, "upload", 100*time.Millisecond).
		ProgressFromTracker(pt).
		Log("part done")

	output := buf.String()
	for _, want := range []string{
		`"uploaded_bytes":100`,
		`"parts_done":1`,
		`"total_bytes":400`,
		`"progress_pct":25`,
		`"eta_ms":`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
}

func TestCompletionEvent_ProgressUnknownTotal(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(false)

	pt := NewProgressTracker("upload", 0, log)
	pt.RecordPart(100, 100*time.Millisecond)

	PartComplete(log, "upload", time.Millisecond).ProgressFromTracker(pt).Log("part done")

	output := buf.String()
	if strings.Contains(output, `"progress_pct"`) || strings.Contains(output, `"eta_ms"`) {
		t.Errorf("unknown total should not report pct or eta, got: %s", output)
	}
}

func TestCompletionEvent_Throughput(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(false)

	NewCompletionEvent(log, "test_event", "test_phase", 2*time.Second).
		Throughput(2000).
		Log("done")

	if !strings.Contains(buf.String(), `"throughput_bps":1000`) {
		t.Errorf("expected throughput_bps=1000, got: %s", buf.String())
	}
}

func TestHelperFunctions(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	SetPrettyMode(false)

	tests := []struct {
		name  string
		event *CompletionEvent
		want  string
	}{
		{"PartComplete", PartComplete(log, "upload", time.Second), `"event":"part_completed"`},
		{"UploadComplete", UploadComplete(log, "upload", time.Second), `"event":"upload_completed"`},
		{"UploadAborted", UploadAborted(log, "upload", time.Second), `"event":"upload_aborted"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.event.Log("done")
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %s, got: %s", tt.want, buf.String())
			}
		})
	}
}

func TestCompletionEvent_LogLevels(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	SetPrettyMode(false)

	oldLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(oldLevel)

	NewCompletionEvent(log, "test_event", "test_phase", time.Second).LogDebug("debug message")
	if !strings.Contains(buf.String(), `"level":"debug"`) {
		t.Errorf("expected debug level, got: %s", buf.String())
	}

	buf.Reset()
	NewCompletionEvent(log, "test_event", "test_phase", time.Second).LogWarn("warn message")
	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("expected warn level, got: %s", buf.String())
	}
}

func TestPartStarted(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	SetPrettyMode(false)

	oldLevel := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(oldLevel)

	PartStarted(log, "upload", 3, 5242880, 2)

	output := buf.String()
	for _, want := range []string{
		`"event":"part_started"`,
		`"phase":"upload"`,
		`"part_number":3`,
		`"size":5242880`,
		`"in_flight":2`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, `"progress_pct"`) {
		t.Errorf("part_started should not have progress_pct, got: %s", output)
	}
}
