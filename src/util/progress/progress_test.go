package progress

import (
	"strings"
	"testing"
	"time"

	"snapvault/src/backend"
)

// fakeClock steps forward a fixed amount per call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestTrackerSpeedAndETA(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	tr := NewTracker(4, 400, clock.now)

	p := tr.Update("a.txt", 100)
	if p.FilesProcessed != 1 || p.BytesProcessed != 100 {
		t.Fatalf("first update: %+v", p)
	}
	if p.Phase != backend.PhaseBacking {
		t.Fatalf("phase: %v", p.Phase)
	}
	// 100 bytes over 1 second, 300 bytes remaining.
	if p.SpeedBytesPerSec != 100 {
		t.Fatalf("speed: %d", p.SpeedBytesPerSec)
	}
	if p.ETASeconds != 3 {
		t.Fatalf("eta: %d", p.ETASeconds)
	}

	tr.Update("b.txt", 100)
	tr.Update("c.txt", 100)
	p = tr.Update("d.txt", 100)
	if p.ETASeconds != 0 {
		t.Fatalf("eta at completion: %d", p.ETASeconds)
	}

	files, bytes := tr.Totals()
	if files != 4 || bytes != 400 {
		t.Fatalf("totals: %d files, %d bytes", files, bytes)
	}
}

func TestTrackerZeroTotals(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Second}
	tr := NewTracker(0, 0, clock.now)
	p := tr.Update("a.txt", 50)
	if p.ETASeconds != 0 {
		t.Fatalf("eta with unknown totals: %d", p.ETASeconds)
	}
	if p.SpeedBytesPerSec == 0 {
		t.Fatal("speed must still be derived")
	}
}

func TestRendererCompleteEndsLine(t *testing.T) {
	var sb strings.Builder
	sink := NewRenderer(&sb).Sink()
	sink(backend.Progress{CurrentFile: "a.txt", Phase: backend.PhaseBacking})
	sink(backend.Progress{CurrentFile: "Complete", Phase: backend.PhaseComplete})
	out := sb.String()
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("completion must end the line: %q", out)
	}
	if !strings.Contains(out, "done") {
		t.Fatalf("missing completion marker: %q", out)
	}
}

func TestFormatLine(t *testing.T) {
	line := FormatLine(backend.Progress{
		CurrentFile:      "/home/u/a.txt",
		FilesProcessed:   2,
		FilesTotal:       4,
		BytesProcessed:   1024,
		BytesTotal:       4096,
		SpeedBytesPerSec: 2048,
		ETASeconds:       90,
		Phase:            backend.PhaseBacking,
	})
	for _, want := range []string{"copying", "2/4 files", "1.0KiB/4.0KiB", "2.0KiB/s", "eta 1m30s", "/home/u/a.txt"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}

	line = FormatLine(backend.Progress{CurrentFile: "Scanning files...", Phase: backend.PhaseScanning})
	if !strings.HasPrefix(line, "scanning") {
		t.Fatalf("scanning line: %q", line)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{1024, "1.0KiB"},
		{1536, "1.5KiB"},
		{1048576, "1.0MiB"},
		{1073741824, "1.0GiB"},
	}
	for _, tc := range tests {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
