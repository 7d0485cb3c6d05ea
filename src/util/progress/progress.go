// Package progress derives transfer rates and estimates for the progress
// snapshots backends emit, and renders them for a terminal.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"snapvault/src/backend"
)

// Tracker accumulates per-file copy progress and turns it into snapshots
// with a running speed and ETA. It is not safe for concurrent use; the
// engine's operations are synchronous.
type Tracker struct {
	filesTotal uint64
	bytesTotal uint64
	files      uint64
	bytes      uint64
	started    time.Time
	now        func() time.Time
}

// NewTracker starts a tracker for an operation with known totals. Totals of
// zero are allowed; speed is still derived, ETA stays unknown.
func NewTracker(filesTotal, bytesTotal uint64, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{filesTotal: filesTotal, bytesTotal: bytesTotal, started: now(), now: now}
}

// Update records one completed file and returns the snapshot to report.
func (t *Tracker) Update(file string, size uint64) backend.Progress {
	t.files++
	t.bytes += size
	elapsed := t.now().Sub(t.started).Seconds()
	var speed uint64
	if elapsed > 0 {
		speed = uint64(float64(t.bytes) / elapsed)
	}
	var eta uint64
	if speed > 0 && t.bytes < t.bytesTotal {
		eta = (t.bytesTotal - t.bytes) / speed
	}
	return backend.Progress{
		CurrentFile:      file,
		FilesProcessed:   t.files,
		FilesTotal:       t.filesTotal,
		BytesProcessed:   t.bytes,
		BytesTotal:       t.bytesTotal,
		SpeedBytesPerSec: speed,
		ETASeconds:       eta,
		Phase:            backend.PhaseBacking,
	}
}

// Totals returns the files and bytes recorded so far.
func (t *Tracker) Totals() (files, bytes uint64) {
	return t.files, t.bytes
}

// Renderer writes progress snapshots to a terminal, rewriting one line and
// throttling intermediate updates.
type Renderer struct {
	out         io.Writer
	lastPrinted time.Time
	wrote       bool
}

// NewRenderer returns a renderer writing to out.
func NewRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out}
}

// Sink returns the ProgressFunc to hand to a backend operation.
func (r *Renderer) Sink() backend.ProgressFunc {
	return func(p backend.Progress) {
		now := time.Now()
		if p.Phase != backend.PhaseComplete && now.Sub(r.lastPrinted) < 200*time.Millisecond {
			return
		}
		r.lastPrinted = now
		fmt.Fprintf(r.out, "\r%s", FormatLine(p))
		r.wrote = true
		if p.Phase == backend.PhaseComplete {
			fmt.Fprintln(r.out)
			r.wrote = false
		}
	}
}

// FormatLine renders one snapshot as a single status line.
func FormatLine(p backend.Progress) string {
	var sb strings.Builder
	switch p.Phase {
	case backend.PhaseScanning:
		sb.WriteString("scanning")
	case backend.PhaseComplete:
		sb.WriteString("done")
	default:
		sb.WriteString("copying")
	}
	if p.FilesTotal > 0 {
		fmt.Fprintf(&sb, " %d/%d files", p.FilesProcessed, p.FilesTotal)
	} else if p.FilesProcessed > 0 {
		fmt.Fprintf(&sb, " %d files", p.FilesProcessed)
	}
	if p.BytesTotal > 0 {
		fmt.Fprintf(&sb, " %s/%s", FormatBytes(p.BytesProcessed), FormatBytes(p.BytesTotal))
	} else if p.BytesProcessed > 0 {
		fmt.Fprintf(&sb, " %s", FormatBytes(p.BytesProcessed))
	}
	if p.SpeedBytesPerSec > 0 {
		fmt.Fprintf(&sb, " %s/s", FormatBytes(p.SpeedBytesPerSec))
	}
	if p.ETASeconds > 0 {
		fmt.Fprintf(&sb, " eta %s", (time.Duration(p.ETASeconds) * time.Second).String())
	}
	if p.Phase != backend.PhaseComplete && p.CurrentFile != "" {
		fmt.Fprintf(&sb, "  %s", p.CurrentFile)
	}
	return sb.String()
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
