package main

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/ipc"
	"github.com/qbicsoftware/data-scanner/internal/stage"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Data scanner", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Data scanner:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Data scanner", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", got)
	}
	if !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected reset suffix, got %q", got)
	}
}

func TestDaemonLines(t *testing.T) {
	status := &ipc.StatusResponse{
		Running:            true,
		PID:                42,
		StartedAt:          time.Now().Add(-time.Hour),
		QueueDepth:         3,
		QueueCapacity:      3,
		TrackedDirectories: []string{"/inbox/a/registration", "/inbox/b/registration"},
		StageHealth: []ipc.StageHealth{
			{Name: stage.Evaluation, Ready: false, Detail: "target not writable"},
			{Name: stage.Processing, Ready: true, Claims: 1},
		},
		Workers: []stage.Status{
			{Stage: stage.Processing, Index: 1, Active: true},
			{Stage: stage.Processing, Index: 2},
		},
	}
	lines := daemonLines(status, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[OK] Running (pid 42, started 1 hour ago)") {
		t.Fatalf("unexpected daemon line %q", lines[0])
	}
	if !strings.Contains(lines[1], "[WARN] 3/3 requests") {
		t.Fatalf("expected full queue warning, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "2 tracked") {
		t.Fatalf("unexpected tracked line %q", lines[2])
	}
	if !strings.Contains(lines[3], "Evaluation:") || !strings.Contains(lines[3], "[ERROR] target not writable") {
		t.Fatalf("unexpected evaluation line %q", lines[3])
	}
	if !strings.Contains(lines[4], "[OK] 1/2 workers busy, 1 claimed") {
		t.Fatalf("unexpected processing line %q", lines[4])
	}
}

func TestDaemonLinesNotRunning(t *testing.T) {
	lines := daemonLines(nil, false)
	if len(lines) != 1 || !strings.Contains(lines[0], "[WARN] Not running") {
		t.Fatalf("unexpected lines %q", lines)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatalf("expected non-file writer to disable color")
	}
}
