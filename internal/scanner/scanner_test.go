package scanner_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/queue"
	"github.com/qbicsoftware/data-scanner/internal/scanner"
)

type recordingQueue struct {
	mu       sync.Mutex
	requests []queue.Request
}

func (q *recordingQueue) Add(_ context.Context, req queue.Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, req)
	return nil
}

func (q *recordingQueue) targets() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.requests))
	for _, req := range q.requests {
		out = append(out, req.Target)
	}
	return out
}

func mkdir(t *testing.T, parts ...string) string {
	t.Helper()
	dir := filepath.Join(parts...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	return dir
}

func newScanner(t *testing.T, root string, q scanner.Queue, ignore ...string) *scanner.Scanner {
	t.Helper()
	s, err := scanner.New(scanner.Options{
		Root:                root,
		Interval:            10 * time.Millisecond,
		Ignore:              ignore,
		RegistrationDirName: "registration",
	}, q, nil, logging.NewNop())
	if err != nil {
		t.Fatalf("scanner.New: %v", err)
	}
	return s
}

func TestScanEnqueuesEachDatasetOnce(t *testing.T) {
	root := t.TempDir()
	regDir := mkdir(t, root, "alice", "registration")
	dataset := mkdir(t, regDir, "sampleA")
	mkdir(t, regDir, ".partial")
	if err := os.WriteFile(filepath.Join(regDir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	q := &recordingQueue{}
	s := newScanner(t, root, q)
	ctx := context.Background()

	n, err := s.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 request, got %d (%v)", n, q.targets())
	}
	if n, err = s.Scan(ctx); err != nil || n != 0 {
		t.Fatalf("second scan enqueued %d (err %v)", n, err)
	}

	got := q.requests[0]
	if got.Target != dataset || got.Origin != regDir {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.UserPath != filepath.Join(root, "alice") {
		t.Fatalf("unexpected user path %q", got.UserPath)
	}
}

func TestScanSkipsIgnoredUsersAndMissingRegistration(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "bob", "registration", "ds")
	mkdir(t, root, "carol", "uploads", "ds")
	mkdir(t, root, "dave", "registration", "ds")

	q := &recordingQueue{}
	s := newScanner(t, root, q, "bob")
	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	targets := q.targets()
	if len(targets) != 1 || targets[0] != filepath.Join(root, "dave", "registration", "ds") {
		t.Fatalf("unexpected targets %v", targets)
	}
	if tracked := s.Tracked(); len(tracked) != 1 {
		t.Fatalf("expected only dave to be tracked, got %v", tracked)
	}
}

func TestScanForgetsVanishedDatasetsAndDirectories(t *testing.T) {
	root := t.TempDir()
	regDir := mkdir(t, root, "alice", "registration")
	dataset := mkdir(t, regDir, "ds")

	q := &recordingQueue{}
	s := newScanner(t, root, q)
	ctx := context.Background()
	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.SubmittedCount() != 1 {
		t.Fatalf("expected one remembered request, got %d", s.SubmittedCount())
	}

	if err := os.RemoveAll(dataset); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.SubmittedCount() != 0 {
		t.Fatalf("expected vanished dataset to be forgotten, got %d", s.SubmittedCount())
	}

	if err := os.RemoveAll(regDir); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := s.Scan(ctx); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if s.TrackedCount() != 0 {
		t.Fatalf("expected zombie directory to be dropped, got %v", s.Tracked())
	}
}

func TestRunFeedsBoundedQueue(t *testing.T) {
	root := t.TempDir()
	mkdir(t, root, "alice", "registration", "ds")

	q := queue.New(1)
	s := newScanner(t, root, q)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	pollCtx, pollCancel := context.WithTimeout(context.Background(), time.Second)
	defer pollCancel()
	req, err := q.Poll(pollCtx)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if filepath.Base(req.Target) != "ds" {
		t.Fatalf("unexpected request %+v", req)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := scanner.New(scanner.Options{Root: filepath.Join(t.TempDir(), "missing"), RegistrationDirName: "registration"}, &recordingQueue{}, nil, nil)
	if err == nil {
		t.Fatal("expected error for missing scanner directory")
	}
}
