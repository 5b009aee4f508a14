package stage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/logging"
)

type chanHandler struct {
	work    chan int
	mu      sync.Mutex
	handled []int
	block   chan struct{}
	started chan struct{}
	fail    error
}

func (h *chanHandler) Next(ctx context.Context) (int, bool, error) {
	select {
	case v := <-h.work:
		return v, true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (h *chanHandler) Process(ctx context.Context, v int) error {
	if h.started != nil {
		h.started <- struct{}{}
	}
	if h.block != nil {
		<-h.block
	}
	if ctx.Err() != nil {
		return errors.New("process context cancelled")
	}
	h.mu.Lock()
	h.handled = append(h.handled, v)
	h.mu.Unlock()
	return h.fail
}

func (h *chanHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func TestWorkerProcessesUntilCancelled(t *testing.T) {
	h := &chanHandler{work: make(chan int, 3)}
	h.work <- 1
	h.work <- 2
	h.work <- 3

	w := NewWorker[int](Processing, 1, h, 10*time.Millisecond, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for h.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if h.count() != 3 {
		t.Fatalf("expected 3 processed items, got %d", h.count())
	}
	if !w.Terminated() || w.Active() {
		t.Fatalf("unexpected state after stop: %+v", w.Status())
	}
	if w.Status().Processed != 3 {
		t.Fatalf("unexpected processed count: %+v", w.Status())
	}
}

func TestInterruptWaitsForCurrentWork(t *testing.T) {
	h := &chanHandler{
		work:    make(chan int, 1),
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	h.work <- 7
	w := NewWorker[int](Evaluation, 1, h, time.Millisecond, logging.NewNop())
	go func() { _ = w.Run(context.Background()) }()

	<-h.started
	if !w.Active() {
		t.Fatal("expected worker to be active while processing")
	}

	interrupted := make(chan struct{})
	go func() {
		w.Interrupt()
		close(interrupted)
	}()

	select {
	case <-interrupted:
		t.Fatal("Interrupt returned before work finished")
	case <-time.After(30 * time.Millisecond):
	}
	if !w.Terminated() {
		t.Fatal("expected terminated flag to be set immediately")
	}

	close(h.block)
	select {
	case <-interrupted:
	case <-time.After(time.Second):
		t.Fatal("Interrupt did not return after work finished")
	}
	if h.count() != 1 {
		t.Fatal("work in progress must complete with a live context")
	}
	w.Interrupt()
}

func TestInterruptBeforeRun(t *testing.T) {
	h := &chanHandler{work: make(chan int)}
	w := NewWorker[int](Registration, 1, h, time.Millisecond, nil)
	w.Interrupt()
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	select {
	case <-w.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
}

func TestWorkerRecordsFailures(t *testing.T) {
	h := &chanHandler{work: make(chan int, 1), fail: errors.New("disk full")}
	h.work <- 1
	w := NewWorker[int](Processing, 2, h, time.Millisecond, logging.NewNop())
	go func() { _ = w.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for w.Status().Failures == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Interrupt()
	status := w.Status()
	if status.Failures != 1 || status.LastError != "disk full" {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.Stage != Processing || status.Index != 2 {
		t.Fatalf("unexpected identity %+v", status)
	}
}

func TestDirectoriesHealth(t *testing.T) {
	if h := DirectoriesHealth("processing", t.TempDir()); !h.Ready {
		t.Fatalf("expected ready, got %+v", h)
	}
	if h := DirectoriesHealth("processing", "/definitely/not/here"); h.Ready || h.Detail == "" {
		t.Fatalf("expected unhealthy with detail, got %+v", h)
	}
}
