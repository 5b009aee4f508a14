package stage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/logging"
)

const errorBackoff = time.Second

// Status is a point-in-time view of one worker.
type Status struct {
	Stage      string `json:"stage"`
	Index      int    `json:"index"`
	Active     bool   `json:"active"`
	Terminated bool   `json:"terminated"`
	Processed  int64  `json:"processed"`
	Failures   int64  `json:"failures"`
	LastError  string `json:"last_error,omitempty"`
}

// Worker drives one Handler in a loop until its context ends or Interrupt
// is called.
type Worker[T any] struct {
	stage    string
	index    int
	handler  Handler[T]
	idleWait time.Duration
	logger   *slog.Logger

	active     atomic.Bool
	terminated atomic.Bool
	processed  atomic.Int64
	failures   atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr string
}

// NewWorker builds worker number index of the named stage.
func NewWorker[T any](stageName string, index int, handler Handler[T], idleWait time.Duration, logger *slog.Logger) *Worker[T] {
	return &Worker[T]{
		stage:    stageName,
		index:    index,
		handler:  handler,
		idleWait: idleWait,
		logger:   logging.NewWorkerLogger(logger, stageName, index),
		done:     make(chan struct{}),
	}
}

// Run loops until ctx is cancelled or the worker is interrupted. It returns
// nil on orderly shutdown. Run must be called at most once.
func (w *Worker[T]) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	defer func() {
		cancel()
		w.active.Store(false)
		w.terminated.Store(true)
		close(w.done)
	}()
	if w.terminated.Load() {
		return nil
	}

	w.logger.Debug("worker started")
	for {
		if runCtx.Err() != nil || w.terminated.Load() {
			w.logger.Debug("worker stopped")
			return nil
		}

		work, ok, err := w.handler.Next(runCtx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			w.recordFailure(err)
			logging.WarnWithContext(w.logger, "stage could not fetch work", "worker_fetch_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "worker backs off before retrying"),
			)
			w.sleep(runCtx, errorBackoff)
			continue
		}
		if !ok {
			w.sleep(runCtx, w.idleWait)
			continue
		}

		w.active.Store(true)
		err = w.handler.Process(context.WithoutCancel(runCtx), work)
		w.active.Store(false)
		w.processed.Add(1)
		if err != nil {
			w.recordFailure(err)
			logging.ErrorWithContext(w.logger, "stage failed to process work", "worker_process_failed",
				logging.Error(err),
			)
		}
	}
}

// Interrupt marks the worker terminated, cancels its loop and waits until the
// current unit of work has finished. It is safe to call more than once and
// before Run has started.
func (w *Worker[T]) Interrupt() {
	w.terminated.Store(true)
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-w.done
}

// Done is closed when Run returns.
func (w *Worker[T]) Done() <-chan struct{} { return w.done }

// Active reports whether the worker is processing a unit of work.
func (w *Worker[T]) Active() bool { return w.active.Load() }

// Terminated reports whether shutdown has been requested or completed.
func (w *Worker[T]) Terminated() bool { return w.terminated.Load() }

// Status snapshots the worker counters.
func (w *Worker[T]) Status() Status {
	w.mu.Lock()
	lastErr := w.lastErr
	w.mu.Unlock()
	return Status{
		Stage:      w.stage,
		Index:      w.index,
		Active:     w.active.Load(),
		Terminated: w.terminated.Load(),
		Processed:  w.processed.Load(),
		Failures:   w.failures.Load(),
		LastError:  lastErr,
	}
}

func (w *Worker[T]) recordFailure(err error) {
	w.failures.Add(1)
	w.mu.Lock()
	w.lastErr = err.Error()
	w.mu.Unlock()
}

func (w *Worker[T]) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Runner is the non-generic view of a worker used by supervisors.
type Runner interface {
	Run(ctx context.Context) error
	Interrupt()
	Active() bool
	Terminated() bool
	Status() Status
}

var _ Runner = (*Worker[struct{}])(nil)
