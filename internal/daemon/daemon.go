package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/qbicsoftware/data-scanner/internal/config"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/metrics"
	"github.com/qbicsoftware/data-scanner/internal/stage"
	"github.com/qbicsoftware/data-scanner/internal/staging"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
	"github.com/qbicsoftware/data-scanner/internal/workflow"
)

// Daemon coordinates the pipeline and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *ledger.Store
	metrics  *metrics.Metrics
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock
	http     *httpServer

	running   atomic.Bool
	startedAt atomic.Pointer[time.Time]
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool                   `json:"running"`
	PID           int                    `json:"pid"`
	StartedAt     time.Time              `json:"started_at"`
	Workflow      workflow.StatusSummary `json:"workflow"`
	LedgerPath    string                 `json:"ledger_path,omitempty"`
	LockFilePath  string                 `json:"lock_file_path"`
	MetricsListen string                 `json:"metrics_listen,omitempty"`
}

// StageInterventions lists the parked tasks of one stage.
type StageInterventions struct {
	Stage string             `json:"stage"`
	Dir   string             `json:"dir"`
	Tasks []staging.TaskInfo `json:"tasks"`
}

// New constructs a daemon. store and m may be nil when the ledger or metrics
// are disabled.
func New(cfg *config.Config, store *ledger.Store, m *metrics.Metrics, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || wf == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		metrics:  m,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.http = newHTTPServer(cfg.Metrics.Bind, d, d.logger)
	return d, nil
}

// Start acquires the daemon lock, opens the metrics listener and launches the
// workflow.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("ensure state directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another data scanner instance is already running")
	}

	if err := d.http.start(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	if err := d.workflow.Start(ctx); err != nil {
		d.http.stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}

	now := time.Now()
	d.startedAt.Store(&now)
	d.running.Store(true)
	d.logger.Info("data scanner daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops the workflow, closes the metrics listener and releases the lock.
// In-flight tasks are finished first.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.workflow.Stop()
	d.http.stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_unlock_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next start may report a running instance"),
		)
	}
	d.logger.Info("data scanner daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the ledger.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Done is closed when the workflow has ended, either through Stop or because
// a component failed.
func (d *Daemon) Done() <-chan struct{} {
	return d.workflow.Done()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		Workflow:      d.workflow.Status(ctx),
		LockFilePath:  d.lockPath,
		MetricsListen: d.http.address(),
	}
	if started := d.startedAt.Load(); started != nil {
		status.StartedAt = *started
	}
	if d.store != nil {
		status.LedgerPath = d.store.Path()
	}
	return status
}

// Events returns journaled transitions, newest first.
func (d *Daemon) Events(ctx context.Context, filter ledger.Filter) ([]ledger.Event, error) {
	if d.store == nil {
		return nil, errors.New("ledger disabled")
	}
	return d.store.Recent(ctx, filter)
}

// Stats returns outcome counts per stage.
func (d *Daemon) Stats(ctx context.Context) ([]ledger.StageStats, error) {
	if d.store == nil {
		return nil, errors.New("ledger disabled")
	}
	return d.store.Stats(ctx)
}

// Interventions lists the tasks parked in every stage's interventions folder.
func (d *Daemon) Interventions() ([]StageInterventions, error) {
	return ListInterventions(d.cfg)
}

// ListInterventions reads the interventions folders straight from disk, so
// it works whether or not a daemon is running.
func ListInterventions(cfg *config.Config) ([]StageInterventions, error) {
	stages := []struct {
		name string
		dir  string
	}{
		{stage.Registration, cfg.Registration.WorkingDir},
		{stage.Processing, cfg.Processing.WorkingDir},
		{stage.Evaluation, cfg.Evaluation.WorkingDir},
	}
	var (
		out  []StageInterventions
		errs []error
	)
	for _, s := range stages {
		dir := taskdir.InterventionsDir(s.dir)
		tasks, err := staging.ListTasks(dir)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}
		if tasks == nil {
			tasks = []staging.TaskInfo{}
		}
		out = append(out, StageInterventions{Stage: s.name, Dir: dir, Tasks: tasks})
	}
	return out, errors.Join(errs...)
}
