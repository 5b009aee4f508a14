// Package processing normalizes the layout of registered task directories and
// forwards them to the evaluation stage.
//
// After this stage every task directory holds exactly one dataset directory
// next to its provenance sidecar, whatever shape the registered payload had.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/qbicsoftware/data-scanner/internal/claims"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
	"github.com/qbicsoftware/data-scanner/internal/stage"
	"github.com/qbicsoftware/data-scanner/internal/staging"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

// DatasetSuffix is appended to the name of a directory created to wrap a
// loose payload.
const DatasetSuffix = "_dataset"

// Intervention reasons written to error.txt.
const (
	ReasonNoProvenance    = "No provenance file provided"
	ReasonNoPayload       = "No dataset found in task directory"
	ReasonLayoutFailed    = "Normalizing dataset layout failed"
	ReasonProvenanceWrite = "Writing provenance file failed"
	ReasonTaskWriteFailed = "Writing task directory failed"
)

// Options configures the processing stage.
type Options struct {
	WorkingDir string
	TargetDir  string
	BatchSize  int
}

// Handler implements stage.Handler over task directory paths.
type Handler struct {
	opts     Options
	source   stage.TaskSource
	claims   *claims.Registry
	recorder ledger.Recorder
	logger   *slog.Logger
}

// New builds the processing handler. registry must be dedicated to this stage.
func New(opts Options, registry *claims.Registry, recorder ledger.Recorder, logger *slog.Logger) (*Handler, error) {
	if opts.WorkingDir == "" || opts.TargetDir == "" {
		return nil, errors.New("processing requires working and target directories")
	}
	if registry == nil {
		registry = claims.NewRegistry(stage.Processing)
	}
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	return &Handler{
		opts:     opts,
		source:   stage.TaskSource{Dir: opts.WorkingDir, Claims: registry, BatchSize: opts.BatchSize},
		claims:   registry,
		recorder: recorder,
		logger:   logging.NewComponentLogger(logger, stage.Processing),
	}, nil
}

// Next claims the next task directory of the working directory.
func (h *Handler) Next(ctx context.Context) (string, bool, error) {
	return h.source.Next(ctx)
}

// Process moves one claimed task directory on. The claim is released
// whatever the outcome.
func (h *Handler) Process(ctx context.Context, taskPath string) error {
	defer h.claims.Release(taskPath)

	task := taskdir.FromPath(taskPath)
	logger := logging.WithTask(h.logger, task.ID)
	if !taskdir.Exists(taskPath) {
		logger.Debug("task vanished before processing", logging.String(logging.FieldPath, taskPath))
		return nil
	}

	empty, err := taskdir.IsEmpty(taskPath)
	if err != nil {
		return fmt.Errorf("inspect task %s: %w", task.ID, err)
	}
	if empty {
		if err := os.Remove(taskPath); err != nil {
			return fmt.Errorf("remove empty task %s: %w", task.ID, err)
		}
		logger.Info("empty task deleted", logging.String(logging.FieldPath, taskPath))
		h.record(ctx, logger, ledger.Event{TaskID: task.ID, Outcome: ledger.OutcomeDiscarded, Source: taskPath})
		return nil
	}

	record, err := provenance.Load(taskPath)
	if err != nil {
		reason := err.Error()
		if provenance.CodeOf(err) == provenance.CodeNotFound {
			reason = ReasonNoProvenance
		}
		return h.park(ctx, logger, task, reason, err)
	}

	if err := NormalizeLayout(taskPath, record.MeasurementID()); err != nil {
		reason := ReasonLayoutFailed
		if errors.Is(err, errNoPayload) {
			reason = ReasonNoPayload
		}
		return h.park(ctx, logger, task, reason, err)
	}

	record = record.Visit(taskPath)
	if err := provenance.Write(taskPath, record); err != nil {
		return h.park(ctx, logger, task, ReasonProvenanceWrite, err)
	}

	dest, err := taskdir.Commit(taskPath, h.opts.TargetDir)
	if err != nil {
		return h.park(ctx, logger, task, ReasonTaskWriteFailed, err)
	}
	logger.Info("task forwarded to evaluation", logging.String(logging.FieldPath, dest))
	h.record(ctx, logger, ledger.Event{
		TaskID:        task.ID,
		Outcome:       ledger.OutcomeForwarded,
		Source:        taskPath,
		Destination:   dest,
		MeasurementID: record.MeasurementID(),
	})
	return nil
}

// park diverts the task into the interventions folder. It only returns an
// error when the task could not be moved at all.
func (h *Handler) park(ctx context.Context, logger *slog.Logger, task taskdir.Dir, reason string, cause error) error {
	dest, err := taskdir.DivertFirst(task.Path, taskdir.Report{
		TaskID:      task.ID,
		Reason:      reason,
		Description: cause.Error(),
	}, taskdir.InterventionsDir(h.opts.WorkingDir))
	if err != nil {
		return fmt.Errorf("move task %s to interventions: %w", task.ID, errors.Join(cause, err))
	}
	logging.ErrorWithContext(logger, "task moved to interventions", "processing_intervention",
		logging.String("reason", reason),
		logging.Error(cause),
		logging.String(logging.FieldPath, dest),
		logging.String(logging.FieldErrorHint, "inspect error.txt in the task directory"),
	)
	h.record(ctx, logger, ledger.Event{
		TaskID:      task.ID,
		Outcome:     ledger.OutcomeIntervention,
		Source:      task.Path,
		Destination: dest,
		Reason:      reason,
	})
	return nil
}

func (h *Handler) record(ctx context.Context, logger *slog.Logger, event ledger.Event) {
	event.Stage = stage.Processing
	if err := h.recorder.Record(ctx, event); err != nil {
		logger.Warn("cannot record transition", logging.Error(err))
	}
}

// HealthCheck reports whether the stage directories accept new tasks.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.DirectoriesHealth(stage.Processing, h.opts.WorkingDir, h.opts.TargetDir)
}

// Claims exposes the stage registry for status reporting.
func (h *Handler) Claims() *claims.Registry { return h.claims }

var errNoPayload = errors.New("task directory holds no dataset")

// NormalizeLayout makes sure the payload of the task at taskPath is a single
// directory. A single file is wrapped into "<file>_dataset"; several entries
// are wrapped into "<measurementID>_dataset", or "<task id>_dataset" when the
// measurement id is unknown. The entries are first gathered in a hidden
// staging directory that is then renamed in one step.
func NormalizeLayout(taskPath, measurementID string) error {
	payload, err := taskdir.Payload(taskPath)
	if err != nil {
		return err
	}
	switch {
	case len(payload) == 0:
		return errNoPayload
	case len(payload) == 1 && payload[0].IsDir():
		return nil
	}

	var wrapper string
	switch {
	case len(payload) == 1:
		wrapper = payload[0].Name() + DatasetSuffix
	case measurementID != "":
		wrapper = measurementID + DatasetSuffix
	default:
		wrapper = filepath.Base(taskPath) + DatasetSuffix
	}
	if !isEntryName(taskPath, wrapper) {
		wrapper = filepath.Base(taskPath) + DatasetSuffix
	}

	wrapDir, err := os.MkdirTemp(taskPath, staging.LayoutPrefix)
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	for _, entry := range payload {
		if err := taskdir.Move(filepath.Join(taskPath, entry.Name()), filepath.Join(wrapDir, entry.Name())); err != nil {
			return err
		}
	}
	if err := os.Chmod(wrapDir, 0o755); err != nil {
		return fmt.Errorf("chmod staging directory: %w", err)
	}
	return taskdir.Move(wrapDir, filepath.Join(taskPath, wrapper))
}

// isEntryName reports whether name denotes a visible entry directly inside dir.
func isEntryName(dir, name string) bool {
	if taskdir.IsHidden(name) {
		return false
	}
	return filepath.Dir(filepath.Join(dir, name)) == filepath.Clean(dir)
}
