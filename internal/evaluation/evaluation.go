// Package evaluation checks that every processed dataset carries a known
// measurement identifier and delivers it to one of the final target
// directories, cycling through them in turn.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"

	"github.com/qbicsoftware/data-scanner/internal/claims"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
	"github.com/qbicsoftware/data-scanner/internal/roundrobin"
	"github.com/qbicsoftware/data-scanner/internal/stage"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

const (
	ReasonNoProvenance = "Provenance file was not found"
	ReasonNoDataset    = "No dataset directory found."
)

// MissingMeasurementReason is the user-facing reason for a dataset whose
// name carries no known measurement id.
func MissingMeasurementReason(taskID string) string {
	return fmt.Sprintf("Missing measurement identifier: no known measurement id was found in the content of directory '%s'", taskID)
}

// Options configures the evaluation stage.
type Options struct {
	WorkingDir       string
	TargetDirs       []string
	Pattern          *regexp.Regexp
	UserErrorDirName string
	BatchSize        int
}

var writeProvenance = provenance.Write

// Handler implements stage.Handler over task directory paths.
type Handler struct {
	opts     Options
	targets  *roundrobin.Selector[string]
	source   stage.TaskSource
	claims   *claims.Registry
	recorder ledger.Recorder
	logger   *slog.Logger
}

// New builds the evaluation handler. An empty target list is a configuration
// error.
func New(opts Options, registry *claims.Registry, recorder ledger.Recorder, logger *slog.Logger) (*Handler, error) {
	if opts.WorkingDir == "" {
		return nil, errors.New("evaluation requires a working directory")
	}
	if opts.Pattern == nil {
		return nil, errors.New("evaluation requires a measurement id pattern")
	}
	if opts.UserErrorDirName == "" {
		return nil, errors.New("evaluation requires a user error directory name")
	}
	targets, err := roundrobin.New(opts.TargetDirs)
	if err != nil {
		return nil, fmt.Errorf("evaluation targets: %w", err)
	}
	if registry == nil {
		registry = claims.NewRegistry(stage.Evaluation)
	}
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	return &Handler{
		opts:     opts,
		targets:  targets,
		source:   stage.TaskSource{Dir: opts.WorkingDir, Claims: registry, BatchSize: opts.BatchSize},
		claims:   registry,
		recorder: recorder,
		logger:   logging.NewComponentLogger(logger, stage.Evaluation),
	}, nil
}

// Next claims the next task directory of the working directory.
func (h *Handler) Next(ctx context.Context) (string, bool, error) {
	return h.source.Next(ctx)
}

// Process evaluates one claimed task directory and releases the claim.
func (h *Handler) Process(ctx context.Context, taskPath string) error {
	defer h.claims.Release(taskPath)

	task := taskdir.FromPath(taskPath)
	logger := logging.WithTask(h.logger, task.ID)
	if !taskdir.Exists(taskPath) {
		logger.Debug("task vanished before evaluation", logging.String(logging.FieldPath, taskPath))
		return nil
	}

	record, err := provenance.Load(taskPath)
	if err != nil {
		reason := err.Error()
		if provenance.CodeOf(err) == provenance.CodeNotFound {
			reason = ReasonNoProvenance
		}
		return h.park(ctx, logger, task, reason, err.Error(), record.MeasurementID())
	}

	dataset, err := findDataset(taskPath)
	if err != nil {
		return fmt.Errorf("list task %s: %w", task.ID, err)
	}
	if dataset == "" {
		return h.returnToUser(ctx, logger, task, record, ReasonNoDataset)
	}

	measurementID := h.opts.Pattern.FindString(dataset)
	if measurementID == "" {
		return h.returnToUser(ctx, logger, task, record, MissingMeasurementReason(task.ID))
	}

	record = record.Visit(taskPath)
	if err := writeProvenance(taskPath, record); err != nil {
		return h.park(ctx, logger, task, "Writing provenance file failed", err.Error(), measurementID)
	}
	target := h.targets.Next()
	dest, err := taskdir.Commit(taskPath, target)
	if err != nil {
		reason := fmt.Sprintf("Cannot move task to target directory: %s", target)
		return h.park(ctx, logger, task, reason, err.Error(), measurementID)
	}
	logger.Info("task delivered",
		logging.String("measurement_id", measurementID),
		logging.String(logging.FieldPath, dest),
	)
	h.record(ctx, logger, ledger.Event{
		TaskID:        task.ID,
		Outcome:       ledger.OutcomeDelivered,
		Source:        taskPath,
		Destination:   dest,
		MeasurementID: measurementID,
	})
	return nil
}

// findDataset returns the name of the first non-hidden directory in the task.
func findDataset(taskPath string) (string, error) {
	payload, err := taskdir.Payload(taskPath)
	if err != nil {
		return "", err
	}
	for _, entry := range payload {
		if entry.IsDir() {
			return entry.Name(), nil
		}
	}
	return "", nil
}

func (h *Handler) returnToUser(ctx context.Context, logger *slog.Logger, task taskdir.Dir, record provenance.Record, reason string) error {
	destinations := []string{taskdir.InterventionsDir(h.opts.WorkingDir)}
	var userErrors string
	if record.User() != "" {
		userErrors = filepath.Join(record.User(), h.opts.UserErrorDirName)
		destinations = append([]string{userErrors}, destinations...)
	}
	dest, err := taskdir.DivertFirst(task.Path, taskdir.Report{TaskID: task.ID, Reason: reason}, destinations...)
	if err != nil {
		return fmt.Errorf("return task %s: %w", task.ID, err)
	}

	outcome := ledger.OutcomeUserError
	if userErrors == "" || filepath.Dir(dest) != userErrors {
		outcome = ledger.OutcomeIntervention
	}
	logging.WarnWithContext(logger, "task rejected", "evaluation_rejected",
		logging.String("reason", reason),
		logging.String(logging.FieldPath, dest),
		logging.String(logging.FieldErrorHint, "the dataset name must contain a known measurement id"),
	)
	h.record(ctx, logger, ledger.Event{
		TaskID:        task.ID,
		Outcome:       outcome,
		Source:        task.Path,
		Destination:   dest,
		MeasurementID: record.MeasurementID(),
		Reason:        reason,
	})
	return nil
}

func (h *Handler) park(ctx context.Context, logger *slog.Logger, task taskdir.Dir, reason, detail, measurementID string) error {
	dest, err := taskdir.DivertFirst(task.Path, taskdir.Report{
		TaskID:      task.ID,
		Reason:      reason,
		Description: detail,
	}, taskdir.InterventionsDir(h.opts.WorkingDir))
	if err != nil {
		return fmt.Errorf("move task %s to interventions: %w", task.ID, err)
	}
	logging.ErrorWithContext(logger, "task moved to interventions", "evaluation_intervention",
		logging.String("reason", reason),
		logging.String(logging.FieldPath, dest),
		logging.String(logging.FieldErrorHint, "inspect error.txt in the task directory"),
	)
	h.record(ctx, logger, ledger.Event{
		TaskID:        task.ID,
		Outcome:       ledger.OutcomeIntervention,
		Source:        task.Path,
		Destination:   dest,
		MeasurementID: measurementID,
		Reason:        reason,
	})
	return nil
}

func (h *Handler) record(ctx context.Context, logger *slog.Logger, event ledger.Event) {
	event.Stage = stage.Evaluation
	if err := h.recorder.Record(ctx, event); err != nil {
		logger.Warn("cannot record transition", logging.Error(err))
	}
}

// HealthCheck reports whether the working directory and every target accept
// new tasks.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	dirs := append([]string{h.opts.WorkingDir}, h.targets.Items()...)
	return stage.DirectoriesHealth(stage.Evaluation, dirs...)
}

// Claims exposes the stage registry for status reporting.
func (h *Handler) Claims() *claims.Registry { return h.claims }

// Targets returns the configured target directories in rotation order.
func (h *Handler) Targets() []string { return h.targets.Items() }
