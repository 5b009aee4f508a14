// Package registration turns raw datasets taken from the request queue into
// one task directory per measurement, each carrying a provenance sidecar, and
// commits them to the processing stage.
//
// Datasets that fail validation are returned to the submitting user's error
// directory together with an error.txt explaining what to fix. Unexpected
// failures park the remains of the task in the stage's interventions folder.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
	"github.com/qbicsoftware/data-scanner/internal/queue"
	"github.com/qbicsoftware/data-scanner/internal/stage"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

// Source yields registration requests.
type Source interface {
	Poll(ctx context.Context) (queue.Request, error)
}

// Options configures the registration stage.
type Options struct {
	WorkingDir       string
	TargetDir        string
	MetadataFileName string
	UserErrorDirName string
}

// Handler implements stage.Handler for registration requests. One Handler
// is shared by every registration worker.
type Handler struct {
	opts     Options
	source   Source
	recorder ledger.Recorder
	logger   *slog.Logger
}

// New builds the registration handler.
func New(opts Options, source Source, recorder ledger.Recorder, logger *slog.Logger) (*Handler, error) {
	switch {
	case source == nil:
		return nil, errors.New("registration requires a request source")
	case opts.WorkingDir == "" || opts.TargetDir == "":
		return nil, errors.New("registration requires working and target directories")
	case opts.MetadataFileName == "":
		return nil, errors.New("registration requires a metadata file name")
	case opts.UserErrorDirName == "":
		return nil, errors.New("registration requires a user error directory name")
	}
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	return &Handler{
		opts:     opts,
		source:   source,
		recorder: recorder,
		logger:   logging.NewComponentLogger(logger, stage.Registration),
	}, nil
}

// Next blocks until the queue yields a request.
func (h *Handler) Next(ctx context.Context) (queue.Request, bool, error) {
	req, err := h.source.Poll(ctx)
	if err != nil {
		return queue.Request{}, false, err
	}
	return req, true, nil
}

// Process registers one dataset.
func (h *Handler) Process(ctx context.Context, req queue.Request) error {
	task, err := taskdir.Create(h.opts.WorkingDir)
	if err != nil {
		return err
	}
	logger := logging.WithTask(h.logger, task.ID)
	logger.Info("processing registration request",
		logging.String(logging.FieldPath, req.Target),
		logging.String("user", req.UserPath),
	)

	datasetName := filepath.Base(req.Target)
	datasetDir := filepath.Join(task.Path, datasetName)
	if err := taskdir.Move(req.Target, datasetDir); err != nil {
		if rmErr := os.Remove(task.Path); rmErr != nil {
			logger.Debug("cannot remove unused task directory", logging.Error(rmErr))
		}
		return fmt.Errorf("take over dataset: %w", err)
	}

	err = h.register(ctx, logger, req, datasetDir)
	if err == nil {
		if err := os.RemoveAll(task.Path); err != nil {
			logging.WarnWithContext(logger, "cannot remove intermediate task directory", "registration_cleanup_failed",
				logging.String(logging.FieldPath, task.Path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "leftover is swept into interventions on next start"),
			)
		}
		logger.Info("registration completed", logging.String(logging.FieldPath, req.Target))
		return nil
	}

	var verr *ValidationError
	if errors.As(err, &verr) {
		h.returnToUser(ctx, logger, task, req, datasetName, verr)
		return nil
	}
	h.park(ctx, logger, task, req, datasetName, err)
	return err
}

func (h *Handler) register(ctx context.Context, logger *slog.Logger, req queue.Request, datasetDir string) error {
	metadataPath, err := FindMetadata(datasetDir, h.opts.MetadataFileName)
	if err != nil {
		return err
	}
	entries, err := ParseMetadata(metadataPath)
	if err != nil {
		return err
	}
	onDisk, err := Validate(datasetDir, h.opts.MetadataFileName, entries)
	if err != nil {
		return err
	}
	for _, group := range GroupByMeasurement(entries) {
		if err := h.commitGroup(ctx, logger, req, datasetDir, group, onDisk); err != nil {
			return err
		}
	}
	return nil
}

// commitGroup prepares one measurement task in the working directory and
// commits it to the target directory with a single rename.
func (h *Handler) commitGroup(ctx context.Context, logger *slog.Logger, req queue.Request, datasetDir string, group Group, onDisk map[string]string) error {
	task, err := taskdir.Create(h.opts.WorkingDir)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(group.Files))
	err = func() error {
		for _, file := range group.Files {
			name := onDisk[file]
			if err := taskdir.Move(filepath.Join(datasetDir, name), filepath.Join(task.Path, name)); err != nil {
				return err
			}
			files = append(files, name)
		}
		record := provenance.New(req.Origin, req.UserPath, group.MeasurementID, files, task.Path)
		if err := provenance.Write(task.Path, record); err != nil {
			return err
		}
		_, err := taskdir.Commit(task.Path, h.opts.TargetDir)
		return err
	}()
	if err != nil {
		parked, divertErr := taskdir.DivertFirst(task.Path, taskdir.Report{
			TaskID:      task.ID,
			Dataset:     filepath.Base(req.Target),
			Reason:      "Writing task directory failed",
			Description: err.Error(),
		}, taskdir.InterventionsDir(h.opts.WorkingDir))
		h.record(ctx, logger, ledger.Event{
			TaskID:        task.ID,
			Outcome:       ledger.OutcomeIntervention,
			Source:        req.Target,
			Destination:   parked,
			MeasurementID: group.MeasurementID,
			Reason:        err.Error(),
		})
		if divertErr != nil {
			return fmt.Errorf("commit measurement %s: %w", group.MeasurementID, errors.Join(err, divertErr))
		}
		return fmt.Errorf("commit measurement %s: %w", group.MeasurementID, err)
	}

	dest := filepath.Join(h.opts.TargetDir, task.ID)
	logging.WithTask(h.logger, task.ID).Info("measurement registered",
		logging.String("measurement_id", group.MeasurementID),
		logging.Int("files", len(files)),
		logging.String(logging.FieldPath, dest),
	)
	h.record(ctx, logger, ledger.Event{
		TaskID:        task.ID,
		Outcome:       ledger.OutcomeForwarded,
		Source:        req.Target,
		Destination:   dest,
		MeasurementID: group.MeasurementID,
	})
	return nil
}

func (h *Handler) returnToUser(ctx context.Context, logger *slog.Logger, task taskdir.Dir, req queue.Request, datasetName string, verr *ValidationError) {
	report := taskdir.Report{
		TaskID:      task.ID,
		Dataset:     datasetName,
		Reason:      verr.Message,
		Description: verr.Code.Description(),
		Context:     map[string]string{"Error Code": string(verr.Code)},
	}
	userErrors := filepath.Join(req.UserPath, h.opts.UserErrorDirName)
	dest, err := taskdir.DivertFirst(task.Path, report, userErrors, taskdir.InterventionsDir(h.opts.WorkingDir))
	outcome := ledger.OutcomeUserError
	if err != nil || filepath.Dir(dest) != userErrors {
		outcome = ledger.OutcomeIntervention
	}
	if err != nil {
		logging.ErrorWithContext(logger, "cannot return rejected dataset", "registration_return_failed",
			logging.String(logging.FieldPath, task.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task stays in the registration working directory"),
		)
	} else {
		logging.WarnWithContext(logger, "dataset failed validation", "registration_rejected",
			logging.String("code", string(verr.Code)),
			logging.String("reason", verr.Message),
			logging.String(logging.FieldPath, dest),
			logging.String(logging.FieldErrorHint, "the user must correct the dataset and resubmit"),
		)
	}
	h.record(ctx, logger, ledger.Event{
		TaskID:      task.ID,
		Outcome:     outcome,
		Source:      req.Target,
		Destination: dest,
		Reason:      verr.Message,
	})
}

func (h *Handler) park(ctx context.Context, logger *slog.Logger, task taskdir.Dir, req queue.Request, datasetName string, cause error) {
	dest, err := taskdir.DivertFirst(task.Path, taskdir.Report{
		TaskID:      task.ID,
		Dataset:     datasetName,
		Reason:      "Registration failed",
		Description: cause.Error(),
	}, taskdir.InterventionsDir(h.opts.WorkingDir))
	if err != nil {
		logging.ErrorWithContext(logger, "cannot move failed registration to interventions", "registration_park_failed",
			logging.String(logging.FieldPath, task.Path),
			logging.Error(errors.Join(cause, err)),
			logging.String(logging.FieldImpact, "task stays in the registration working directory"),
		)
		return
	}
	logging.ErrorWithContext(logger, "registration failed", "registration_failed",
		logging.Error(cause),
		logging.String(logging.FieldPath, dest),
		logging.String(logging.FieldErrorHint, "inspect the task in the interventions directory"),
	)
	h.record(ctx, logger, ledger.Event{
		TaskID:      task.ID,
		Outcome:     ledger.OutcomeIntervention,
		Source:      req.Target,
		Destination: dest,
		Reason:      cause.Error(),
	})
}

func (h *Handler) record(ctx context.Context, logger *slog.Logger, event ledger.Event) {
	event.Stage = stage.Registration
	if err := h.recorder.Record(ctx, event); err != nil {
		logger.Warn("cannot record transition", logging.Error(err))
	}
}

// HealthCheck reports whether the stage directories accept new tasks.
func (h *Handler) HealthCheck(context.Context) stage.Health {
	return stage.DirectoriesHealth(stage.Registration, h.opts.WorkingDir, h.opts.TargetDir)
}
