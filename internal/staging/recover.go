// Package staging inspects and repairs the stage working directories: the
// startup recovery sweep for work interrupted by a crash, and listings of
// the task directories parked in each stage.
package staging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/qbicsoftware/data-scanner/internal/fileutil"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

// LayoutPrefix names the hidden directory used while a payload is wrapped.
const LayoutPrefix = ".layout-"

// ReasonInterrupted is written into registration tasks found at startup.
const ReasonInterrupted = "Registration was interrupted before it completed"

// RecoverOptions names the directories the sweep inspects.
type RecoverOptions struct {
	// RegistrationWorkingDir holds intermediate registration tasks. Anything
	// left there at startup was interrupted mid-registration.
	RegistrationWorkingDir string
	// StageWorkingDirs are the processing and evaluation working
	// directories, whose tasks are resumed by the workers.
	StageWorkingDirs []string
	// TargetDirs are only swept for unfinished cross-filesystem copies.
	TargetDirs []string
}

// RecoverResult contains the outcome of a recovery sweep.
type RecoverResult struct {
	Parked          []string
	RemovedTemp     []string
	RestoredLayouts []string
	RemovedPartial  []string
	Errors          []CleanupError
}

// CleanupError pairs a path with the error raised while repairing it.
type CleanupError struct {
	Path  string
	Error error
}

// Recover repairs state left behind by an interrupted run. It must run
// before any worker starts. Interrupted registrations are moved to the
// registration interventions folder, half-written sidecars are removed and
// payloads caught mid-wrap are put back so processing can redo the wrap.
// Unfinished cross-filesystem copies are deleted; their source still exists.
func Recover(ctx context.Context, opts RecoverOptions, logger *slog.Logger) RecoverResult {
	if logger == nil {
		logger = logging.NewNop()
	}
	result := RecoverResult{}

	dirs := append([]string{opts.RegistrationWorkingDir}, opts.StageWorkingDirs...)
	for _, dir := range dirs {
		if ctx.Err() != nil {
			return result
		}
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		result.removePartial(dir, logger)
		tasks, err := taskdir.List(dir, 0)
		if err != nil {
			if !os.IsNotExist(err) {
				result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
			}
			continue
		}
		for _, task := range tasks {
			result.repairTask(task, logger)
			if dir == opts.RegistrationWorkingDir {
				result.park(task, dir, logger)
			}
		}
	}
	for _, dir := range opts.TargetDirs {
		if dir = strings.TrimSpace(dir); dir != "" {
			result.removePartial(dir, logger)
		}
	}
	return result
}

func (r *RecoverResult) removePartial(dir string, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.Errors = append(r.Errors, CleanupError{Path: dir, Error: err})
		}
		return
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), fileutil.PartialPrefix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			r.Errors = append(r.Errors, CleanupError{Path: path, Error: err})
			continue
		}
		r.RemovedPartial = append(r.RemovedPartial, path)
		logger.Info("removed unfinished copy",
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldEventType, "recovery_partial_removed"),
		)
	}
}

func (r *RecoverResult) repairTask(task string, logger *slog.Logger) {
	entries, err := os.ReadDir(task)
	if err != nil {
		r.Errors = append(r.Errors, CleanupError{Path: task, Error: err})
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(task, name)
		switch {
		case isSidecarTemp(name):
			if err := os.Remove(path); err != nil {
				r.Errors = append(r.Errors, CleanupError{Path: path, Error: err})
				continue
			}
			r.RemovedTemp = append(r.RemovedTemp, path)
			logger.Info("removed incomplete provenance write",
				logging.String(logging.FieldPath, path),
				logging.String(logging.FieldEventType, "recovery_temp_removed"),
			)
		case entry.IsDir() && strings.HasPrefix(name, LayoutPrefix):
			if err := restoreLayout(task, path); err != nil {
				r.Errors = append(r.Errors, CleanupError{Path: path, Error: err})
				logging.WarnWithContext(logger, "cannot restore interrupted layout change", "recovery_layout_failed",
					logging.String(logging.FieldPath, path),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "move the entries back into the task directory by hand"),
				)
				continue
			}
			r.RestoredLayouts = append(r.RestoredLayouts, path)
			logger.Info("restored interrupted layout change",
				logging.String(logging.FieldPath, task),
				logging.String(logging.FieldEventType, "recovery_layout_restored"),
			)
		}
	}
}

func (r *RecoverResult) park(task, workingDir string, logger *slog.Logger) {
	id := filepath.Base(task)
	dest, err := taskdir.Divert(task, taskdir.InterventionsDir(workingDir), taskdir.Report{
		TaskID:      id,
		Reason:      ReasonInterrupted,
		Description: "The task directory was found in the registration working directory at startup.",
	})
	if err != nil {
		r.Errors = append(r.Errors, CleanupError{Path: task, Error: err})
		logging.WarnWithContext(logger, "cannot park interrupted registration", "recovery_park_failed",
			logging.String(logging.FieldPath, task),
			logging.Error(err),
			logging.String(logging.FieldImpact, "task stays in the registration working directory"),
		)
		return
	}
	r.Parked = append(r.Parked, dest)
	logging.WarnWithContext(logger, "parked interrupted registration", "recovery_parked",
		logging.String(logging.FieldPath, dest),
		logging.String(logging.FieldErrorHint, "check whether the dataset was partially registered"),
	)
}

func restoreLayout(task, layoutDir string) error {
	entries, err := os.ReadDir(layoutDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := taskdir.Move(filepath.Join(layoutDir, entry.Name()), filepath.Join(task, entry.Name())); err != nil {
			return err
		}
	}
	return os.Remove(layoutDir)
}

func isSidecarTemp(name string) bool {
	return strings.HasPrefix(name, "."+provenance.FileName+"-") && strings.HasSuffix(name, provenance.TempSuffix)
}
