// Package daemonrun assembles and runs the data scanner daemon process.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/config"
	"github.com/qbicsoftware/data-scanner/internal/daemon"
	"github.com/qbicsoftware/data-scanner/internal/ipc"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/metrics"
	"github.com/qbicsoftware/data-scanner/internal/notifications"
	"github.com/qbicsoftware/data-scanner/internal/staging"
	"github.com/qbicsoftware/data-scanner/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	// SocketPath overrides the IPC socket location from the configuration.
	SocketPath string
	// LogLevel overrides the configured log level when set.
	LogLevel string
}

// Run starts the daemon and blocks until it receives SIGINT or SIGTERM, a
// stop request arrives over IPC, or the workflow fails.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, closer, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if err := workflow.CheckDirectories(cfg, logger); err != nil {
		return err
	}
	recoverWorkingDirs(signalCtx, cfg, logger)

	store, err := openLedger(signalCtx, cfg, logger)
	if err != nil {
		return err
	}

	m := metrics.New()
	recorders := []ledger.Recorder{notifications.NewRecorder(cfg, logger)}
	if store != nil {
		recorders = append(recorders, store)
	}
	manager, err := workflow.NewManager(cfg, ledger.Multi(recorders...), m, logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return fmt.Errorf("create workflow: %w", err)
	}

	d, err := daemon.New(cfg, store, m, manager, logger)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	logConfigSnapshot(logger, cfg, socketPath)

	select {
	case <-signalCtx.Done():
		logger.Info("data scanner daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	case <-d.Done():
		logger.Info("workflow ended", logging.String(logging.FieldEventType, "workflow_ended"))
	}
	d.Stop()
	if err := manager.Err(); err != nil {
		return fmt.Errorf("workflow failed: %w", err)
	}
	return nil
}

func recoverWorkingDirs(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	result := staging.Recover(ctx, staging.RecoverOptions{
		RegistrationWorkingDir: cfg.Registration.WorkingDir,
		StageWorkingDirs:       []string{cfg.Processing.WorkingDir, cfg.Evaluation.WorkingDir},
		TargetDirs:             cfg.Evaluation.TargetDirs,
	}, logger)
	for _, failure := range result.Errors {
		logging.WarnWithContext(logger, "recovery sweep could not repair path", "recovery_failed",
			logging.String(logging.FieldPath, failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldImpact, "the task may be processed with stale content"),
		)
	}
	if n := len(result.Parked) + len(result.RemovedTemp) + len(result.RestoredLayouts) + len(result.RemovedPartial); n > 0 {
		logger.Info("recovery sweep finished",
			logging.Int("parked", len(result.Parked)),
			logging.Int("removed_temp", len(result.RemovedTemp)),
			logging.Int("restored_layouts", len(result.RestoredLayouts)),
			logging.Int("removed_partial", len(result.RemovedPartial)),
			logging.String(logging.FieldEventType, "recovery_finished"),
		)
	}
}

// openLedger returns nil when the ledger is disabled.
func openLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*ledger.Store, error) {
	if !cfg.Ledger.Enabled {
		return nil, nil
	}
	store, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if cfg.Ledger.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.Ledger.RetentionDays)
		removed, err := store.Prune(ctx, cutoff)
		if err != nil {
			logging.WarnWithContext(logger, "ledger prune failed", "ledger_prune_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "old transitions stay in the ledger"),
			)
		} else if removed > 0 {
			logger.Info("ledger pruned", logging.Int64("removed", removed))
		}
	}
	return store, nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, socketPath string) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("scanner_dir", cfg.Paths.ScannerDir),
		logging.Int("registration_workers", cfg.Registration.Workers),
		logging.Int("processing_workers", cfg.Processing.Workers),
		logging.Int("evaluation_workers", cfg.Evaluation.Workers),
		logging.Int("targets", len(cfg.Evaluation.TargetDirs)),
		logging.String("measurement_id_pattern", cfg.Evaluation.MeasurementIDPattern),
		logging.Bool("ledger_enabled", cfg.Ledger.Enabled),
		logging.String("metrics_bind", cfg.Metrics.Bind),
		logging.String("socket", socketPath),
	)
}
