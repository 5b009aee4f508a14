package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/claims"
	"github.com/qbicsoftware/data-scanner/internal/config"
	"github.com/qbicsoftware/data-scanner/internal/evaluation"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/metrics"
	"github.com/qbicsoftware/data-scanner/internal/processing"
	"github.com/qbicsoftware/data-scanner/internal/queue"
	"github.com/qbicsoftware/data-scanner/internal/registration"
	"github.com/qbicsoftware/data-scanner/internal/scanner"
	"github.com/qbicsoftware/data-scanner/internal/stage"
)

// pool is the set of workers of one stage.
type pool struct {
	name    string
	workers []stage.Runner
	health  stage.HealthChecker
	claims  *claims.Registry
}

// Manager coordinates the scanner and the stage worker pools.
type Manager struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue   *queue.Bounded
	scanner *scanner.Scanner
	pools   []*pool

	mu        sync.RWMutex
	running   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
	lastErr   error
	startedAt time.Time
}

// NewManager builds every stage from cfg. recorder receives each task
// transition; m may be nil when metrics are disabled.
func NewManager(cfg *config.Config, recorder ledger.Recorder, m *metrics.Metrics, logger *slog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workflow requires a configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if recorder == nil {
		recorder = ledger.Nop{}
	}
	if m != nil {
		recorder = ledger.Multi(recorder, m)
	}
	logger = logging.NewComponentLogger(logger, "workflow")

	q := queue.New(cfg.Registration.QueueCapacity)
	var observer scanner.Observer
	if m != nil {
		observer = m
	}
	scan, err := scanner.New(scanner.Options{
		Root:                cfg.Paths.ScannerDir,
		Interval:            cfg.ScanInterval(),
		Ignore:              cfg.Scanner.Ignore,
		RegistrationDirName: cfg.Scanner.RegistrationDirName,
	}, q, observer, logger)
	if err != nil {
		return nil, err
	}

	regHandler, err := registration.New(registration.Options{
		WorkingDir:       cfg.Registration.WorkingDir,
		TargetDir:        cfg.Registration.TargetDir,
		MetadataFileName: cfg.Registration.MetadataFileName,
		UserErrorDirName: cfg.Users.ErrorDirName,
	}, q, recorder, logger)
	if err != nil {
		return nil, err
	}

	procClaims := claims.NewRegistry(stage.Processing)
	procHandler, err := processing.New(processing.Options{
		WorkingDir: cfg.Processing.WorkingDir,
		TargetDir:  cfg.Processing.TargetDir,
		BatchSize:  cfg.Processing.BatchSize,
	}, procClaims, recorder, logger)
	if err != nil {
		return nil, err
	}

	pattern := cfg.MeasurementIDPattern()
	if pattern == nil {
		return nil, fmt.Errorf("evaluation.measurement_id_pattern does not compile")
	}
	evalClaims := claims.NewRegistry(stage.Evaluation)
	evalHandler, err := evaluation.New(evaluation.Options{
		WorkingDir:       cfg.Evaluation.WorkingDir,
		TargetDirs:       cfg.Evaluation.TargetDirs,
		Pattern:          pattern,
		UserErrorDirName: cfg.Users.ErrorDirName,
		BatchSize:        cfg.Evaluation.BatchSize,
	}, evalClaims, recorder, logger)
	if err != nil {
		return nil, err
	}

	regPool := &pool{name: stage.Registration, health: regHandler}
	for i := 1; i <= cfg.Registration.Workers; i++ {
		regPool.workers = append(regPool.workers,
			stage.NewWorker[queue.Request](stage.Registration, i, regHandler, 0, logger))
	}
	procPool := &pool{name: stage.Processing, health: procHandler, claims: procClaims}
	for i := 1; i <= cfg.Processing.Workers; i++ {
		procPool.workers = append(procPool.workers,
			stage.NewWorker[string](stage.Processing, i, procHandler, cfg.ProcessingPollInterval(), logger))
	}
	evalPool := &pool{name: stage.Evaluation, health: evalHandler, claims: evalClaims}
	for i := 1; i <= cfg.Evaluation.Workers; i++ {
		evalPool.workers = append(evalPool.workers,
			stage.NewWorker[string](stage.Evaluation, i, evalHandler, cfg.EvaluationPollInterval(), logger))
	}

	return &Manager{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   q,
		scanner: scan,
		pools:   []*pool{regPool, procPool, evalPool},
	}, nil
}
