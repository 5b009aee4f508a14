package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/qbicsoftware/data-scanner/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every pipeline directory exists and the intervals are short enough for
// tests that run the workers.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ScannerDir = filepath.Join(base, "inbox")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Registration.WorkingDir = filepath.Join(base, "registration")
	cfgVal.Registration.TargetDir = filepath.Join(base, "processing")
	cfgVal.Processing.WorkingDir = filepath.Join(base, "processing")
	cfgVal.Processing.TargetDir = filepath.Join(base, "evaluation")
	cfgVal.Evaluation.WorkingDir = filepath.Join(base, "evaluation")
	cfgVal.Evaluation.TargetDirs = []string{filepath.Join(base, "targets", "a")}
	cfgVal.Scanner.IntervalMillis = 10
	cfgVal.Processing.PollIntervalMillis = 10
	cfgVal.Evaluation.PollIntervalMillis = 10
	cfgVal.Evaluation.MeasurementIDPattern = `MS[0-9]+`

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range builder.cfg.PipelineDirectories() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithTargets replaces the evaluation targets with n directories named
// targets/t1 ... targets/tn.
func WithTargets(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Evaluation.TargetDirs = nil
		for i := 1; i <= n; i++ {
			b.cfg.Evaluation.TargetDirs = append(b.cfg.Evaluation.TargetDirs,
				filepath.Join(b.baseDir, "targets", "t"+strconv.Itoa(i)))
		}
	}
}

// WithWorkers sets the pool size of every stage.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Registration.Workers = n
		b.cfg.Processing.Workers = n
		b.cfg.Evaluation.Workers = n
	}
}

// WithMeasurementPattern overrides the evaluation measurement id pattern.
func WithMeasurementPattern(pattern string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Evaluation.MeasurementIDPattern = pattern
	}
}

// WithIgnoredUsers sets the scanner ignore list.
func WithIgnoredUsers(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scanner.Ignore = names
	}
}
