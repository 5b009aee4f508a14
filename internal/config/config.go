package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the scan root and daemon bookkeeping directories.
type Paths struct {
	ScannerDir string `toml:"scanner_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// Scanner controls how user inboxes are discovered and polled.
type Scanner struct {
	IntervalMillis      int      `toml:"interval_ms"`
	Ignore              []string `toml:"ignore"`
	RegistrationDirName string   `toml:"registration_dir_name"`
}

// Registration configures the stage that validates and splits incoming datasets.
type Registration struct {
	Workers          int    `toml:"workers"`
	WorkingDir       string `toml:"working_dir"`
	TargetDir        string `toml:"target_dir"`
	MetadataFileName string `toml:"metadata_file_name"`
	QueueCapacity    int    `toml:"queue_capacity"`
}

// Processing configures the stage that normalizes task directory layout.
type Processing struct {
	Workers            int    `toml:"workers"`
	WorkingDir         string `toml:"working_dir"`
	TargetDir          string `toml:"target_dir"`
	PollIntervalMillis int    `toml:"poll_interval_ms"`
	BatchSize          int    `toml:"batch_size"`
}

// Evaluation configures the stage that checks measurement ids and fans out to
// the final targets.
type Evaluation struct {
	Workers              int      `toml:"workers"`
	WorkingDir           string   `toml:"working_dir"`
	TargetDirs           []string `toml:"target_dirs"`
	MeasurementIDPattern string   `toml:"measurement_id_pattern"`
	PollIntervalMillis   int      `toml:"poll_interval_ms"`
	BatchSize            int      `toml:"batch_size"`
}

// Users names the folders created inside each user's root.
type Users struct {
	ErrorDirName string `toml:"error_dir_name"`
}

// Metrics controls the Prometheus endpoint. An empty bind disables it.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Ledger controls the transition journal.
type Ledger struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Notifications configures ntfy alerts for tasks that need an operator.
// An empty topic disables them.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	UserErrors            bool   `toml:"user_errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the data scanner.
//
// Configuration sections by subsystem:
//   - Paths: scan root, log and state directories
//   - Scanner: polling interval and ignored user folders
//   - Registration, Processing, Evaluation: per-stage pools and directories
//   - Users: names of per-user folders
//   - Metrics: Prometheus listener
//   - Ledger: SQLite transition journal
//   - Notifications: ntfy alerts for parked tasks
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Scanner       Scanner       `toml:"scanner"`
	Registration  Registration  `toml:"registration"`
	Processing    Processing    `toml:"processing"`
	Evaluation    Evaluation    `toml:"evaluation"`
	Users         Users         `toml:"users"`
	Metrics       Metrics       `toml:"metrics"`
	Ledger        Ledger        `toml:"ledger"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`

	measurementID *regexp.Regexp
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(filepath.Join(xdg.ConfigHome, appName, "config.toml"))
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file).DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(appName + ".toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the log and state directories. Pipeline
// directories are never created here; they must be provisioned by the
// operator (or `datascanner init-dirs`) and are checked by the preflight
// package.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// PipelineDirectories lists every directory the pipeline moves tasks
// through, without duplicates, in stage order.
func (c *Config) PipelineDirectories() []string {
	dirs := []string{
		c.Paths.ScannerDir,
		c.Registration.WorkingDir,
		c.Registration.TargetDir,
		c.Processing.WorkingDir,
		c.Processing.TargetDir,
		c.Evaluation.WorkingDir,
	}
	dirs = append(dirs, c.Evaluation.TargetDirs...)
	seen := make(map[string]struct{}, len(dirs))
	out := dirs[:0]
	for _, dir := range dirs {
		if _, ok := seen[dir]; ok || dir == "" {
			continue
		}
		seen[dir] = struct{}{}
		out = append(out, dir)
	}
	return out
}

// ScanInterval returns the scanner polling interval.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.IntervalMillis) * time.Millisecond
}

// ProcessingPollInterval returns the processing workers' idle wait.
func (c *Config) ProcessingPollInterval() time.Duration {
	return time.Duration(c.Processing.PollIntervalMillis) * time.Millisecond
}

// EvaluationPollInterval returns the evaluation workers' idle wait.
func (c *Config) EvaluationPollInterval() time.Duration {
	return time.Duration(c.Evaluation.PollIntervalMillis) * time.Millisecond
}

// MeasurementIDPattern returns the compiled measurement id expression, or nil
// when the configured pattern does not compile.
func (c *Config) MeasurementIDPattern() *regexp.Regexp {
	if c.measurementID != nil {
		return c.measurementID
	}
	re, err := regexp.Compile(c.Evaluation.MeasurementIDPattern)
	if err != nil {
		return nil
	}
	return re
}

// LockPath is the single-instance lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Paths.StateDir, appName+".lock") }

// PIDPath holds the running daemon's process id.
func (c *Config) PIDPath() string { return filepath.Join(c.Paths.StateDir, appName+".pid") }

// SocketPath is the daemon's control socket.
func (c *Config) SocketPath() string { return filepath.Join(c.Paths.StateDir, appName+".sock") }

// LedgerPath is the SQLite transition journal.
func (c *Config) LedgerPath() string { return filepath.Join(c.Paths.StateDir, "ledger.db") }

// LogPath is the daemon log file.
func (c *Config) LogPath() string { return filepath.Join(c.Paths.LogDir, appName+".log") }

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
