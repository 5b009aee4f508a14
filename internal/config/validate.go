package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.scanner_dir":        c.Paths.ScannerDir,
		"paths.log_dir":            c.Paths.LogDir,
		"paths.state_dir":          c.Paths.StateDir,
		"registration.working_dir": c.Registration.WorkingDir,
		"registration.target_dir":  c.Registration.TargetDir,
		"processing.working_dir":   c.Processing.WorkingDir,
		"processing.target_dir":    c.Processing.TargetDir,
		"evaluation.working_dir":   c.Evaluation.WorkingDir,
	}
	keys := make([]string, 0, len(required))
	for key := range required {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(required[key]) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if len(c.Evaluation.TargetDirs) == 0 {
		return errors.New("evaluation.target_dirs must contain at least one directory")
	}

	stageDirs := map[string]string{
		"registration.working_dir": c.Registration.WorkingDir,
		"processing.working_dir":   c.Processing.WorkingDir,
		"evaluation.working_dir":   c.Evaluation.WorkingDir,
	}
	for key, dir := range stageDirs {
		if filepath.Clean(dir) == filepath.Clean(c.Paths.ScannerDir) {
			return fmt.Errorf("%s must differ from paths.scanner_dir", key)
		}
	}
	if c.Registration.WorkingDir == c.Processing.WorkingDir || c.Processing.WorkingDir == c.Evaluation.WorkingDir ||
		c.Registration.WorkingDir == c.Evaluation.WorkingDir {
		return errors.New("stage working directories must be distinct")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	return ensurePositiveMap(map[string]int{
		"scanner.interval_ms":         c.Scanner.IntervalMillis,
		"registration.workers":        c.Registration.Workers,
		"registration.queue_capacity": c.Registration.QueueCapacity,
		"processing.workers":          c.Processing.Workers,
		"processing.poll_interval_ms": c.Processing.PollIntervalMillis,
		"processing.batch_size":       c.Processing.BatchSize,
		"evaluation.workers":          c.Evaluation.Workers,
		"evaluation.poll_interval_ms": c.Evaluation.PollIntervalMillis,
		"evaluation.batch_size":       c.Evaluation.BatchSize,
	})
}

func (c *Config) validateStages() error {
	if c.Registration.MetadataFileName == "" {
		return errors.New("registration.metadata_file_name must be set")
	}
	if strings.ContainsRune(c.Registration.MetadataFileName, filepath.Separator) {
		return errors.New("registration.metadata_file_name must be a file name, not a path")
	}
	if c.Users.ErrorDirName == "" {
		return errors.New("users.error_dir_name must be set")
	}
	if c.Users.ErrorDirName == c.Scanner.RegistrationDirName {
		return errors.New("users.error_dir_name must differ from scanner.registration_dir_name")
	}
	if c.Evaluation.MeasurementIDPattern == "" {
		return errors.New("evaluation.measurement_id_pattern must be set")
	}
	re, err := regexp.Compile(c.Evaluation.MeasurementIDPattern)
	if err != nil {
		return fmt.Errorf("evaluation.measurement_id_pattern: %w", err)
	}
	c.measurementID = re
	if c.Ledger.RetentionDays < 0 {
		return errors.New("ledger.retention_days must not be negative")
	}
	if c.Notifications.RequestTimeoutSeconds < 0 {
		return errors.New("notifications.request_timeout_seconds must not be negative")
	}
	if topic := strings.TrimSpace(c.Notifications.NtfyTopic); topic != "" &&
		!strings.HasPrefix(topic, "http://") && !strings.HasPrefix(topic, "https://") {
		return errors.New("notifications.ntfy_topic must be a full http(s) URL")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
