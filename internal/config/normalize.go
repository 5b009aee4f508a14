package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeScanner()
	c.normalizeStages()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv(envScannerDir); ok && strings.TrimSpace(value) != "" {
		c.Paths.ScannerDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(envLogLevel); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = strings.TrimSpace(value)
	}
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.scanner_dir", &c.Paths.ScannerDir},
		{"paths.log_dir", &c.Paths.LogDir},
		{"paths.state_dir", &c.Paths.StateDir},
		{"registration.working_dir", &c.Registration.WorkingDir},
		{"registration.target_dir", &c.Registration.TargetDir},
		{"processing.working_dir", &c.Processing.WorkingDir},
		{"processing.target_dir", &c.Processing.TargetDir},
		{"evaluation.working_dir", &c.Evaluation.WorkingDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}

	targets := make([]string, 0, len(c.Evaluation.TargetDirs))
	for idx, dir := range c.Evaluation.TargetDirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		expanded, err := expandPath(dir)
		if err != nil {
			return fmt.Errorf("evaluation.target_dirs[%d]: %w", idx, err)
		}
		if !slices.Contains(targets, expanded) {
			targets = append(targets, expanded)
		}
	}
	c.Evaluation.TargetDirs = targets
	return nil
}

func (c *Config) normalizeScanner() {
	c.Scanner.RegistrationDirName = strings.TrimSpace(c.Scanner.RegistrationDirName)
	if c.Scanner.RegistrationDirName == "" {
		c.Scanner.RegistrationDirName = defaultRegistrationDirName
	}
	ignore := make([]string, 0, len(c.Scanner.Ignore))
	for _, name := range c.Scanner.Ignore {
		name = strings.TrimSpace(name)
		if name != "" && !slices.Contains(ignore, name) {
			ignore = append(ignore, name)
		}
	}
	c.Scanner.Ignore = ignore
}

func (c *Config) normalizeStages() {
	c.Registration.MetadataFileName = strings.TrimSpace(c.Registration.MetadataFileName)
	c.Users.ErrorDirName = strings.TrimSpace(c.Users.ErrorDirName)
	c.Evaluation.MeasurementIDPattern = strings.TrimSpace(c.Evaluation.MeasurementIDPattern)
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	if c.Registration.QueueCapacity == 0 {
		c.Registration.QueueCapacity = defaultQueueCapacity
	}
	if c.Processing.BatchSize == 0 {
		c.Processing.BatchSize = defaultBatchSize
	}
	if c.Evaluation.BatchSize == 0 {
		c.Evaluation.BatchSize = defaultBatchSize
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
