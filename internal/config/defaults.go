package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const appName = "datascanner"

const (
	defaultScanIntervalMillis   = 1000
	defaultRegistrationDirName  = "registration"
	defaultRegistrationWorkers  = 2
	defaultMetadataFileName     = "metadata.txt"
	defaultQueueCapacity        = 10
	defaultProcessingWorkers    = 2
	defaultProcessingPollMillis = 1000
	defaultEvaluationWorkers    = 2
	defaultEvaluationPollMillis = 100
	defaultBatchSize            = 50
	defaultUserErrorDirName     = "error"
	defaultMeasurementIDPattern = `(MS|NGS)Q[A-Z0-9]{4}[0-9]{3}[A-Z0-9]{2}-[0-9]+`
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLedgerEnabled        = true
	defaultLedgerRetentionDays  = 90
	defaultMetricsBind          = ""
	defaultNtfyTimeoutSeconds   = 10
	envScannerDir               = "DATASCANNER_SCANNER_DIR"
	envLogLevel                 = "DATASCANNER_LOG_LEVEL"
)

func dataDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

func stateDir() string {
	return filepath.Join(xdg.StateHome, appName)
}

// Default returns a Config populated with repository defaults. Every stage
// directory lives under the XDG data home so a fresh install can run after
// creating them with `datascanner init-dirs`.
func Default() Config {
	data := dataDir()
	state := stateDir()
	return Config{
		Paths: Paths{
			ScannerDir: filepath.Join(data, "inbox"),
			LogDir:     filepath.Join(state, "logs"),
			StateDir:   state,
		},
		Scanner: Scanner{
			IntervalMillis:      defaultScanIntervalMillis,
			RegistrationDirName: defaultRegistrationDirName,
		},
		Registration: Registration{
			Workers:          defaultRegistrationWorkers,
			WorkingDir:       filepath.Join(data, "registration"),
			TargetDir:        filepath.Join(data, "processing"),
			MetadataFileName: defaultMetadataFileName,
			QueueCapacity:    defaultQueueCapacity,
		},
		Processing: Processing{
			Workers:            defaultProcessingWorkers,
			WorkingDir:         filepath.Join(data, "processing"),
			TargetDir:          filepath.Join(data, "evaluation"),
			PollIntervalMillis: defaultProcessingPollMillis,
			BatchSize:          defaultBatchSize,
		},
		Evaluation: Evaluation{
			Workers:              defaultEvaluationWorkers,
			WorkingDir:           filepath.Join(data, "evaluation"),
			TargetDirs:           []string{filepath.Join(data, "targets", "default")},
			MeasurementIDPattern: defaultMeasurementIDPattern,
			PollIntervalMillis:   defaultEvaluationPollMillis,
			BatchSize:            defaultBatchSize,
		},
		Users: Users{
			ErrorDirName: defaultUserErrorDirName,
		},
		Metrics: Metrics{
			Bind: defaultMetricsBind,
		},
		Ledger: Ledger{
			Enabled:       defaultLedgerEnabled,
			RetentionDays: defaultLedgerRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyTimeoutSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
