package workflow

import (
	"log/slog"

	"github.com/qbicsoftware/data-scanner/internal/config"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/preflight"
)

// CheckDirectories runs the directory preflight checks and logs each
// result. It returns an error describing every failure.
func CheckDirectories(cfg *config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewNop()
	}
	results := preflight.RunAll(cfg)
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight check passed",
				logging.String("check", r.Name),
				logging.String(logging.FieldPath, r.Path),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
			continue
		}
		logger.Error("preflight check failed",
			logging.String("check", r.Name),
			logging.String(logging.FieldPath, r.Path),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldEventType, "preflight_failed"),
			logging.String(logging.FieldErrorHint, "create the directory or fix its permissions and restart the daemon"),
		)
	}
	return preflight.Err(results)
}
