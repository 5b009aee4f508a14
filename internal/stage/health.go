package stage

import (
	"github.com/qbicsoftware/data-scanner/internal/preflight"
)

// Health summarizes the readiness of a pipeline stage.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// DirectoriesHealth reports name as healthy when every directory exists and
// accepts new entries.
func DirectoriesHealth(name string, dirs ...string) Health {
	for _, dir := range dirs {
		if err := preflight.EvaluateExistenceAndDirectory(dir); err != nil {
			return Unhealthy(name, err.Error())
		}
		if err := preflight.EvaluateWriteAndExecutablePermission(dir); err != nil {
			return Unhealthy(name, err.Error())
		}
	}
	return Healthy(name)
}
