package ipc

import (
	"time"

	"github.com/qbicsoftware/data-scanner/internal/daemon"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/stage"
)

// serviceName prefixes every RPC method.
const serviceName = "DataScanner"

// StopRequest asks the daemon to finish in-flight work and exit.
type StopRequest struct{}

// StopResponse indicates whether shutdown was initiated.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StageHealth describes readiness of a pipeline stage.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
	Claims int    `json:"claims"`
}

// StatusResponse represents combined daemon and workflow status.
type StatusResponse struct {
	Running            bool           `json:"running"`
	PID                int            `json:"pid"`
	StartedAt          time.Time      `json:"started_at"`
	LastError          string         `json:"last_error,omitempty"`
	LockPath           string         `json:"lock_path"`
	LedgerPath         string         `json:"ledger_path,omitempty"`
	MetricsListen      string         `json:"metrics_listen,omitempty"`
	QueueDepth         int            `json:"queue_depth"`
	QueueCapacity      int            `json:"queue_capacity"`
	TrackedDirectories []string       `json:"tracked_directories"`
	StageHealth        []StageHealth  `json:"stage_health"`
	Workers            []stage.Status `json:"workers"`
}

// EventsRequest filters the ledger listing.
type EventsRequest struct {
	Stage   string `json:"stage"`
	Outcome string `json:"outcome"`
	TaskID  string `json:"task_id"`
	Limit   int    `json:"limit"`
}

// EventsResponse contains journaled transitions, newest first.
type EventsResponse struct {
	Events []ledger.Event `json:"events"`
}

// StatsRequest fetches per-stage outcome counts.
type StatsRequest struct{}

// StatsResponse contains outcome counts per stage.
type StatsResponse struct {
	Stages []ledger.StageStats `json:"stages"`
}

// InterventionsRequest lists parked tasks.
type InterventionsRequest struct{}

// InterventionsResponse groups parked tasks by stage.
type InterventionsResponse struct {
	Stages []daemon.StageInterventions `json:"stages"`
}
