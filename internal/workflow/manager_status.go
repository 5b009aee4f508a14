package workflow

import (
	"context"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running            bool                    `json:"running"`
	StartedAt          time.Time               `json:"started_at"`
	LastError          string                  `json:"last_error,omitempty"`
	QueueDepth         int                     `json:"queue_depth"`
	QueueCapacity      int                     `json:"queue_capacity"`
	TrackedDirectories []string                `json:"tracked_directories"`
	Claims             map[string]int          `json:"claims"`
	Workers            []stage.Status          `json:"workers"`
	StageHealth        map[string]stage.Health `json:"stage_health"`
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		StartedAt: m.startedAt,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	summary.QueueDepth = m.queue.Len()
	summary.QueueCapacity = m.queue.Cap()
	summary.TrackedDirectories = m.scanner.Tracked()
	summary.Claims = make(map[string]int, len(m.pools))
	summary.StageHealth = make(map[string]stage.Health, len(m.pools))
	for _, p := range m.pools {
		if p.claims != nil {
			summary.Claims[p.name] = p.claims.Len()
		}
		for _, w := range p.workers {
			summary.Workers = append(summary.Workers, w.Status())
		}
		if p.health != nil {
			summary.StageHealth[p.name] = p.health.HealthCheck(ctx)
		}
	}
	return summary
}
