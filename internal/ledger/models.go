package ledger

import (
	"context"
	"errors"
	"time"
)

// Outcome is the terminal result of one stage acting on a task directory.
type Outcome string

const (
	// OutcomeForwarded means the task was committed to the next stage.
	OutcomeForwarded Outcome = "forwarded"
	// OutcomeDelivered means the task reached a final target directory.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeUserError means the task was returned to the owning user.
	OutcomeUserError Outcome = "user_error"
	// OutcomeIntervention means the task was parked for an operator.
	OutcomeIntervention Outcome = "intervention"
	// OutcomeDiscarded means an empty task directory was removed.
	OutcomeDiscarded Outcome = "discarded"
)

// Outcomes lists every outcome in display order.
var Outcomes = []Outcome{
	OutcomeForwarded,
	OutcomeDelivered,
	OutcomeUserError,
	OutcomeIntervention,
	OutcomeDiscarded,
}

// Event is one journaled transition.
type Event struct {
	ID            int64     `json:"id"`
	TaskID        string    `json:"task_id"`
	Stage         string    `json:"stage"`
	Outcome       Outcome   `json:"outcome"`
	Source        string    `json:"source,omitempty"`
	Destination   string    `json:"destination,omitempty"`
	MeasurementID string    `json:"measurement_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recorder receives transition events from the stage workers.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }

type multiRecorder []Recorder

// Multi fans events out to every non-nil recorder and joins their errors.
func Multi(recorders ...Recorder) Recorder {
	filtered := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return Nop{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return filtered
}

func (m multiRecorder) Record(ctx context.Context, event Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StageStats counts outcomes for one stage.
type StageStats struct {
	Stage    string          `json:"stage"`
	Outcomes map[Outcome]int `json:"outcomes"`
}

// Total sums every outcome.
func (s StageStats) Total() int {
	total := 0
	for _, count := range s.Outcomes {
		total += count
	}
	return total
}

// Filter narrows Recent queries.
type Filter struct {
	Stage   string
	Outcome Outcome
	TaskID  string
	Limit   int
}
