// Package stage defines the contract between a pipeline stage and the
// goroutine that drives it, plus the worker lifecycle shared by all pools.
package stage

import (
	"context"
)

// Stage names used in logs, metrics and the ledger.
const (
	Scanner      = "scanner"
	Registration = "registration"
	Processing   = "processing"
	Evaluation   = "evaluation"
)

// Handler describes the contract a worker needs from a stage.
//
// Next obtains the next unit of work. It may block until work is available
// and must return promptly with ctx.Err() once ctx is cancelled. ok is false
// when there is nothing to do right now; the worker then waits for its idle
// interval before asking again.
//
// Process acts on one unit of work. It receives a context that is not
// cancelled by shutdown, so a task is never abandoned halfway through a move.
type Handler[T any] interface {
	Next(ctx context.Context) (work T, ok bool, err error)
	Process(ctx context.Context, work T) error
}

// HealthChecker is implemented by stages that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}
