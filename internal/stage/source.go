package stage

import (
	"context"
	"fmt"

	"github.com/qbicsoftware/data-scanner/internal/claims"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

// TaskSource hands out the task directories of one working directory to the
// workers of a stage. A path is returned only after it has been claimed in
// the stage's registry; the caller releases it once the task has reached a
// terminal location.
type TaskSource struct {
	Dir    string
	Claims *claims.Registry
	// BatchSize bounds how many unclaimed candidates one call examines.
	BatchSize int
}

// Next claims the next unclaimed task directory. ok is false when every task
// is already held by another worker or the directory is empty.
func (s TaskSource) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	paths, err := taskdir.List(s.Dir, 0)
	if err != nil {
		return "", false, fmt.Errorf("list %s: %w", s.Dir, err)
	}
	examined := 0
	for _, path := range paths {
		if s.BatchSize > 0 && examined >= s.BatchSize {
			break
		}
		if s.Claims.Held(path) {
			continue
		}
		examined++
		if !s.Claims.TryClaim(path) {
			continue
		}
		// Another worker may have finished the task after it was listed.
		if !taskdir.Exists(path) {
			s.Claims.Release(path)
			continue
		}
		return path, true, nil
	}
	return "", false, nil
}
