package preflight

import (
	"errors"
	"fmt"
	"strings"

	"github.com/qbicsoftware/data-scanner/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll checks every directory the pipeline reads from or writes to.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Scanner directory", cfg.Paths.ScannerDir),
		CheckDirectoryAccess("Registration working directory", cfg.Registration.WorkingDir),
		CheckDirectoryAccess("Registration target directory", cfg.Registration.TargetDir),
		CheckDirectoryAccess("Processing working directory", cfg.Processing.WorkingDir),
		CheckDirectoryAccess("Processing target directory", cfg.Processing.TargetDir),
		CheckDirectoryAccess("Evaluation working directory", cfg.Evaluation.WorkingDir),
	}
	for idx, dir := range cfg.Evaluation.TargetDirs {
		results = append(results, CheckDirectoryAccess(fmt.Sprintf("Evaluation target %d", idx+1), dir))
	}
	return dedupe(results)
}

// Err joins the details of every failed result, or returns nil.
func Err(results []Result) error {
	var failed []string
	for _, result := range results {
		if !result.Passed {
			failed = append(failed, result.Name+": "+result.Detail)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.New("directory checks failed: " + strings.Join(failed, "; "))
}

// The registration target usually doubles as the processing working
// directory; report each path once.
func dedupe(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := results[:0]
	for _, result := range results {
		if _, ok := seen[result.Path]; ok {
			continue
		}
		seen[result.Path] = struct{}{}
		out = append(out, result)
	}
	return out
}
