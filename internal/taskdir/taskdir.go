// Package taskdir holds the filesystem primitives shared by the pipeline
// stages: creating uniquely named task directories, committing them to the
// next location with a single rename, and diverting failed tasks together
// with an error report.
package taskdir

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/qbicsoftware/data-scanner/internal/fileutil"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
)

const (
	// InterventionsDirName is the per-stage folder for tasks an operator must inspect.
	InterventionsDirName = "interventions"
	// ErrorFileName is written into a diverted task directory.
	ErrorFileName = "error.txt"
)

// ErrDestinationExists is returned when a commit would overwrite an entry.
var ErrDestinationExists = errors.New("destination already exists")

// Dir is a task directory on disk.
type Dir struct {
	ID   string
	Path string
}

// Create makes a new task directory named by a random UUID under parent.
func Create(parent string) (Dir, error) {
	id := uuid.NewString()
	path := filepath.Join(parent, id)
	if err := os.Mkdir(path, 0o755); err != nil {
		return Dir{}, fmt.Errorf("create task directory: %w", err)
	}
	return Dir{ID: id, Path: path}, nil
}

// FromPath wraps an existing task directory.
func FromPath(path string) Dir {
	return Dir{ID: filepath.Base(path), Path: path}
}

// Commit moves src into destParent keeping its base name and returns the new
// path. The move is one rename; it never overwrites an existing entry.
func Commit(src, destParent string) (string, error) {
	dst := filepath.Join(destParent, filepath.Base(src))
	if err := Move(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// Move renames src to dst, refusing to replace an existing entry. Across
// filesystems it falls back to a verified copy that is renamed into place.
func Move(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("move %s: %w: %s", src, ErrDestinationExists, dst)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("inspect destination %s: %w", dst, err)
	}
	err := rename(src, dst)
	if errors.Is(err, syscall.EXDEV) {
		err = fileutil.MoveTree(src, dst)
	}
	if err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}

var rename = os.Rename

// Divert writes the error report into the task directory and moves it into
// destParent, creating destParent when needed.
func Divert(taskPath, destParent string, report Report) (string, error) {
	if err := WriteReport(taskPath, report); err != nil {
		return "", err
	}
	if err := os.MkdirAll(destParent, 0o755); err != nil {
		return "", fmt.Errorf("ensure %s: %w", destParent, err)
	}
	return Commit(taskPath, destParent)
}

// InterventionsDir returns the interventions folder of a stage working directory.
func InterventionsDir(workingDir string) string {
	return filepath.Join(workingDir, InterventionsDirName)
}

// IsHidden reports whether name is a dot entry.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// IsBookkeeping reports whether name is a sidecar the pipeline itself writes.
func IsBookkeeping(name string) bool {
	return name == provenance.FileName || name == ErrorFileName
}

// List returns the task directories inside workingDir, skipping hidden
// entries, plain files and the interventions folder. At most limit paths are
// returned when limit is positive.
func List(workingDir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(workingDir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || IsHidden(name) || name == InterventionsDirName {
			continue
		}
		paths = append(paths, filepath.Join(workingDir, name))
		if limit > 0 && len(paths) >= limit {
			break
		}
	}
	return paths, nil
}

// Payload lists the dataset entries of a task directory, leaving out hidden
// entries and the pipeline's own sidecars. Names are sorted.
func Payload(taskPath string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(taskPath)
	if err != nil {
		return nil, err
	}
	payload := make([]fs.DirEntry, 0, len(entries))
	for _, entry := range entries {
		if IsHidden(entry.Name()) || IsBookkeeping(entry.Name()) {
			continue
		}
		payload = append(payload, entry)
	}
	sort.Slice(payload, func(i, j int) bool { return payload[i].Name() < payload[j].Name() })
	return payload, nil
}

// IsEmpty reports whether dir has no entries at all.
func IsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// Exists reports whether path exists; other stat errors count as absent.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// DivertFirst writes the report into the task directory and moves it into the
// first destination that accepts it. The joined errors of every attempt are
// returned when none does.
func DivertFirst(taskPath string, report Report, destParents ...string) (string, error) {
	if err := WriteReport(taskPath, report); err != nil {
		return "", err
	}
	var errs []error
	for _, parent := range destParents {
		if parent == "" {
			continue
		}
		if err := os.MkdirAll(parent, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("ensure %s: %w", parent, err))
			continue
		}
		dst, err := Commit(taskPath, parent)
		if err == nil {
			return dst, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("divert %s: no destination", taskPath)
	}
	return "", errors.Join(errs...)
}
