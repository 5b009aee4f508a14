package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

var (
	// ErrNotExist is returned when a checked path is missing.
	ErrNotExist = errors.New("does not exist")
	// ErrNotDirectory is returned when a checked path is not a directory.
	ErrNotDirectory = errors.New("is not a directory")
	// ErrPermission is returned when the process lacks the required access.
	ErrPermission = errors.New("insufficient permissions")
)

// EvaluateExistenceAndDirectory fails unless path exists and is a directory.
func EvaluateExistenceAndDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotExist)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", path, ErrNotDirectory)
	}
	return nil
}

// EvaluateWriteAndExecutablePermission fails unless the process may create
// entries in path and traverse it.
func EvaluateWriteAndExecutablePermission(path string) error {
	if err := unix.Access(path, unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("%s: %w: %v", path, ErrPermission, err)
	}
	return nil
}

// CanWriteAndExecute is the boolean form used by the scanner's filters.
func CanWriteAndExecute(path string) bool {
	return unix.Access(path, unix.W_OK|unix.X_OK) == nil
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if err := EvaluateExistenceAndDirectory(path); err != nil {
		switch {
		case errors.Is(err, ErrNotExist):
			return Result{Name: name, Path: path, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		case errors.Is(err, ErrNotDirectory):
			return Result{Name: name, Path: path, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
		default:
			return Result{Name: name, Path: path, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
		}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Path: path, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Path: path, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}
