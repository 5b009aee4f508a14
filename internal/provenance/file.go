package provenance

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrorCode classifies why a sidecar could not be read.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeUnknownContent   ErrorCode = "UNKNOWN_CONTENT"
	CodeIOError          ErrorCode = "IO_ERROR"
)

// Error is returned by Parse and Find.
type Error struct {
	Code ErrorCode
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case CodeNotFound:
		return fmt.Sprintf("provenance file does not exist: %s", e.Path)
	case CodePermissionDenied:
		return fmt.Sprintf("cannot read provenance file: %s", e.Path)
	case CodeUnknownContent:
		return fmt.Sprintf("cannot read provenance content %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("provenance io error %s: %v", e.Path, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf extracts the ErrorCode from err, or "" when err is not an *Error.
func CodeOf(err error) ErrorCode {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}

// Find returns the sidecar path inside dir.
func Find(dir string) (string, error) {
	path := filepath.Join(dir, FileName)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &Error{Code: CodeNotFound, Path: path, Err: err}
		}
		return "", &Error{Code: CodeIOError, Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return "", &Error{Code: CodeNotFound, Path: path, Err: fmt.Errorf("not a regular file")}
	}
	return path, nil
}

// Parse reads the sidecar at path.
func Parse(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return Record{}, &Error{Code: CodeNotFound, Path: path, Err: err}
		case errors.Is(err, fs.ErrPermission):
			return Record{}, &Error{Code: CodePermissionDenied, Path: path, Err: err}
		default:
			return Record{}, &Error{Code: CodeIOError, Path: path, Err: err}
		}
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, &Error{Code: CodeUnknownContent, Path: path, Err: err}
	}
	return record, nil
}

// Load finds and parses the sidecar inside dir.
func Load(dir string) (Record, error) {
	path, err := Find(dir)
	if err != nil {
		return Record{}, err
	}
	return Parse(path)
}

// Write stores record as dir/provenance.json. The content goes to a temporary
// file in the same directory first and is renamed into place, so readers see
// either the previous sidecar or the new one.
func Write(dir string, record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, "."+FileName+"-*"+TempSuffix)
	if err != nil {
		return fmt.Errorf("create provenance temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write provenance: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync provenance: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close provenance: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("chmod provenance: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, FileName)); err != nil {
		cleanup()
		return fmt.Errorf("commit provenance: %w", err)
	}
	return nil
}

// TempSuffix marks in-flight sidecar writes; the recovery sweep removes
// leftovers carrying it.
const TempSuffix = ".tmp"
