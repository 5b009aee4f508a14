package registration

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

// ErrorCode classifies a rejected dataset.
type ErrorCode string

const (
	CodeFileNotFound         ErrorCode = "FILE_NOT_FOUND"
	CodeMissingFileEntry     ErrorCode = "MISSING_FILE_ENTRY"
	CodeMetadataFileNotFound ErrorCode = "METADATA_FILE_NOT_FOUND"
	CodeIncompleteMetadata   ErrorCode = "INCOMPLETE_METADATA"
	CodeIOException          ErrorCode = "IO_EXCEPTION"
)

// Description explains the code to the submitting user.
func (c ErrorCode) Description() string {
	switch c {
	case CodeFileNotFound:
		return "The metadata file references a file that is not part of the dataset."
	case CodeMissingFileEntry:
		return "The dataset contains a file that is not described in the metadata file."
	case CodeMetadataFileNotFound:
		return "The dataset does not contain a metadata file."
	case CodeIncompleteMetadata:
		return "Every metadata line must contain a file name and a measurement id separated by a tab."
	case CodeIOException:
		return "The metadata file could not be read."
	default:
		return ""
	}
}

// ValidationError rejects a dataset in a way the submitting user can fix.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(code ErrorCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Entry is one line of the metadata sidecar.
type Entry struct {
	File          string
	MeasurementID string
}

// Group is the set of files registered under one measurement id.
type Group struct {
	MeasurementID string
	Files         []string
}

// FindMetadata returns the first regular, non-hidden file in datasetDir whose
// name ends with suffix.
func FindMetadata(datasetDir, suffix string) (string, error) {
	entries, err := os.ReadDir(datasetDir)
	if err != nil {
		return "", invalid(CodeIOException, "Cannot list dataset: %v", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if taskdir.IsHidden(name) || !strings.HasSuffix(name, suffix) || !entry.Type().IsRegular() {
			continue
		}
		return filepath.Join(datasetDir, name), nil
	}
	return "", invalid(CodeMetadataFileNotFound, "Metadata file does not exist")
}

// ParseMetadata reads tab separated "file<TAB>measurement id" lines. Blank
// lines are ignored and file names are NFC normalized.
func ParseMetadata(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, invalid(CodeIOException, "Cannot read metadata file")
	}
	return parseMetadata(data)
}

func parseMetadata(data []byte) ([]Entry, error) {
	var entries []Entry
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 2 {
			return nil, invalid(CodeIncompleteMetadata, "Cannot parse metadata entry in line %d", line)
		}
		file := norm.NFC.String(strings.TrimSpace(fields[0]))
		measurementID := strings.TrimSpace(fields[1])
		if file == "" || measurementID == "" {
			return nil, invalid(CodeIncompleteMetadata, "Cannot parse metadata entry in line %d", line)
		}
		if !validMeasurementID(measurementID) {
			return nil, invalid(CodeIncompleteMetadata, "Invalid measurement id in line %d: %s", line, measurementID)
		}
		if _, dup := seen[file]; dup {
			return nil, invalid(CodeIncompleteMetadata, "Duplicate metadata entry for file: %s", file)
		}
		seen[file] = struct{}{}
		entries = append(entries, Entry{File: file, MeasurementID: measurementID})
	}
	if err := scanner.Err(); err != nil {
		return nil, invalid(CodeIOException, "Cannot read metadata file")
	}
	if len(entries) == 0 {
		return nil, invalid(CodeIncompleteMetadata, "Metadata file contains no entries")
	}
	return entries, nil
}

// validMeasurementID rejects ids that cannot name a single visible directory
// entry.
func validMeasurementID(id string) bool {
	return !strings.HasPrefix(id, ".") && !strings.ContainsAny(id, "/\\")
}

// Validate checks the entries against the content of datasetDir. It returns
// the on-disk name for every normalized entry file name.
func Validate(datasetDir, metadataSuffix string, entries []Entry) (map[string]string, error) {
	dirEntries, err := os.ReadDir(datasetDir)
	if err != nil {
		return nil, invalid(CodeIOException, "Cannot list dataset: %v", err)
	}
	onDisk := make(map[string]string, len(dirEntries))
	var names []string
	for _, entry := range dirEntries {
		name := entry.Name()
		if taskdir.IsHidden(name) || strings.HasSuffix(name, metadataSuffix) {
			continue
		}
		key := norm.NFC.String(name)
		onDisk[key] = name
		names = append(names, key)
	}

	described := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if _, ok := onDisk[entry.File]; !ok {
			return nil, invalid(CodeFileNotFound, "Unknown file reference in metadata: %s", entry.File)
		}
		described[entry.File] = struct{}{}
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := described[name]; !ok {
			return nil, invalid(CodeMissingFileEntry, "Found more files than described in the metadata file: %s", name)
		}
	}
	return onDisk, nil
}

// GroupByMeasurement groups entries by measurement id in order of first
// appearance.
func GroupByMeasurement(entries []Entry) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, entry := range entries {
		i, ok := index[entry.MeasurementID]
		if !ok {
			i = len(groups)
			index[entry.MeasurementID] = i
			groups = append(groups, Group{MeasurementID: entry.MeasurementID})
		}
		groups[i].Files = append(groups[i].Files, entry.File)
	}
	return groups
}
