package testsupport

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/qbicsoftware/data-scanner/internal/provenance"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Mkdir creates the directory joined from parts and returns its path.
func Mkdir(t testing.TB, parts ...string) string {
	t.Helper()

	dir := filepath.Join(parts...)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	return dir
}

// MetadataLine pairs a file name with its measurement id.
type MetadataLine struct {
	File          string
	MeasurementID string
}

// WriteDataset creates parent/name containing one small file per metadata
// line plus a metadata sidecar called metadataName. Extra files listed in
// unlisted are written without a metadata entry.
func WriteDataset(t testing.TB, parent, name, metadataName string, lines []MetadataLine, unlisted ...string) string {
	t.Helper()

	dir := Mkdir(t, parent, name)
	var meta strings.Builder
	for _, line := range lines {
		WriteFile(t, filepath.Join(dir, line.File), "data:"+line.File)
		meta.WriteString(line.File)
		meta.WriteByte('\t')
		meta.WriteString(line.MeasurementID)
		meta.WriteByte('\n')
	}
	for _, file := range unlisted {
		WriteFile(t, filepath.Join(dir, file), "data:"+file)
	}
	WriteFile(t, filepath.Join(dir, metadataName), meta.String())
	return dir
}

// Names lists the entry names of dir, sorted. A missing directory yields nil.
func Names(t testing.TB, dir string) []string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

// WriteTask creates a task directory named by a fresh UUID inside parent with
// the given payload entries and, when record is non-nil, a provenance sidecar.
// Entries ending in "/" are created as directories holding one file.
func WriteTask(t testing.TB, parent string, record *provenance.Record, entries ...string) string {
	t.Helper()

	dir := Mkdir(t, parent, uuid.NewString())
	for _, entry := range entries {
		if strings.HasSuffix(entry, "/") {
			WriteFile(t, filepath.Join(dir, entry, "content.raw"), "data")
			continue
		}
		WriteFile(t, filepath.Join(dir, entry), "data:"+entry)
	}
	if record != nil {
		if err := provenance.Write(dir, *record); err != nil {
			t.Fatalf("write provenance: %v", err)
		}
	}
	return dir
}
