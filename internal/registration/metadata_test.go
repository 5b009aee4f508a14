package registration

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/unicode/norm"
)

func TestParseMetadata(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []Entry
		code  ErrorCode
	}{
		{
			name:  "tab separated with blank lines and crlf",
			input: "a.raw\tMS001\r\n\r\nb.raw\tMS002\n",
			want:  []Entry{{File: "a.raw", MeasurementID: "MS001"}, {File: "b.raw", MeasurementID: "MS002"}},
		},
		{
			name:  "extra columns ignored",
			input: "a.raw\tMS001\tcomment\n",
			want:  []Entry{{File: "a.raw", MeasurementID: "MS001"}},
		},
		{name: "missing tab", input: "a.raw MS001\n", code: CodeIncompleteMetadata},
		{name: "empty measurement", input: "a.raw\t\n", code: CodeIncompleteMetadata},
		{name: "duplicate file", input: "a.raw\tMS001\na.raw\tMS002\n", code: CodeIncompleteMetadata},
		{name: "empty", input: "\n\n", code: CodeIncompleteMetadata},
		{name: "measurement id with parent reference", input: "a.raw\t../../escaped\n", code: CodeIncompleteMetadata},
		{name: "measurement id with separator", input: "a.raw\tMS/001\n", code: CodeIncompleteMetadata},
		{name: "hidden measurement id", input: "a.raw\t.MS001\n", code: CodeIncompleteMetadata},
		{name: "dot measurement id", input: "a.raw\t..\n", code: CodeIncompleteMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseMetadata([]byte(tt.input))
			if tt.code != "" {
				var verr *ValidationError
				if !errors.As(err, &verr) || verr.Code != tt.code {
					t.Fatalf("expected %s, got %v", tt.code, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseMetadata: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("entry %d: got %+v want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidateMatchesNormalizedNames(t *testing.T) {
	dir := t.TempDir()
	decomposed := norm.NFD.String("probe_é.raw")
	if err := os.WriteFile(filepath.Join(dir, decomposed), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries := []Entry{{File: norm.NFC.String("probe_é.raw"), MeasurementID: "MS001"}}
	onDisk, err := Validate(dir, "metadata.txt", entries)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := onDisk[entries[0].File]; got == "" {
		t.Fatalf("expected on-disk name for %q, got map %v", entries[0].File, onDisk)
	}
}

func TestGroupByMeasurementKeepsFirstAppearanceOrder(t *testing.T) {
	groups := GroupByMeasurement([]Entry{
		{File: "a", MeasurementID: "MS2"},
		{File: "b", MeasurementID: "MS1"},
		{File: "c", MeasurementID: "MS2"},
	})
	if len(groups) != 2 || groups[0].MeasurementID != "MS2" || groups[1].MeasurementID != "MS1" {
		t.Fatalf("unexpected groups %+v", groups)
	}
	if len(groups[0].Files) != 2 || groups[0].Files[1] != "c" {
		t.Fatalf("unexpected files %+v", groups[0].Files)
	}
}

func TestFindMetadataSkipsHiddenAndDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "._metadata.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "old_metadata.txt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := FindMetadata(dir, "metadata.txt"); err == nil {
		t.Fatal("expected METADATA_FILE_NOT_FOUND")
	}
	if err := os.WriteFile(filepath.Join(dir, "run_metadata.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	path, err := FindMetadata(dir, "metadata.txt")
	if err != nil || filepath.Base(path) != "run_metadata.txt" {
		t.Fatalf("FindMetadata = %q, %v", path, err)
	}
}
