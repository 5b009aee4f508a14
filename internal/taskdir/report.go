package taskdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Report is the content of error.txt.
type Report struct {
	TaskID      string
	Dataset     string
	Reason      string
	Description string
	Context     map[string]string
}

// String renders the report as "Key: value" lines.
func (r Report) String() string {
	var b strings.Builder
	writeLine := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}
	writeLine("Task ID", r.TaskID)
	writeLine("Affected Dataset", r.Dataset)
	writeLine("Reason", r.Reason)
	writeLine("Description", r.Description)
	keys := make([]string, 0, len(r.Context))
	for key := range r.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		writeLine(key, r.Context[key])
	}
	return b.String()
}

// WriteReport stores r as error.txt inside dir, replacing an earlier report.
func WriteReport(dir string, r Report) error {
	path := filepath.Join(dir, ErrorFileName)
	if err := os.WriteFile(path, []byte(r.String()), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ErrorFileName, err)
	}
	return nil
}
