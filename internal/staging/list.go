package staging

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

// TaskInfo describes one task directory.
type TaskInfo struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
	Reason  string    `json:"reason,omitempty"`
}

// ListTasks returns the task directories in dir, oldest first, with their
// size and the reason recorded in error.txt if one exists. A missing
// directory yields an empty list.
func ListTasks(dir string) ([]TaskInfo, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	paths, err := taskdir.List(dir, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	tasks := make([]TaskInfo, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		size, _ := dirSize(path)
		tasks = append(tasks, TaskInfo{
			ID:      filepath.Base(path),
			Path:    path,
			ModTime: info.ModTime(),
			Size:    size,
			Reason:  readReason(path),
		})
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ModTime.Before(tasks[j].ModTime) })
	return tasks, nil
}

// readReason extracts the "Reason:" line of a task's error report.
func readReason(task string) string {
	f, err := os.Open(filepath.Join(task, taskdir.ErrorFileName))
	if err != nil {
		return ""
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if reason, ok := strings.CutPrefix(scanner.Text(), "Reason: "); ok {
			return reason
		}
	}
	return ""
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Ignore errors, best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
