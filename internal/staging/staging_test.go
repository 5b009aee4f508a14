package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/fileutil"
	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	mustMkdir(t, filepath.Dir(path))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestRecoverParksInterruptedRegistrations(t *testing.T) {
	registration := t.TempDir()
	task := filepath.Join(registration, "task-1")
	mustWrite(t, filepath.Join(task, "sampleA", "a.txt"), "a")

	result := Recover(context.Background(), RecoverOptions{RegistrationWorkingDir: registration}, logging.NewNop())
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	parked := filepath.Join(taskdir.InterventionsDir(registration), "task-1")
	if len(result.Parked) != 1 || result.Parked[0] != parked {
		t.Fatalf("unexpected parked list %v", result.Parked)
	}
	if got := readReason(parked); got != ReasonInterrupted {
		t.Fatalf("unexpected reason %q", got)
	}
	if taskdir.Exists(task) {
		t.Fatal("task should have left the working directory")
	}
}

func TestRecoverRepairsStageTasks(t *testing.T) {
	processing := t.TempDir()
	task := filepath.Join(processing, "task-2")
	mustWrite(t, filepath.Join(task, provenance.FileName), "{}")
	temp := filepath.Join(task, "."+provenance.FileName+"-123"+provenance.TempSuffix)
	mustWrite(t, temp, "{")
	layout := filepath.Join(task, LayoutPrefix+"42")
	mustWrite(t, filepath.Join(layout, "a.raw"), "a")
	mustWrite(t, filepath.Join(layout, "b.raw"), "b")

	result := Recover(context.Background(), RecoverOptions{StageWorkingDirs: []string{processing}}, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.RemovedTemp) != 1 || taskdir.Exists(temp) {
		t.Fatalf("temp sidecar not removed: %+v", result)
	}
	if len(result.RestoredLayouts) != 1 || taskdir.Exists(layout) {
		t.Fatalf("layout not restored: %+v", result)
	}
	for _, name := range []string{"a.raw", "b.raw", provenance.FileName} {
		if !taskdir.Exists(filepath.Join(task, name)) {
			t.Fatalf("expected %s back in task root", name)
		}
	}
	if len(result.Parked) != 0 || !taskdir.Exists(task) {
		t.Fatal("stage tasks must stay in place")
	}
}

func TestRecoverRemovesPartialCopies(t *testing.T) {
	evaluation := t.TempDir()
	target := t.TempDir()
	partialStage := filepath.Join(evaluation, fileutil.PartialPrefix+"1")
	partialTarget := filepath.Join(target, fileutil.PartialPrefix+"2")
	mustWrite(t, filepath.Join(partialStage, "a.raw"), "a")
	mustWrite(t, filepath.Join(partialTarget, "b.raw"), "b")
	delivered := filepath.Join(target, "task-3")
	mustMkdir(t, delivered)

	result := Recover(context.Background(), RecoverOptions{
		StageWorkingDirs: []string{evaluation},
		TargetDirs:       []string{target},
	}, nil)
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.RemovedPartial) != 2 || taskdir.Exists(partialStage) || taskdir.Exists(partialTarget) {
		t.Fatalf("partial copies not removed: %+v", result)
	}
	if !taskdir.Exists(delivered) {
		t.Fatal("delivered task must stay in place")
	}
}

func TestRecoverIgnoresMissingDirectories(t *testing.T) {
	result := Recover(context.Background(), RecoverOptions{
		RegistrationWorkingDir: "/nonexistent/path/12345",
		StageWorkingDirs:       []string{"", "   "},
	}, logging.NewNop())
	if len(result.Errors) != 0 || len(result.Parked) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestListTasksSortsAndReadsReason(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "older")
	newer := filepath.Join(dir, "newer")
	mustWrite(t, filepath.Join(older, "data.raw"), "12345")
	mustWrite(t, filepath.Join(newer, "data.raw"), "1")
	if err := taskdir.WriteReport(older, taskdir.Report{TaskID: "older", Reason: "No provenance file provided"}); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	mustMkdir(t, taskdir.InterventionsDir(dir))

	tasks, err := ListTasks(dir)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != "older" || tasks[1].ID != "newer" {
		t.Fatalf("unexpected order %+v", tasks)
	}
	if tasks[0].Reason != "No provenance file provided" || tasks[1].Reason != "" {
		t.Fatalf("unexpected reasons %+v", tasks)
	}
	if tasks[0].Size < 5 {
		t.Fatalf("expected size to include payload, got %d", tasks[0].Size)
	}

	missing, err := ListTasks(filepath.Join(dir, "nope"))
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing directory: %v %v", missing, err)
	}
}
