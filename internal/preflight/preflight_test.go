package preflight

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qbicsoftware/data-scanner/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestEvaluateExistenceAndDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := EvaluateExistenceAndDirectory(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := EvaluateExistenceAndDirectory(filepath.Join(dir, "missing")); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EvaluateExistenceAndDirectory(file); !errors.Is(err, ErrNotDirectory) {
		t.Fatalf("expected ErrNotDirectory, got %v", err)
	}
}

func TestEvaluateWriteAndExecutablePermission(t *testing.T) {
	dir := t.TempDir()
	if err := EvaluateWriteAndExecutablePermission(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !CanWriteAndExecute(dir) {
		t.Fatal("expected temp dir to be writable")
	}
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission bits")
	}
	locked := filepath.Join(dir, "locked")
	if err := os.Mkdir(locked, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })
	if err := EvaluateWriteAndExecutablePermission(locked); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected ErrPermission, got %v", err)
	}
}

func TestRunAllReportsMissingTarget(t *testing.T) {
	root := t.TempDir()
	mk := func(name string) string {
		p := filepath.Join(root, name)
		if err := os.MkdirAll(p, 0o755); err != nil {
			t.Fatal(err)
		}
		return p
	}
	cfg := config.Default()
	cfg.Paths.ScannerDir = mk("scan")
	cfg.Registration.WorkingDir = mk("reg")
	cfg.Registration.TargetDir = mk("proc")
	cfg.Processing.WorkingDir = cfg.Registration.TargetDir
	cfg.Processing.TargetDir = mk("eval")
	cfg.Evaluation.WorkingDir = cfg.Processing.TargetDir
	cfg.Evaluation.TargetDirs = []string{mk("t1"), filepath.Join(root, "t2")}

	results := RunAll(&cfg)
	if len(results) != 6 {
		t.Fatalf("expected shared directories to be reported once, got %d results", len(results))
	}
	err := Err(results)
	if err == nil || !strings.Contains(err.Error(), "Evaluation target 2") {
		t.Fatalf("expected failure naming the missing target, got %v", err)
	}

	if err := os.Mkdir(filepath.Join(root, "t2"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Err(RunAll(&cfg)); err != nil {
		t.Fatalf("expected all checks to pass: %v", err)
	}
}
