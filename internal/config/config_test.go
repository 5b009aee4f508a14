package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/qbicsoftware/data-scanner/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Registration.QueueCapacity != 10 {
		t.Fatalf("unexpected queue capacity %d", cfg.Registration.QueueCapacity)
	}
	if cfg.Registration.TargetDir != cfg.Processing.WorkingDir {
		t.Fatal("expected registration to feed processing by default")
	}
	if cfg.Processing.TargetDir != cfg.Evaluation.WorkingDir {
		t.Fatal("expected processing to feed evaluation by default")
	}
}

func TestLoadExpandsPathsAndDedupesTargets(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := writeConfig(t, `
[paths]
scanner_dir = "~/inbox"
log_dir = "~/logs"
state_dir = "~/state"

[registration]
working_dir = "~/reg"
target_dir = "~/proc"

[processing]
working_dir = "~/proc"
target_dir = "~/eval"

[evaluation]
working_dir = "~/eval"
target_dirs = ["~/t1", "~/t2", "~/t1", " "]
measurement_id_pattern = 'MS\d+'
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution %q exists=%v", resolved, exists)
	}
	if cfg.Paths.ScannerDir != filepath.Join(home, "inbox") {
		t.Fatalf("unexpected scanner dir %q", cfg.Paths.ScannerDir)
	}
	if len(cfg.Evaluation.TargetDirs) != 2 || cfg.Evaluation.TargetDirs[1] != filepath.Join(home, "t2") {
		t.Fatalf("unexpected targets %v", cfg.Evaluation.TargetDirs)
	}
	re := cfg.MeasurementIDPattern()
	if re == nil || !re.MatchString("sample_MS001") {
		t.Fatalf("expected compiled pattern, got %v", re)
	}
	if cfg.ScanInterval().Milliseconds() != 1000 {
		t.Fatalf("unexpected scan interval %s", cfg.ScanInterval())
	}
	if cfg.LedgerPath() != filepath.Join(home, "state", "ledger.db") {
		t.Fatalf("unexpected ledger path %q", cfg.LedgerPath())
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "zero workers",
			body: "[processing]\nworkers = 0\n",
			want: "processing.workers must be positive",
		},
		{
			name: "negative interval",
			body: "[scanner]\ninterval_ms = -5\n",
			want: "scanner.interval_ms must be positive",
		},
		{
			name: "empty targets",
			body: "[evaluation]\ntarget_dirs = []\n",
			want: "evaluation.target_dirs",
		},
		{
			name: "bad pattern",
			body: "[evaluation]\nmeasurement_id_pattern = '(['\n",
			want: "evaluation.measurement_id_pattern",
		},
		{
			name: "blank metadata name",
			body: "[registration]\nmetadata_file_name = \"  \"\n",
			want: "registration.metadata_file_name must be set",
		},
		{
			name: "unknown key",
			body: "[scanner]\nintervall = 3\n",
			want: "parse config",
		},
		{
			name: "bare ntfy topic",
			body: "[notifications]\nntfy_topic = \"datascanner\"\n",
			want: "notifications.ntfy_topic",
		},
		{
			name: "log format",
			body: "[logging]\nformat = \"xml\"\n",
			want: "logging.format",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := config.Load(writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	inbox := t.TempDir()
	t.Setenv("DATASCANNER_SCANNER_DIR", inbox)
	t.Setenv("DATASCANNER_LOG_LEVEL", "DEBUG")

	cfg, _, _, err := config.Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.ScannerDir != inbox {
		t.Fatalf("expected env scanner dir, got %q", cfg.Paths.ScannerDir)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized log level, got %q", cfg.Logging.Level)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exists || resolved != path {
		t.Fatalf("unexpected resolution %q exists=%v", resolved, exists)
	}
	if cfg.Users.ErrorDirName != "error" {
		t.Fatalf("unexpected error dir name %q", cfg.Users.ErrorDirName)
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Scanner.RegistrationDirName != "registration" {
		t.Fatalf("unexpected registration dir name %q", cfg.Scanner.RegistrationDirName)
	}
}

func TestEnsureDirectoriesCreatesStateAndLogs(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.Paths.StateDir = filepath.Join(root, "state")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.LogDir, cfg.Paths.StateDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to exist", dir)
		}
	}
}

func TestPipelineDirectoriesDedupes(t *testing.T) {
	cfg := config.Default()
	dirs := cfg.PipelineDirectories()
	seen := map[string]bool{}
	for _, dir := range dirs {
		if seen[dir] {
			t.Fatalf("duplicate directory %s in %v", dir, dirs)
		}
		seen[dir] = true
	}
	if !seen[cfg.Paths.ScannerDir] || !seen[cfg.Evaluation.TargetDirs[0]] {
		t.Fatalf("expected scanner and target directories in %v", dirs)
	}
	if len(dirs) != 5 {
		t.Fatalf("expected 5 distinct directories with defaults, got %d: %v", len(dirs), dirs)
	}
}
