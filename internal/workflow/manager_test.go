package workflow_test

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/metrics"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
	"github.com/qbicsoftware/data-scanner/internal/testsupport"
	"github.com/qbicsoftware/data-scanner/internal/workflow"
)

func startManager(t *testing.T, m *workflow.Manager) {
	t.Helper()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(m.Stop)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestManagerDeliversMeasurementsToTargets(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTargets(2), testsupport.WithWorkers(2))
	regDir := testsupport.Mkdir(t, cfg.Paths.ScannerDir, "alice", cfg.Scanner.RegistrationDirName)
	testsupport.WriteDataset(t, regDir, "sampleA", cfg.Registration.MetadataFileName, []testsupport.MetadataLine{
		{File: "MS001_a.raw", MeasurementID: "MS001"},
		{File: "MS002_b.raw", MeasurementID: "MS002"},
	})

	events := &testsupport.EventLog{}
	m, err := workflow.NewManager(cfg, events, metrics.New(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	startManager(t, m)

	waitFor(t, "two deliveries", func() bool {
		return events.Count(ledger.OutcomeDelivered) == 2
	})

	for _, target := range cfg.Evaluation.TargetDirs {
		tasks := testsupport.Names(t, target)
		if len(tasks) != 1 {
			t.Fatalf("expected one task in %s, got %v", target, tasks)
		}
		taskPath := filepath.Join(target, tasks[0])
		record, err := provenance.Load(taskPath)
		if err != nil {
			t.Fatalf("load provenance: %v", err)
		}
		if record.User() != filepath.Join(cfg.Paths.ScannerDir, "alice") {
			t.Fatalf("unexpected user %q", record.User())
		}
		want := []string{
			filepath.Join(cfg.Registration.WorkingDir, tasks[0]),
			filepath.Join(cfg.Processing.WorkingDir, tasks[0]),
			filepath.Join(cfg.Evaluation.WorkingDir, tasks[0]),
		}
		if history := record.History(); !slices.Equal(history, want) {
			t.Fatalf("unexpected history %v, want %v", history, want)
		}
		payload := testsupport.Names(t, taskPath)
		if len(payload) != 2 || !strings.HasSuffix(payload[0], "_dataset") || payload[1] != provenance.FileName {
			t.Fatalf("unexpected task content %v", payload)
		}
	}
	if names := testsupport.Names(t, regDir); len(names) != 0 {
		t.Fatalf("expected registration folder to be drained, got %v", names)
	}
	if n := events.Count(ledger.OutcomeIntervention); n != 0 {
		t.Fatalf("unexpected interventions: %d", n)
	}
}

func TestManagerReturnsUnknownMeasurementToUser(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	userDir := testsupport.Mkdir(t, cfg.Paths.ScannerDir, "bob")
	regDir := testsupport.Mkdir(t, userDir, cfg.Scanner.RegistrationDirName)
	testsupport.WriteDataset(t, regDir, "plain", cfg.Registration.MetadataFileName, []testsupport.MetadataLine{
		{File: "reading.raw", MeasurementID: "X1"},
	})

	events := &testsupport.EventLog{}
	m, err := workflow.NewManager(cfg, events, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	startManager(t, m)

	waitFor(t, "user error", func() bool {
		return events.Count(ledger.OutcomeUserError) == 1
	})
	errorDir := filepath.Join(userDir, cfg.Users.ErrorDirName)
	tasks := testsupport.Names(t, errorDir)
	if len(tasks) != 1 {
		t.Fatalf("expected one returned task, got %v", tasks)
	}
	content := testsupport.Names(t, filepath.Join(errorDir, tasks[0]))
	found := false
	for _, name := range content {
		if name == "error.txt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected error.txt in returned task, got %v", content)
	}
	if n := events.Count(ledger.OutcomeDelivered); n != 0 {
		t.Fatalf("unexpected deliveries: %d", n)
	}
}

func TestManagerStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	m, err := workflow.NewManager(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Done() != nil {
		t.Fatal("expected nil done channel before Start")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}

	status := m.Status(context.Background())
	if !status.Running {
		t.Fatal("expected running status")
	}
	if status.QueueCapacity != cfg.Registration.QueueCapacity {
		t.Fatalf("unexpected queue capacity %d", status.QueueCapacity)
	}
	wantWorkers := cfg.Registration.Workers + cfg.Processing.Workers + cfg.Evaluation.Workers
	if len(status.Workers) != wantWorkers {
		t.Fatalf("expected %d workers, got %d", wantWorkers, len(status.Workers))
	}
	if len(status.StageHealth) != 3 {
		t.Fatalf("expected health for three stages, got %v", status.StageHealth)
	}

	done := m.Done()
	m.Stop()
	select {
	case <-done:
	default:
		t.Fatal("expected done to be closed after Stop")
	}
	if m.Status(context.Background()).Running {
		t.Fatal("expected stopped status")
	}
	for _, w := range m.Status(context.Background()).Workers {
		if !w.Terminated {
			t.Fatalf("worker %s-%d not terminated", w.Stage, w.Index)
		}
	}
	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected Start after Stop to fail")
	}
	m.Stop()
}

func TestCheckDirectoriesReportsMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := workflow.CheckDirectories(cfg, nil); err != nil {
		t.Fatalf("expected checks to pass: %v", err)
	}
	cfg.Processing.TargetDir = filepath.Join(t.TempDir(), "missing")
	if err := workflow.CheckDirectories(cfg, nil); err == nil {
		t.Fatal("expected missing directory to fail")
	}
}

func TestNewManagerRejectsMissingScannerDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Paths.ScannerDir = filepath.Join(t.TempDir(), "absent")
	if _, err := workflow.NewManager(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
