package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"github.com/qbicsoftware/data-scanner/internal/config"
	"github.com/qbicsoftware/data-scanner/internal/daemon"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/metrics"
	"github.com/qbicsoftware/data-scanner/internal/provenance"
	"github.com/qbicsoftware/data-scanner/internal/stage"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
	"github.com/qbicsoftware/data-scanner/internal/testsupport"
	"github.com/qbicsoftware/data-scanner/internal/workflow"
)

func newDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, *ledger.Store) {
	t.Helper()

	store := testsupport.MustOpenLedger(t)
	m := metrics.New()
	mgr, err := workflow.NewManager(cfg, store, m, nil)
	if err != nil {
		t.Fatalf("workflow.NewManager: %v", err)
	}
	d, err := daemon.New(cfg, store, m, mgr, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return d, store
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected lock path %q", status.LockFilePath)
	}
	if !status.Workflow.Running {
		t.Fatal("expected workflow to report running")
	}

	// Second start should fail
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	select {
	case <-d.Done():
	default:
		t.Fatal("expected workflow to be done after Stop")
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Mkdir(t, cfg.Paths.StateDir)
	other := flock.New(cfg.LockPath())
	locked, err := other.TryLock()
	if err != nil || !locked {
		t.Fatalf("pre-lock failed: locked=%v err=%v", locked, err)
	}
	defer other.Unlock()

	d, _ := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail while another instance holds the lock")
	}
	if d.Status(context.Background()).Running {
		t.Fatal("expected daemon to stay stopped")
	}
}

func TestDaemonLedgerQueries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, store := newDaemon(t, cfg)
	ctx := context.Background()

	for _, event := range []ledger.Event{
		{TaskID: "a", Stage: stage.Processing, Outcome: ledger.OutcomeForwarded},
		{TaskID: "a", Stage: stage.Evaluation, Outcome: ledger.OutcomeDelivered},
		{TaskID: "b", Stage: stage.Evaluation, Outcome: ledger.OutcomeUserError},
	} {
		if err := store.Record(ctx, event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	events, err := d.Events(ctx, ledger.Filter{Stage: stage.Evaluation})
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 || events[0].TaskID != "b" {
		t.Fatalf("unexpected events %+v", events)
	}
	stats, err := d.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected stats for two stages, got %+v", stats)
	}
}

func TestDaemonInterventions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, _ := newDaemon(t, cfg)

	record := provenance.New("/inbox/u/registration/ds", "/inbox/u", "MS1", nil)
	task := testsupport.WriteTask(t, cfg.Processing.WorkingDir, &record, "ds/")
	if _, err := taskdir.Divert(task, taskdir.InterventionsDir(cfg.Processing.WorkingDir),
		taskdir.Report{TaskID: filepath.Base(task), Reason: "Writing task directory failed"}); err != nil {
		t.Fatalf("Divert: %v", err)
	}

	stages, err := d.Interventions()
	if err != nil {
		t.Fatalf("Interventions: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected three stages, got %d", len(stages))
	}
	var found bool
	for _, s := range stages {
		if s.Stage != stage.Processing {
			if len(s.Tasks) != 0 {
				t.Fatalf("unexpected tasks in %s: %+v", s.Stage, s.Tasks)
			}
			continue
		}
		if len(s.Tasks) != 1 || s.Tasks[0].Reason != "Writing task directory failed" {
			t.Fatalf("unexpected processing interventions %+v", s.Tasks)
		}
		found = true
	}
	if !found {
		t.Fatal("processing stage missing from interventions")
	}
}

func TestDaemonServesStatusAndMetrics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Metrics.Bind = "127.0.0.1:0"
	d, _ := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := d.Status(context.Background()).MetricsListen

	resp, err := http.Get("http://" + addr + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running {
		t.Fatal("expected running status over http")
	}

	metricsResp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected metrics status code %d", metricsResp.StatusCode)
	}
}
