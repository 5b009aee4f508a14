package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/ledger"
)

func openStore(t *testing.T) *ledger.Store {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "state", ledger.DefaultFileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	events := []ledger.Event{
		{TaskID: "t1", Stage: "registration", Outcome: ledger.OutcomeForwarded, Destination: "/proc/t1", MeasurementID: "MS001"},
		{TaskID: "t2", Stage: "registration", Outcome: ledger.OutcomeUserError, Reason: "File 'b.raw' not found"},
		{TaskID: "t1", Stage: "processing", Outcome: ledger.OutcomeForwarded, Source: "/proc/t1", Destination: "/eval/t1"},
	}
	for _, event := range events {
		if err := store.Record(ctx, event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.Recent(ctx, ledger.Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 events, got %d", len(recent))
	}
	if recent[0].Stage != "processing" || recent[0].Source != "/proc/t1" {
		t.Fatalf("expected newest event first, got %+v", recent[0])
	}
	if recent[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be populated")
	}

	errorsOnly, err := store.Recent(ctx, ledger.Filter{Outcome: ledger.OutcomeUserError})
	if err != nil {
		t.Fatalf("Recent filtered: %v", err)
	}
	if len(errorsOnly) != 1 || errorsOnly[0].Reason != "File 'b.raw' not found" {
		t.Fatalf("unexpected filtered events: %+v", errorsOnly)
	}

	byTask, err := store.Recent(ctx, ledger.Filter{TaskID: "t1", Limit: 1})
	if err != nil {
		t.Fatalf("Recent by task: %v", err)
	}
	if len(byTask) != 1 || byTask[0].Stage != "processing" {
		t.Fatalf("unexpected task events: %+v", byTask)
	}
}

func TestStatsGroupsByStage(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for _, event := range []ledger.Event{
		{TaskID: "a", Stage: "evaluation", Outcome: ledger.OutcomeDelivered},
		{TaskID: "b", Stage: "evaluation", Outcome: ledger.OutcomeDelivered},
		{TaskID: "c", Stage: "evaluation", Outcome: ledger.OutcomeUserError},
		{TaskID: "d", Stage: "processing", Outcome: ledger.OutcomeIntervention},
	} {
		if err := store.Record(ctx, event); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 stages, got %+v", stats)
	}
	if stats[0].Stage != "evaluation" || stats[0].Outcomes[ledger.OutcomeDelivered] != 2 || stats[0].Total() != 3 {
		t.Fatalf("unexpected evaluation stats: %+v", stats[0])
	}
	if stats[1].Outcomes[ledger.OutcomeIntervention] != 1 {
		t.Fatalf("unexpected processing stats: %+v", stats[1])
	}
}

func TestRecordRequiresTaskID(t *testing.T) {
	store := openStore(t)
	if err := store.Record(context.Background(), ledger.Event{Stage: "processing"}); err == nil {
		t.Fatal("expected error for missing task id")
	}
}

func TestPruneRemovesOldEvents(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	if err := store.Record(ctx, ledger.Event{TaskID: "old", Stage: "evaluation", Outcome: ledger.OutcomeDelivered, CreatedAt: old}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := store.Record(ctx, ledger.Event{TaskID: "new", Stage: "evaluation", Outcome: ledger.OutcomeDelivered}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	removed, err := store.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed event, got %d", removed)
	}
}

func TestReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), ledger.DefaultFileName)
	store, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Record(context.Background(), ledger.Event{TaskID: "x", Stage: "registration", Outcome: ledger.OutcomeForwarded}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()

	reopened, err := ledger.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	events, err := reopened.Recent(context.Background(), ledger.Filter{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected persisted event, got %d", len(events))
	}
}

type failingRecorder struct{ err error }

func (f failingRecorder) Record(context.Context, ledger.Event) error { return f.err }

type countingRecorder struct{ n int }

func (c *countingRecorder) Record(context.Context, ledger.Event) error {
	c.n++
	return nil
}

func TestMultiRecorderFansOut(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingRecorder{}
	rec := ledger.Multi(nil, counter, failingRecorder{err: boom})

	err := rec.Record(context.Background(), ledger.Event{TaskID: "t"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if counter.n != 1 {
		t.Fatalf("expected counting recorder to be called once, got %d", counter.n)
	}

	if _, ok := ledger.Multi().(ledger.Nop); !ok {
		t.Fatal("expected Nop for empty Multi")
	}
}
