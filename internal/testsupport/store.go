package testsupport

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/qbicsoftware/data-scanner/internal/ledger"
)

// MustOpenLedger opens a ledger.Store in a temp directory and registers cleanup.
func MustOpenLedger(t testing.TB) *ledger.Store {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), ledger.DefaultFileName))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EventLog is an in-memory ledger.Recorder.
type EventLog struct {
	mu     sync.Mutex
	events []ledger.Event
}

// Record stores event.
func (l *EventLog) Record(_ context.Context, event ledger.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []ledger.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Event(nil), l.events...)
}

// Count returns how many events with outcome were recorded.
func (l *EventLog) Count(outcome ledger.Outcome) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, event := range l.events {
		if event.Outcome == outcome {
			n++
		}
	}
	return n
}
