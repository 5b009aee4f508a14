package roundrobin_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/qbicsoftware/data-scanner/internal/roundrobin"
)

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := roundrobin.New([]string{}); !errors.Is(err, roundrobin.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestNextRotates(t *testing.T) {
	sel, err := roundrobin.New([]string{"T1", "T2", "T3"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := []string{"T1", "T2", "T3", "T1", "T2", "T3", "T1"}
	for i, expected := range want {
		if got := sel.Next(); got != expected {
			t.Fatalf("draw %d: got %q want %q", i, got, expected)
		}
	}
}

func TestNextIsFairUnderConcurrency(t *testing.T) {
	targets := []string{"T1", "T2", "T3"}
	sel, err := roundrobin.New(targets)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const perWorker = 100
	const workers = 6
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				target := sel.Next()
				mu.Lock()
				counts[target]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := perWorker * workers
	for _, target := range targets {
		if counts[target] != total/len(targets) {
			t.Fatalf("uneven distribution: %v", counts)
		}
	}
}

func TestItemsReturnsCopy(t *testing.T) {
	sel, err := roundrobin.New([]int{1, 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	items := sel.Items()
	items[0] = 99
	if sel.Next() != 1 {
		t.Fatal("Items exposed internal slice")
	}
	if sel.Len() != 2 {
		t.Fatalf("Len = %d", sel.Len())
	}
}
