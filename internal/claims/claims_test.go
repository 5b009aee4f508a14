package claims_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/qbicsoftware/data-scanner/internal/claims"
)

func TestTryClaimIsExclusive(t *testing.T) {
	reg := claims.NewRegistry("processing")
	if !reg.TryClaim("/work/t1") {
		t.Fatal("first claim should succeed")
	}
	if reg.TryClaim("/work/t1/") {
		t.Fatal("second claim on the same cleaned path should fail")
	}
	if !reg.Held("/work/t1") || reg.Len() != 1 {
		t.Fatalf("unexpected registry state: %v", reg.Snapshot())
	}
	reg.Release("/work/t1")
	if reg.Held("/work/t1") {
		t.Fatal("expected claim to be released")
	}
	reg.Release("/work/never")
	if !reg.TryClaim("/work/t1") {
		t.Fatal("claim after release should succeed")
	}
}

func TestConcurrentClaimsHaveSingleWinner(t *testing.T) {
	reg := claims.NewRegistry("evaluation")
	const contenders = 32
	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	start := make(chan struct{})
	for range contenders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if reg.TryClaim("/work/shared") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestSnapshotSorted(t *testing.T) {
	reg := claims.NewRegistry("processing")
	reg.TryClaim("/b")
	reg.TryClaim("/a")
	snap := reg.Snapshot()
	if len(snap) != 2 || snap[0] != "/a" || snap[1] != "/b" {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	if reg.Name() != "processing" {
		t.Fatalf("Name = %q", reg.Name())
	}
}
