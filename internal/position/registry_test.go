// internal/position/registry_test.go
package position

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestTryAcquireRejectsDuplicateMint(t *testing.T) {
	r := NewRegistry(5, zaptest.NewLogger(t))

	if !r.TryAcquire("mintA") {
		t.Fatal("first acquire should succeed")
	}
	if r.TryAcquire("mintA") {
		t.Fatal("duplicate acquire should fail")
	}

	r.Release("mintA")
	if !r.TryAcquire("mintA") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestTryAcquireRespectsCapacity(t *testing.T) {
	r := NewRegistry(2, zaptest.NewLogger(t))

	if !r.TryAcquire("a") || !r.TryAcquire("b") {
		t.Fatal("acquires within capacity should succeed")
	}
	if r.TryAcquire("c") {
		t.Fatal("acquire beyond capacity should fail")
	}

	r.Release("a")
	if !r.TryAcquire("c") {
		t.Fatal("acquire should succeed after a slot freed")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry(1, zaptest.NewLogger(t))

	r.TryAcquire("a")
	r.Release("a")
	r.Release("a")
	r.Release("never-held")

	if got := r.Count(); got != 0 {
		t.Fatalf("expected empty registry, got %d", got)
	}
}

func TestConcurrentAcquireNeverExceedsCapacity(t *testing.T) {
	const capacity = 5
	r := NewRegistry(capacity, zaptest.NewLogger(t))

	var acquired atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.TryAcquire(fmt.Sprintf("mint-%d", i)) {
				acquired.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if acquired.Load() != capacity {
		t.Fatalf("expected exactly %d acquisitions, got %d", capacity, acquired.Load())
	}
	if r.Count() != capacity {
		t.Fatalf("expected count %d, got %d", capacity, r.Count())
	}
}

func TestConcurrentSameMintSingleWinner(t *testing.T) {
	r := NewRegistry(5, zaptest.NewLogger(t))

	var winners atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryAcquire("contested") {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}
