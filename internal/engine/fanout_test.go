package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFanOut_CollectsPartialFailures(t *testing.T) {
	results := FanOut(context.Background(), 3, 2, func(ctx context.Context, i int) (any, error) {
		if i == 1 {
			return nil, fmt.Errorf("variant %d rejected", i)
		}
		return fmt.Sprintf("image-%d", i), nil
	})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if SucceededCount(results) != 2 {
		t.Errorf("succeeded = %d, want 2", SucceededCount(results))
	}
	if results[1].OK || results[1].Error == "" {
		t.Errorf("item 1 should carry its error: %+v", results[1])
	}
	if AllFailed(results) {
		t.Error("AllFailed should be false with two successes")
	}
}

func TestFanOut_AllFailed(t *testing.T) {
	results := FanOut(context.Background(), 2, 2, func(ctx context.Context, i int) (any, error) {
		return nil, fmt.Errorf("down")
	})
	if !AllFailed(results) {
		t.Error("AllFailed should be true")
	}
}

func TestFanOut_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak int64
	var mu sync.Mutex

	FanOut(context.Background(), 8, 2, func(ctx context.Context, i int) (any, error) {
		n := atomic.AddInt64(&inFlight, 1)
		mu.Lock()
		if n > peak {
			peak = n
		}
		mu.Unlock()
		defer atomic.AddInt64(&inFlight, -1)
		return i, nil
	})

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

func TestFanOut_ResultsKeepItemOrder(t *testing.T) {
	results := FanOut(context.Background(), 4, 4, func(ctx context.Context, i int) (any, error) {
		return i * 10, nil
	})
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has index %d", i, r.Index)
		}
		if r.Output != i*10 {
			t.Errorf("result %d output = %v, want %d", i, r.Output, i*10)
		}
	}
}
