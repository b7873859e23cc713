package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ItemResult is the outcome of one fan-out item. The per-item list is
// embedded in the stage's output so consumers see partial failures without
// the stage itself failing.
type ItemResult struct {
	Index  int    `json:"index"`
	OK     bool   `json:"ok"`
	Output any    `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// FanOut runs fn for n independent items with at most limit in flight,
// protecting third-party rate limits. Item failures are collected, not
// propagated: the caller decides what a mixed result set means.
func FanOut(ctx context.Context, n, limit int, fn func(ctx context.Context, index int) (any, error)) []ItemResult {
	if limit <= 0 {
		limit = 1
	}
	results := make([]ItemResult, n)

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			out, err := fn(ctx, i)
			if err != nil {
				results[i] = ItemResult{Index: i, Error: err.Error()}
				return nil
			}
			results[i] = ItemResult{Index: i, OK: true, Output: out}
			return nil
		})
	}
	g.Wait()
	return results
}

// AllFailed reports whether no item succeeded
func AllFailed(results []ItemResult) bool {
	for _, r := range results {
		if r.OK {
			return false
		}
	}
	return len(results) > 0
}

// SucceededCount returns how many items succeeded
func SucceededCount(results []ItemResult) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}
