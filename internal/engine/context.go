// Package engine drives one run through its resolved stage list: it owns the
// per-run mutable context, the stage state machine, and the bounded fan-out
// helper stages use for independent sub-units.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
)

// ErrMissingInput is returned by MustGet when a stage requires an earlier
// stage's output that is not present in the context.
var ErrMissingInput = errors.New("missing stage input")

// Context is the mutable aggregate threaded through every stage call during
// one run's execution. It is owned exclusively by that run's executor and
// discarded once the run reaches a terminal status; its durable projection
// lives in the run and stage rows.
type Context struct {
	RunID string
	Mode  domain.RunMode
	Input domain.InputSnapshot

	// Ancestry is set for refinement runs: the resolved seed locating the
	// artifact being refined.
	Ancestry *domain.AncestrySeed

	outputs map[string]any

	// cost is deliberately unguarded: stages run one at a time, and a
	// fan-out stage aggregates item costs locally and calls AddCost once.
	cost float64

	cancelled atomic.Bool

	logMu sync.Mutex
	logs  []domain.LogEntry
}

// NewContext creates the context for one run
func NewContext(runID string, mode domain.RunMode, input domain.InputSnapshot) *Context {
	return &Context{
		RunID:   runID,
		Mode:    mode,
		Input:   input,
		outputs: make(map[string]any),
	}
}

// Set stores a stage's output under the producing stage's name
func (c *Context) Set(stageName string, value any) {
	c.outputs[stageName] = value
}

// Get returns the output a stage stored earlier, if any
func (c *Context) Get(stageName string) (any, bool) {
	v, ok := c.outputs[stageName]
	return v, ok
}

// MustGet returns the output of an earlier stage or ErrMissingInput. Stages
// declare their own required inputs and fail fast through this.
func (c *Context) MustGet(stageName string) (any, error) {
	v, ok := c.outputs[stageName]
	if !ok {
		return nil, fmt.Errorf("%w: no output from stage %q", ErrMissingInput, stageName)
	}
	return v, nil
}

// AddCost accrues external-call cost against the run
func (c *Context) AddCost(usd float64) {
	c.cost += usd
}

// CostUSD returns the accrued run cost
func (c *Context) CostUSD() float64 {
	return c.cost
}

// RequestCancel sets the cooperative cancellation flag. No new stage starts
// once set; an in-flight stage is expected to poll the flag and return early
// where feasible.
func (c *Context) RequestCancel() {
	c.cancelled.Store(true)
}

// CancelRequested reports whether cancellation was requested
func (c *Context) CancelRequested() bool {
	return c.cancelled.Load()
}

// Logf appends a structured log line. Entries are flushed to the store at
// every stage boundary so partial progress survives a crash.
func (c *Context) Logf(level, format string, args ...any) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	c.logs = append(c.logs, domain.LogEntry{
		RunID:     c.RunID,
		Timestamp: time.Now(),
		Level:     level,
		Message:   fmt.Sprintf(format, args...),
	})
}

// DrainLogs returns buffered log entries and clears the buffer
func (c *Context) DrainLogs() []domain.LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := c.logs
	c.logs = nil
	return out
}
