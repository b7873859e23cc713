//go:build integration

// Package integration exercises the full pipeline stack: real stage
// implementations wired to fake providers, a real sqlite job store and the
// HTTP API on top. Run with -tags integration.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/jobstore"
	"github.com/chuahwb/ai-content-creation-sub005/internal/progress"
	"github.com/chuahwb/ai-content-creation-sub005/internal/registry"
	"github.com/chuahwb/ai-content-creation-sub005/internal/service"
	"github.com/chuahwb/ai-content-creation-sub005/internal/stages"
)

// scriptedLLM answers every completion with a numbered canned line. When
// gate is non-nil each call blocks until the gate is closed, which lets
// tests hold a run mid-stage.
type scriptedLLM struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (l *scriptedLLM) Complete(ctx context.Context, system, prompt string) (string, float64, error) {
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
	l.mu.Lock()
	l.calls++
	n := l.calls
	l.mu.Unlock()
	return fmt.Sprintf("canned answer %d", n), 0.01, nil
}

// scriptedImages hands out sequential artifact refs and suffixes edits
type scriptedImages struct {
	n    sync.Mutex
	next int
}

func (f *scriptedImages) Generate(ctx context.Context, prompt string) (string, float64, error) {
	f.n.Lock()
	f.next++
	n := f.next
	f.n.Unlock()
	return fmt.Sprintf("artifacts/img-%d.png", n), 0.02, nil
}

func (f *scriptedImages) Edit(ctx context.Context, baseRef, instruction string) (string, float64, error) {
	return baseRef + ".edited.png", 0.03, nil
}

// newStack builds a service over an in-memory store with the real stage
// set and the built-in mode registry
func newStack(t *testing.T, llm stages.LLMClient, maxRuns int) (*service.Service, *jobstore.Store, *progress.Hub, *registry.Registry) {
	t.Helper()
	store, err := jobstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hub := progress.NewHub(store.StageSnapshot)
	t.Cleanup(hub.Stop)

	reg := registry.New()
	set := stages.All(llm, &scriptedImages{}, stages.Config{MaxConcurrentRenders: 2})
	svc := service.New(store, reg, hub, set, nil, maxRuns)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc, store, hub, reg
}

func waitRunTerminal(t *testing.T, store *jobstore.Store, runID string) *domain.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetRun(runID)
		if err != nil {
			t.Fatal(err)
		}
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return nil
}

func waitRunStatus(t *testing.T, store *jobstore.Store, runID string, want domain.RunStatus) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetRun(runID)
		if err != nil {
			t.Fatal(err)
		}
		if run.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %s", runID, want)
}

func waitJobTerminal(t *testing.T, store *jobstore.Store, jobID string) *domain.RefinementJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetRefinementJob(jobID)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("refinement job %s never reached a terminal status", jobID)
	return nil
}

// renderItems decodes the render stage output of a completed run
func renderItems(t *testing.T, run *domain.Run) []domain.RenderItem {
	t.Helper()
	for _, rec := range run.Stages {
		if rec.Name != "render" {
			continue
		}
		var out domain.RenderOutput
		if err := json.Unmarshal(rec.Output, &out); err != nil {
			t.Fatalf("decode render output: %v", err)
		}
		return out.Items
	}
	t.Fatalf("run %s has no render stage", run.ID)
	return nil
}

// stageNames returns the run's stage names in execution order
func stageNames(run *domain.Run) []string {
	names := make([]string, len(run.Stages))
	for i, rec := range run.Stages {
		names[i] = rec.Name
	}
	return names
}
