package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/engine"
	"github.com/chuahwb/ai-content-creation-sub005/internal/jobstore"
	"github.com/chuahwb/ai-content-creation-sub005/internal/progress"
	"github.com/chuahwb/ai-content-creation-sub005/internal/registry"
)

type stubStage struct {
	name string
	fn   func(ctx context.Context, rc *engine.Context) (engine.Outcome, error)
}

func (s *stubStage) Name() string { return s.name }

func (s *stubStage) Execute(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
	if s.fn != nil {
		return s.fn(ctx, rc)
	}
	return engine.Outcome{Message: s.name + " done"}, nil
}

func stubStages() map[string]engine.Stage {
	names := []string{
		"eval", "strategize", "style", "compose", "render", "assess",
		"load_base", "subject_repair", "text_repair", "prompt_refine", "caption",
	}
	m := make(map[string]engine.Stage, len(names)+1)
	for _, n := range names {
		m[n] = &stubStage{name: n}
	}
	m["save"] = &stubStage{name: "save", fn: func(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
		return engine.Outcome{Output: domain.RefineOutput{ArtifactRef: "s3://bucket/refined.png", Summary: "refined"}}, nil
	}}
	return m
}

func newTestService(t *testing.T, stages map[string]engine.Stage, maxRuns int) (*Service, *jobstore.Store) {
	t.Helper()
	store, err := jobstore.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hub := progress.NewHub(store.StageSnapshot)
	t.Cleanup(hub.Stop)

	svc := New(store, registry.New(), hub, stages, nil, maxRuns)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})
	return svc, store
}

func waitTerminal(t *testing.T, store *jobstore.Store, runID string) *domain.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := store.GetRun(runID)
		if err != nil {
			t.Fatal(err)
		}
		if run.Status.IsTerminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return nil
}

func seedCompletedParent(t *testing.T, store *jobstore.Store) *domain.Run {
	t.Helper()
	run := &domain.Run{
		ID:        "parent-1",
		Mode:      domain.ModeGeneration,
		Status:    domain.RunPending,
		Input:     domain.InputSnapshot{Prompt: "a lighthouse at dusk", NumVariants: 2},
		CreatedAt: time.Now(),
	}
	if err := store.CreateRun(run); err != nil {
		t.Fatal(err)
	}

	records := []*domain.StageRecord{
		{RunID: run.ID, Name: "compose", Order: 0, Status: domain.StagePending},
		{RunID: run.ID, Name: "render", Order: 1, Status: domain.StagePending},
	}
	if err := store.CreateStageRecords(records); err != nil {
		t.Fatal(err)
	}

	compose, _ := json.Marshal(domain.ComposeOutput{FinalPrompt: "a lighthouse at dusk, oil painting"})
	records[0].Status = domain.StageCompleted
	records[0].Output = compose

	render, _ := json.Marshal(domain.RenderOutput{Items: []domain.RenderItem{
		{Index: 0, ID: "img-0", ArtifactRef: "s3://bucket/img-0.png", OK: true},
		{Index: 1, ID: "img-1", ArtifactRef: "s3://bucket/img-1.png", OK: true},
	}})
	records[1].Status = domain.StageCompleted
	records[1].Output = render

	for _, rec := range records {
		if err := store.UpdateStageRecord(rec); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.MarkRunStarted(run.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRunFinished(run.ID, domain.RunCompleted, "", 0.10, time.Now()); err != nil {
		t.Fatal(err)
	}
	return run
}

func TestSubmitRun_Completes(t *testing.T) {
	svc, store := newTestService(t, stubStages(), 2)

	run, err := svc.SubmitRun(domain.ModeGeneration, domain.InputSnapshot{Prompt: "hello", NumVariants: 2}, registry.Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != domain.RunPending {
		t.Errorf("submitted run status = %s, want pending", run.Status)
	}

	final := waitTerminal(t, store, run.ID)
	if final.Status != domain.RunCompleted {
		t.Fatalf("run status = %s, want completed", final.Status)
	}
	if len(final.Stages) != 6 {
		t.Errorf("got %d stage records, want 6", len(final.Stages))
	}
	for _, rec := range final.Stages {
		if rec.Status != domain.StageCompleted {
			t.Errorf("stage %s = %s, want completed", rec.Name, rec.Status)
		}
	}
}

func TestSubmitRun_EmptyPrompt(t *testing.T) {
	svc, store := newTestService(t, stubStages(), 1)

	_, err := svc.SubmitRun(domain.ModeGeneration, domain.InputSnapshot{Prompt: "   "}, registry.Flags{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	runs, err := store.ListRuns(jobstore.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("rejected submission created %d runs", len(runs))
	}
}

func TestSubmitRun_UnknownMode(t *testing.T) {
	svc, store := newTestService(t, stubStages(), 1)

	_, err := svc.SubmitRun(domain.RunMode("video"), domain.InputSnapshot{Prompt: "x"}, registry.Flags{})
	var cfgErr *registry.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}

	runs, _ := store.ListRuns(jobstore.ListOptions{})
	if len(runs) != 0 {
		t.Errorf("config error still created %d runs", len(runs))
	}
}

func TestSubmitRun_FailureSkipsRest(t *testing.T) {
	stages := stubStages()
	stages["render"] = &stubStage{name: "render", fn: func(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
		return engine.Outcome{}, fmt.Errorf("backend unavailable")
	}}
	svc, store := newTestService(t, stages, 1)

	run, err := svc.SubmitRun(domain.ModeGeneration, domain.InputSnapshot{Prompt: "hello"}, registry.Flags{})
	if err != nil {
		t.Fatal(err)
	}

	final := waitTerminal(t, store, run.ID)
	if final.Status != domain.RunFailed {
		t.Fatalf("run status = %s, want failed", final.Status)
	}
	byName := map[string]*domain.StageRecord{}
	for _, rec := range final.Stages {
		byName[rec.Name] = rec
	}
	if byName["render"].Status != domain.StageFailed {
		t.Errorf("render = %s, want failed", byName["render"].Status)
	}
	if byName["assess"].Status != domain.StageSkipped {
		t.Errorf("assess = %s, want skipped", byName["assess"].Status)
	}
}

func TestCancel_LiveRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	stages := stubStages()
	stages["eval"] = &stubStage{name: "eval", fn: func(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
		close(started)
		<-release
		return engine.Outcome{}, nil
	}}
	svc, store := newTestService(t, stages, 1)

	run, err := svc.SubmitRun(domain.ModeGeneration, domain.InputSnapshot{Prompt: "hello"}, registry.Flags{})
	if err != nil {
		t.Fatal(err)
	}

	<-started
	if err := svc.Cancel(run.ID); err != nil {
		t.Fatal(err)
	}
	close(release)

	final := waitTerminal(t, store, run.ID)
	if final.Status != domain.RunCancelled {
		t.Fatalf("run status = %s, want cancelled", final.Status)
	}
}

func TestCancel_TerminalRun(t *testing.T) {
	svc, store := newTestService(t, stubStages(), 1)

	run, err := svc.SubmitRun(domain.ModeGeneration, domain.InputSnapshot{Prompt: "hello"}, registry.Flags{})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, store, run.ID)

	if err := svc.Cancel(run.ID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("err = %v, want ErrNotCancellable", err)
	}
}

func TestSubmitRefinement_CompletesJob(t *testing.T) {
	svc, store := newTestService(t, stubStages(), 1)
	parent := seedCompletedParent(t, store)

	job, err := svc.SubmitRefinement(RefinementRequest{
		ParentRunID: parent.ID,
		Parent:      domain.ParentRef{Kind: domain.ParentOriginal, ID: "img-1"},
		Type:        domain.RefineSubject,
		Instruction: "fix the tower",
	})
	if err != nil {
		t.Fatal(err)
	}
	if job.ParentRunID != parent.ID {
		t.Errorf("ParentRunID = %s, want %s", job.ParentRunID, parent.ID)
	}

	waitTerminal(t, store, job.RunID)

	final, err := store.GetRefinementJob(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != domain.RunCompleted {
		t.Fatalf("job status = %s, want completed", final.Status)
	}
	if final.ArtifactRef != "s3://bucket/refined.png" {
		t.Errorf("ArtifactRef = %q", final.ArtifactRef)
	}
	if final.Summary != "refined" {
		t.Errorf("Summary = %q", final.Summary)
	}
}

func TestSubmitRefinement_InvalidParent(t *testing.T) {
	svc, store := newTestService(t, stubStages(), 1)
	seedCompletedParent(t, store)

	_, err := svc.SubmitRefinement(RefinementRequest{
		ParentRunID: "parent-1",
		Parent:      domain.ParentRef{Kind: "sibling", ID: "img-1"},
		Type:        domain.RefineSubject,
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}

	jobs, _ := store.ListRefinementJobs("parent-1")
	if len(jobs) != 0 {
		t.Errorf("rejected submission created %d jobs", len(jobs))
	}
}

func TestSubmitRefinement_UnresolvableAncestry(t *testing.T) {
	svc, store := newTestService(t, stubStages(), 1)
	parent := seedCompletedParent(t, store)

	_, err := svc.SubmitRefinement(RefinementRequest{
		ParentRunID: parent.ID,
		Parent:      domain.ParentRef{Kind: domain.ParentOriginal, ID: "no-such-artifact"},
		Type:        domain.RefineSubject,
		Instruction: "fix it",
	})
	if err == nil {
		t.Fatal("expected resolution error")
	}

	runs, _ := store.ListRuns(jobstore.ListOptions{Mode: domain.ModeRefinement})
	if len(runs) != 0 {
		t.Errorf("failed resolution created %d refinement runs", len(runs))
	}
}

func TestConcurrencyLimit(t *testing.T) {
	release := make(chan struct{})
	running := make(chan string, 4)
	stages := stubStages()
	stages["eval"] = &stubStage{name: "eval", fn: func(ctx context.Context, rc *engine.Context) (engine.Outcome, error) {
		running <- rc.RunID
		<-release
		return engine.Outcome{}, nil
	}}
	svc, store := newTestService(t, stages, 1)

	first, err := svc.SubmitRun(domain.ModeGeneration, domain.InputSnapshot{Prompt: "one"}, registry.Flags{})
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.SubmitRun(domain.ModeGeneration, domain.InputSnapshot{Prompt: "two"}, registry.Flags{})
	if err != nil {
		t.Fatal(err)
	}

	<-running
	select {
	case got := <-running:
		t.Fatalf("second run %s started while the slot was held", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	waitTerminal(t, store, first.ID)
	waitTerminal(t, store, second.ID)
}
