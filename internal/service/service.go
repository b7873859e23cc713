package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chuahwb/ai-content-creation-sub005/internal/chain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	"github.com/chuahwb/ai-content-creation-sub005/internal/engine"
	"github.com/chuahwb/ai-content-creation-sub005/internal/jobstore"
	"github.com/chuahwb/ai-content-creation-sub005/internal/notify"
	"github.com/chuahwb/ai-content-creation-sub005/internal/progress"
	"github.com/chuahwb/ai-content-creation-sub005/internal/registry"
)

var (
	// ErrInvalidInput wraps submission validation failures
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotCancellable is returned when cancelling a run that already finished
	ErrNotCancellable = errors.New("run is not cancellable")
)

// Service coordinates run submission, bounded concurrent execution,
// cancellation and refinement lifecycle on top of the store and the
// progress hub.
type Service struct {
	store    *jobstore.Store
	registry *registry.Registry
	hub      *progress.Hub
	stages   map[string]engine.Stage
	resolver *chain.Resolver
	notifier notify.Notifier
	pool     *Pool

	mu   sync.Mutex
	live map[string]*engine.Context

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a service executing at most maxConcurrentRuns runs at a time.
// A nil notifier disables notifications.
func New(store *jobstore.Store, reg *registry.Registry, hub *progress.Hub, stages map[string]engine.Stage, notifier notify.Notifier, maxConcurrentRuns int) *Service {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    store,
		registry: reg,
		hub:      hub,
		stages:   stages,
		resolver: chain.New(store),
		notifier: notifier,
		pool:     NewPool(maxConcurrentRuns),
		live:     make(map[string]*engine.Context),
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// SubmitRun validates the request, resolves the mode's stage list, persists
// a pending run and schedules it for execution. Configuration errors surface
// before any row is written.
func (s *Service) SubmitRun(mode domain.RunMode, input domain.InputSnapshot, flags registry.Flags) (*domain.Run, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if input.NumVariants <= 0 {
		input.NumVariants = 1
	}

	stageList, err := s.registry.ResolveStageList(mode, flags)
	if err != nil {
		return nil, err
	}
	impls, err := s.stageImpls(stageList)
	if err != nil {
		return nil, err
	}

	run := &domain.Run{
		ID:        uuid.NewString(),
		Mode:      mode,
		Status:    domain.RunPending,
		Input:     input,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateRun(run); err != nil {
		return nil, err
	}

	rc := engine.NewContext(run.ID, mode, input)
	s.schedule(run, rc, impls, nil)
	return run, nil
}

// RefinementRequest is a submission against an existing run's output
type RefinementRequest struct {
	ParentRunID string
	Parent      domain.ParentRef
	Type        domain.RefinementType
	Instruction string
}

// SubmitRefinement validates the parent reference, resolves the ancestry
// chain and schedules a refinement job with its companion run. Resolution
// failures surface before any row is written.
func (s *Service) SubmitRefinement(req RefinementRequest) (*domain.RefinementJob, error) {
	if err := req.Parent.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown refinement type %q", ErrInvalidInput, req.Type)
	}

	stageList, err := s.registry.ResolveStageList(domain.ModeRefinement, registry.Flags{RefinementType: req.Type})
	if err != nil {
		return nil, err
	}
	impls, err := s.stageImpls(stageList)
	if err != nil {
		return nil, err
	}

	seed, err := s.resolver.ResolveParent(req.ParentRunID, req.Parent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &domain.Run{
		ID:     uuid.NewString(),
		Mode:   domain.ModeRefinement,
		Status: domain.RunPending,
		Input: domain.InputSnapshot{
			Prompt:      req.Instruction,
			NumVariants: 1,
		},
		CreatedAt: now,
	}
	job := &domain.RefinementJob{
		ID:          uuid.NewString(),
		ParentRunID: seed.OriginRunID,
		Parent:      req.Parent,
		Type:        req.Type,
		Status:      domain.RunPending,
		RunID:       run.ID,
		Instruction: req.Instruction,
		CreatedAt:   now,
	}
	if err := s.store.CreateRun(run); err != nil {
		return nil, err
	}
	if err := s.store.CreateRefinementJob(job); err != nil {
		return nil, err
	}

	rc := engine.NewContext(run.ID, domain.ModeRefinement, run.Input)
	rc.Ancestry = seed
	s.schedule(run, rc, impls, job)
	return job, nil
}

// Cancel requests cooperative cancellation of a run. A live run stops at the
// next stage boundary; a queued run that never started is finalized directly.
func (s *Service) Cancel(runID string) error {
	s.mu.Lock()
	rc := s.live[runID]
	s.mu.Unlock()

	if rc != nil {
		rc.RequestCancel()
		return nil
	}

	run, err := s.store.GetRun(runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is %s", ErrNotCancellable, runID, run.Status)
	}
	return s.store.MarkRunFinished(runID, domain.RunCancelled, "", run.CostUSD, time.Now())
}

// CancelRefinement cancels the refinement's companion run.
func (s *Service) CancelRefinement(jobID string) error {
	job, err := s.store.GetRefinementJob(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: refinement %s is %s", ErrNotCancellable, jobID, job.Status)
	}
	return s.Cancel(job.RunID)
}

// Run returns a run with its ordered stage records.
func (s *Service) Run(id string) (*domain.Run, error) {
	return s.store.GetRun(id)
}

// Runs lists runs, newest first.
func (s *Service) Runs(opts jobstore.ListOptions) ([]*domain.Run, error) {
	return s.store.ListRuns(opts)
}

// Refinement returns one refinement job.
func (s *Service) Refinement(id string) (*domain.RefinementJob, error) {
	return s.store.GetRefinementJob(id)
}

// Refinements lists every refinement descending from the given run.
func (s *Service) Refinements(parentRunID string) ([]*domain.RefinementJob, error) {
	return s.store.ListRefinementJobs(parentRunID)
}

// Logs returns a run's log lines in order.
func (s *Service) Logs(runID string) ([]domain.LogEntry, error) {
	return s.store.ListRunLogs(runID)
}

// ActiveRuns returns how many runs are queued or executing.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// AvailableSlots returns how many run slots are free.
func (s *Service) AvailableSlots() int {
	return s.pool.Available()
}

// Shutdown stops accepting slot acquisitions and waits for in-flight runs
// until the context expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) stageImpls(names []string) ([]engine.Stage, error) {
	impls := make([]engine.Stage, len(names))
	for i, name := range names {
		impl, ok := s.stages[name]
		if !ok {
			return nil, fmt.Errorf("no implementation registered for stage %s", name)
		}
		impls[i] = impl
	}
	return impls, nil
}

func (s *Service) schedule(run *domain.Run, rc *engine.Context, impls []engine.Stage, job *domain.RefinementJob) {
	s.mu.Lock()
	s.live[run.ID] = rc
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(run, rc, impls, job)
}

func (s *Service) execute(run *domain.Run, rc *engine.Context, impls []engine.Stage, job *domain.RefinementJob) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.live, run.ID)
		s.mu.Unlock()
	}()

	if err := s.pool.AcquireWait(s.baseCtx); err != nil {
		// Shutdown before the run got a slot
		if err := s.store.MarkRunFinished(run.ID, domain.RunCancelled, "orchestrator shutdown", 0, time.Now()); err != nil {
			log.Printf("run %s: finalize on shutdown: %v", run.ID, err)
		}
		return
	}
	defer s.pool.Release()

	if job != nil {
		if err := s.store.MarkRefinementStarted(job.ID, time.Now()); err != nil {
			log.Printf("refinement %s: mark started: %v", job.ID, err)
		}
	}

	exec := engine.New(s.store, s.hub, func(stage string) bool {
		return s.registry.IsRequired(run.Mode, stage)
	})
	status := exec.Run(s.baseCtx, rc, impls)

	if job != nil {
		s.finishRefinement(job, rc, status)
	}
	s.notifyTerminal(run.ID)
}

func (s *Service) finishRefinement(job *domain.RefinementJob, rc *engine.Context, status domain.RunStatus) {
	var artifact, summary, errMsg string
	if status == domain.RunCompleted {
		if v, ok := rc.Get("save"); ok {
			if out, ok := v.(domain.RefineOutput); ok {
				artifact = out.ArtifactRef
				summary = out.Summary
			}
		}
	} else if run, err := s.store.GetRun(rc.RunID); err == nil {
		errMsg = run.ErrorMessage
	}
	if err := s.store.MarkRefinementFinished(job.ID, status, errMsg, artifact, summary, rc.CostUSD(), time.Now()); err != nil {
		log.Printf("refinement %s: mark finished: %v", job.ID, err)
	}
}

func (s *Service) notifyTerminal(runID string) {
	run, err := s.store.GetRun(runID)
	if err != nil {
		log.Printf("run %s: load for notification: %v", runID, err)
		return
	}
	if err := s.notifier.Send(notify.ForRun(run)); err != nil {
		log.Printf("run %s: notify: %v", runID, err)
	}
}
