package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
)

// Outcome is what a stage reports on success
type Outcome struct {
	// Output is the stage's typed payload. It is stored in the context under
	// the stage's name and serialized into the stage record.
	Output any
	// Message is a short human-readable summary for progress display.
	Message string
}

// Stage is one named unit of work within a run. Implementations report
// domain failures through the returned error; retries against external
// services are their own concern and invisible to the executor.
type Stage interface {
	Name() string
	Execute(ctx context.Context, rc *Context) (Outcome, error)
}

// Store is the persistence surface the executor writes through. All methods
// must be safe for concurrent use across runs.
type Store interface {
	MarkRunStarted(runID string, at time.Time) error
	MarkRunFinished(runID string, status domain.RunStatus, errMsg string, costUSD float64, at time.Time) error
	CreateStageRecords(records []*domain.StageRecord) error
	UpdateStageRecord(rec *domain.StageRecord) error
	AppendRunLogs(runID string, entries []domain.LogEntry) error
}

// Publisher fans stage transitions out to live subscribers. Publish must
// never block on a slow subscriber.
type Publisher interface {
	Publish(runID string, update domain.ProgressUpdate)
}

// Executor drives one run through its resolved stage list. One instance per
// run; instances share only the store and the publisher.
type Executor struct {
	store Store
	pub   Publisher
	// required reports whether a stage's failure aborts the run.
	required func(stage string) bool
}

// New creates an executor. If required is nil every stage is treated as
// required.
func New(store Store, pub Publisher, required func(stage string) bool) *Executor {
	if required == nil {
		required = func(string) bool { return true }
	}
	return &Executor{store: store, pub: pub, required: required}
}

// Run executes the stages in order and returns the run's terminal status.
// It always reaches a terminal status: stage failures and panics are
// recorded, never propagated.
func (e *Executor) Run(ctx context.Context, rc *Context, stages []Stage) domain.RunStatus {
	now := time.Now()
	if err := e.store.MarkRunStarted(rc.RunID, now); err != nil {
		log.Printf("run %s: mark started: %v", rc.RunID, err)
	}

	records := make([]*domain.StageRecord, len(stages))
	for i, s := range stages {
		records[i] = &domain.StageRecord{
			RunID:  rc.RunID,
			Name:   s.Name(),
			Order:  i,
			Status: domain.StagePending,
		}
	}
	if err := e.store.CreateStageRecords(records); err != nil {
		log.Printf("run %s: create stage records: %v", rc.RunID, err)
	}

	status := domain.RunCompleted
	var runErrMsg string

	for i, stage := range stages {
		if rc.CancelRequested() || ctx.Err() != nil {
			e.skipRemaining(records[i:], "cancelled")
			status = domain.RunCancelled
			break
		}

		rec := records[i]
		started := time.Now()
		rec.Status = domain.StageRunning
		rec.StartedAt = &started
		rec.Message = fmt.Sprintf("running %s", rec.Name)
		e.persistAndPublish(rec)

		outcome, stageErr, defect := e.invoke(ctx, stage, rc)

		finished := time.Now()
		rec.CompletedAt = &finished
		rec.DurationSeconds = finished.Sub(started).Seconds()

		if stageErr == nil {
			rc.Set(rec.Name, outcome.Output)
			rec.Status = domain.StageCompleted
			rec.Message = outcome.Message
			if rec.Message == "" {
				rec.Message = fmt.Sprintf("%s completed", rec.Name)
			}
			if outcome.Output != nil {
				data, err := json.Marshal(outcome.Output)
				if err != nil {
					log.Printf("run %s: marshal %s output: %v", rc.RunID, rec.Name, err)
				} else {
					rec.Output = data
				}
			}
			e.persistAndPublish(rec)
			e.flushLogs(rc)
			continue
		}

		rec.Status = domain.StageFailed
		rec.ErrorMessage = stageErr.Error()
		rec.ErrorKind = domain.ErrorKindStage
		rec.Message = fmt.Sprintf("%s failed", rec.Name)
		if defect {
			rec.ErrorKind = domain.ErrorKindDefect
			rec.Message = fmt.Sprintf("%s failed unexpectedly", rec.Name)
		}
		e.persistAndPublish(rec)
		e.flushLogs(rc)

		if e.required(rec.Name) {
			e.skipRemaining(records[i+1:], "required stage failed")
			status = domain.RunFailed
			runErrMsg = fmt.Sprintf("stage %s: %s", rec.Name, stageErr.Error())
			break
		}
		rc.Logf("warning", "optional stage %s failed: %v", rec.Name, stageErr)
	}

	e.flushLogs(rc)
	if err := e.store.MarkRunFinished(rc.RunID, status, runErrMsg, rc.CostUSD(), time.Now()); err != nil {
		log.Printf("run %s: mark finished: %v", rc.RunID, err)
	}
	return status
}

// invoke calls the stage with panic containment. A panic is a defect, not a
// domain failure, and is tagged distinctly for triage.
func (e *Executor) invoke(ctx context.Context, stage Stage, rc *Context) (outcome Outcome, err error, defect bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in stage %s: %v", stage.Name(), r)
			defect = true
		}
	}()
	outcome, err = stage.Execute(ctx, rc)
	return
}

// skipRemaining marks every not-yet-started stage SKIPPED with the given reason
func (e *Executor) skipRemaining(records []*domain.StageRecord, reason string) {
	for _, rec := range records {
		if rec.Status.IsTerminal() {
			continue
		}
		rec.Status = domain.StageSkipped
		rec.Message = fmt.Sprintf("skipped: %s", reason)
		e.persistAndPublish(rec)
	}
}

func (e *Executor) persistAndPublish(rec *domain.StageRecord) {
	if err := e.store.UpdateStageRecord(rec); err != nil {
		log.Printf("run %s: persist stage %s: %v", rec.RunID, rec.Name, err)
	}
	e.pub.Publish(rec.RunID, domain.ProgressFromRecord(rec))
}

func (e *Executor) flushLogs(rc *Context) {
	entries := rc.DrainLogs()
	if len(entries) == 0 {
		return
	}
	if err := e.store.AppendRunLogs(rc.RunID, entries); err != nil {
		log.Printf("run %s: append logs: %v", rc.RunID, err)
	}
}
