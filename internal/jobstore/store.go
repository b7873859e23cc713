// Package jobstore provides SQLite-backed persistence for runs, their stage
// records and logs, and refinement jobs. It is the only mutable resource
// shared across concurrently executing runs; writes are serialized so each
// row has a single writer at a time.
package jobstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run or refinement job does not exist
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed job persistence
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}

	// Run migrations
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run row
func (s *Store) CreateRun(run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, mode, status, input_json, cost_usd, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		string(run.Mode),
		string(run.Status),
		string(inputJSON),
		run.CostUSD,
		run.ErrorMessage,
		run.CreatedAt,
	)
	return err
}

// GetRun retrieves a run with its stage records, ordered by stage index
func (s *Store) GetRun(id string) (*domain.Run, error) {
	row := s.db.QueryRow(`
		SELECT id, mode, status, input_json, cost_usd, error_message, created_at, started_at, completed_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT id, run_id, name, stage_order, status, message, output_json, error_message, error_kind, started_at, completed_at, duration_seconds
		FROM stage_records WHERE run_id = ? ORDER BY stage_order
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanStageRecord(rows)
		if err != nil {
			return nil, err
		}
		run.Stages = append(run.Stages, rec)
	}
	return run, rows.Err()
}

// ListOptions specifies filters for listing runs
type ListOptions struct {
	Mode   domain.RunMode
	Status domain.RunStatus
	Limit  int
}

// ListRuns returns runs matching the given options, newest first, without
// their stage records
func (s *Store) ListRuns(opts ListOptions) ([]*domain.Run, error) {
	query := `SELECT id, mode, status, input_json, cost_usd, error_message, created_at, started_at, completed_at FROM runs WHERE 1=1`
	var args []interface{}

	if opts.Mode != "" {
		query += " AND mode = ?"
		args = append(args, string(opts.Mode))
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkRunStarted moves a run to running and records the start time
func (s *Store) MarkRunStarted(runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE runs SET status = ?, started_at = ? WHERE id = ?`,
		string(domain.RunRunning), at, runID)
	return err
}

// MarkRunFinished records a run's terminal status, cost and completion time
func (s *Store) MarkRunFinished(runID string, status domain.RunStatus, errMsg string, costUSD float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE runs SET status = ?, error_message = ?, cost_usd = ?, completed_at = ?
		WHERE id = ?
	`, string(status), errMsg, costUSD, at, runID)
	return err
}

// CreateStageRecords inserts a run's full stage list in one transaction and
// assigns the generated record IDs
func (s *Store) CreateStageRecords(records []*domain.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range records {
		res, err := tx.Exec(`
			INSERT INTO stage_records (run_id, name, stage_order, status, message)
			VALUES (?, ?, ?, ?, ?)
		`, rec.RunID, rec.Name, rec.Order, string(rec.Status), rec.Message)
		if err != nil {
			return err
		}
		rec.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateStageRecord persists a stage record's current state
func (s *Store) UpdateStageRecord(rec *domain.StageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var output any
	if len(rec.Output) > 0 {
		output = string(rec.Output)
	}
	_, err := s.db.Exec(`
		UPDATE stage_records
		SET status = ?, message = ?, output_json = ?, error_message = ?, error_kind = ?,
		    started_at = ?, completed_at = ?, duration_seconds = ?
		WHERE id = ?
	`,
		string(rec.Status),
		rec.Message,
		output,
		rec.ErrorMessage,
		string(rec.ErrorKind),
		rec.StartedAt,
		rec.CompletedAt,
		rec.DurationSeconds,
		rec.ID,
	)
	return err
}

// AppendRunLogs appends structured log entries for a run
func (s *Store) AppendRunLogs(runID string, entries []domain.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.Exec(`
			INSERT INTO run_logs (run_id, timestamp, level, message) VALUES (?, ?, ?, ?)
		`, runID, e.Timestamp, e.Level, e.Message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListRunLogs returns a run's log entries in insertion order
func (s *Store) ListRunLogs(runID string) ([]domain.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, timestamp, level, message FROM run_logs WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		var level, message sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Timestamp, &level, &message); err != nil {
			return nil, err
		}
		e.Level = level.String
		e.Message = message.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StageSnapshot returns the current state of every stage record of a run as
// progress updates, for replay to late subscribers
func (s *Store) StageSnapshot(runID string) ([]domain.ProgressUpdate, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	updates := make([]domain.ProgressUpdate, 0, len(run.Stages))
	for _, rec := range run.Stages {
		updates = append(updates, domain.ProgressFromRecord(rec))
	}
	return updates, nil
}

// CreateRefinementJob inserts a new refinement job row
func (s *Store) CreateRefinementJob(job *domain.RefinementJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var genIndex any
	if job.Parent.GenerationIndex != nil {
		genIndex = *job.Parent.GenerationIndex
	}
	_, err := s.db.Exec(`
		INSERT INTO refinement_jobs (id, parent_run_id, parent_image_id, parent_image_type, generation_index,
			refinement_type, status, run_id, instruction, summary, artifact_ref, cost_usd, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.ParentRunID,
		job.Parent.ID,
		string(job.Parent.Kind),
		genIndex,
		string(job.Type),
		string(job.Status),
		job.RunID,
		job.Instruction,
		job.Summary,
		job.ArtifactRef,
		job.CostUSD,
		job.ErrorMessage,
		job.CreatedAt,
	)
	return err
}

// GetRefinementJob retrieves a refinement job by ID
func (s *Store) GetRefinementJob(id string) (*domain.RefinementJob, error) {
	row := s.db.QueryRow(`
		SELECT id, parent_run_id, parent_image_id, parent_image_type, generation_index, refinement_type,
			status, run_id, instruction, summary, artifact_ref, cost_usd, error_message, created_at, started_at, completed_at
		FROM refinement_jobs WHERE id = ?
	`, id)
	return scanRefinementJob(row)
}

// ListRefinementJobs returns the flat list of refinement jobs for a run,
// oldest first. Depth is unbounded, so no tree is pre-built.
func (s *Store) ListRefinementJobs(parentRunID string) ([]*domain.RefinementJob, error) {
	rows, err := s.db.Query(`
		SELECT id, parent_run_id, parent_image_id, parent_image_type, generation_index, refinement_type,
			status, run_id, instruction, summary, artifact_ref, cost_usd, error_message, created_at, started_at, completed_at
		FROM refinement_jobs WHERE parent_run_id = ? ORDER BY created_at
	`, parentRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.RefinementJob
	for rows.Next() {
		job, err := scanRefinementJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkRefinementStarted moves a refinement job to running
func (s *Store) MarkRefinementStarted(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE refinement_jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(domain.RunRunning), at, id)
	return err
}

// MarkRefinementFinished records a refinement job's terminal state
func (s *Store) MarkRefinementFinished(id string, status domain.RunStatus, errMsg, artifactRef, summary string, costUSD float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		UPDATE refinement_jobs
		SET status = ?, error_message = ?, artifact_ref = ?, summary = ?, cost_usd = ?, completed_at = ?
		WHERE id = ?
	`, string(status), errMsg, artifactRef, summary, costUSD, at, id)
	return err
}

// PruneTerminalRunsBefore deletes terminal runs completed before cutoff,
// together with their stage records and logs. Runs that still have
// refinement jobs are kept so ancestry stays resolvable. Returns the number
// of runs deleted.
func (s *Store) PruneTerminalRunsBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	where := `
		status IN ('completed', 'failed', 'cancelled')
		AND completed_at IS NOT NULL AND completed_at < ?
		AND id NOT IN (SELECT parent_run_id FROM refinement_jobs)
		AND id NOT IN (SELECT run_id FROM refinement_jobs WHERE run_id IS NOT NULL)
	`
	if _, err := tx.Exec(`DELETE FROM stage_records WHERE run_id IN (SELECT id FROM runs WHERE `+where+`)`, cutoff); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(`DELETE FROM run_logs WHERE run_id IN (SELECT id FROM runs WHERE `+where+`)`, cutoff); err != nil {
		return 0, err
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE `+where, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// scanner abstracts *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var mode, status string
	var inputJSON, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&run.ID, &mode, &status, &inputJSON, &run.CostUSD, &errMsg, &run.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	run.Mode = domain.RunMode(mode)
	run.Status = domain.RunStatus(status)
	run.ErrorMessage = errMsg.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &run.Input); err != nil {
			return nil, err
		}
	}
	return &run, nil
}

func scanStageRecord(row scanner) (*domain.StageRecord, error) {
	var rec domain.StageRecord
	var status string
	var message, outputJSON, errMsg, errKind sql.NullString
	var startedAt, completedAt sql.NullTime
	var duration sql.NullFloat64

	err := row.Scan(&rec.ID, &rec.RunID, &rec.Name, &rec.Order, &status, &message, &outputJSON, &errMsg, &errKind, &startedAt, &completedAt, &duration)
	if err != nil {
		return nil, err
	}

	rec.Status = domain.StageStatus(status)
	rec.Message = message.String
	rec.ErrorMessage = errMsg.String
	rec.ErrorKind = domain.ErrorKind(errKind.String)
	if outputJSON.Valid && outputJSON.String != "" {
		rec.Output = []byte(outputJSON.String)
	}
	if startedAt.Valid {
		rec.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	rec.DurationSeconds = duration.Float64
	return &rec, nil
}

func scanRefinementJob(row scanner) (*domain.RefinementJob, error) {
	var job domain.RefinementJob
	var kind, refType, status string
	var genIndex sql.NullInt64
	var runID, instruction, summary, artifactRef, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.ParentRunID, &job.Parent.ID, &kind, &genIndex, &refType,
		&status, &runID, &instruction, &summary, &artifactRef, &job.CostUSD, &errMsg,
		&job.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("refinement job: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	job.Parent.Kind = domain.ParentKind(kind)
	if genIndex.Valid {
		idx := int(genIndex.Int64)
		job.Parent.GenerationIndex = &idx
	}
	job.Type = domain.RefinementType(refType)
	job.Status = domain.RunStatus(status)
	job.RunID = runID.String
	job.Instruction = instruction.String
	job.Summary = summary.String
	job.ArtifactRef = artifactRef.String
	job.ErrorMessage = errMsg.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}
