package janitor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// PruneFunc deletes terminal runs older than the cutoff and reports how
// many were removed.
type PruneFunc func(cutoff time.Time) (int64, error)

// Janitor prunes old run history on a cron schedule
type Janitor struct {
	schedule cron.Schedule
	maxAge   time.Duration
	prune    PruneFunc

	mu       sync.Mutex
	lastRun  time.Time
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a janitor. expr is a standard five-field cron expression and
// maxAge is how long terminal run history is kept.
func New(expr string, maxAge time.Duration, prune PruneFunc) (*Janitor, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", expr, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", maxAge)
	}
	return &Janitor{
		schedule: sched,
		maxAge:   maxAge,
		prune:    prune,
		stopChan: make(chan struct{}),
	}, nil
}

// ParseCron parses a cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextRun returns the next scheduled prune time
func (j *Janitor) NextRun() time.Time {
	return j.schedule.Next(time.Now())
}

// ShouldRun returns true when a prune is due and none is in flight
func (j *Janitor) ShouldRun(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return false
	}

	lastRun := j.lastRun
	if lastRun.IsZero() {
		lastRun = now.Add(-24 * time.Hour)
	}
	return now.After(j.schedule.Next(lastRun))
}

// RunOnce executes one prune pass immediately.
func (j *Janitor) RunOnce() (int64, error) {
	cutoff := time.Now().Add(-j.maxAge)
	return j.prune(cutoff)
}

// Start begins the scheduler loop. It blocks until Stop is called.
func (j *Janitor) Start() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-j.stopChan:
			return
		case <-ticker.C:
			if !j.ShouldRun(time.Now()) {
				continue
			}
			j.markRunning(true)
			go func() {
				defer j.markRunning(false)
				pruned, err := j.RunOnce()
				if err != nil {
					log.Printf("janitor: prune failed: %v", err)
					return
				}
				if pruned > 0 {
					log.Printf("janitor: pruned %d old runs", pruned)
				}
			}()
		}
	}
}

// Stop stops the scheduler loop
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopChan) })
}

func (j *Janitor) markRunning(v bool) {
	j.mu.Lock()
	j.running = v
	if !v {
		j.lastRun = time.Now()
	}
	j.mu.Unlock()
}
