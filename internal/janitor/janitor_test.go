package janitor

import (
	"errors"
	"testing"
	"time"
)

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New("not a cron", time.Hour, func(time.Time) (int64, error) { return 0, nil })
	if err == nil {
		t.Fatal("expected error for bad cron expression")
	}
}

func TestNew_InvalidMaxAge(t *testing.T) {
	_, err := New("0 3 * * *", 0, func(time.Time) (int64, error) { return 0, nil })
	if err == nil {
		t.Fatal("expected error for zero max age")
	}
}

func TestRunOnce_CutoffRespectsMaxAge(t *testing.T) {
	var gotCutoff time.Time
	j, err := New("0 3 * * *", 48*time.Hour, func(cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 3, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	pruned, err := j.RunOnce()
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 3 {
		t.Errorf("pruned = %d, want 3", pruned)
	}

	want := time.Now().Add(-48 * time.Hour)
	if diff := gotCutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff %v not near %v", gotCutoff, want)
	}
}

func TestRunOnce_PropagatesError(t *testing.T) {
	wantErr := errors.New("db locked")
	j, err := New("* * * * *", time.Hour, func(time.Time) (int64, error) { return 0, wantErr })
	if err != nil {
		t.Fatal(err)
	}

	if _, err := j.RunOnce(); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestShouldRun(t *testing.T) {
	j, err := New("* * * * *", time.Hour, func(time.Time) (int64, error) { return 0, nil })
	if err != nil {
		t.Fatal(err)
	}

	// Never run before, every-minute schedule: due immediately
	if !j.ShouldRun(time.Now()) {
		t.Error("every-minute schedule should be due on first check")
	}

	j.markRunning(true)
	if j.ShouldRun(time.Now()) {
		t.Error("should not be due while a prune is in flight")
	}
	j.markRunning(false)

	// Just completed: not due again until the next minute boundary passes
	if j.ShouldRun(time.Now()) {
		t.Error("should not be due immediately after completion")
	}
	if !j.ShouldRun(time.Now().Add(2 * time.Minute)) {
		t.Error("should be due again after the schedule elapses")
	}
}

func TestStop_Twice(t *testing.T) {
	j, err := New("0 3 * * *", time.Hour, func(time.Time) (int64, error) { return 0, nil })
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		j.Start()
		close(done)
	}()

	j.Stop()
	j.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
