package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chuahwb/ai-content-creation-sub005/web/api"
)

type fakeClient struct {
	status api.StatusResponse
	runs   []api.RunResponse
	detail api.RunResponse
}

func (f *fakeClient) Status() (api.StatusResponse, error)   { return f.status, nil }
func (f *fakeClient) Runs() ([]api.RunResponse, error)      { return f.runs, nil }
func (f *fakeClient) Run(id string) (api.RunResponse, error) { return f.detail, nil }

func sampleRuns() []api.RunResponse {
	return []api.RunResponse{
		{ID: "run-1", Mode: "generation", Status: "running", Prompt: "a lighthouse", CreatedAt: time.Now().Format(time.RFC3339)},
		{ID: "run-2", Mode: "caption", Status: "completed", Prompt: "caption it", CreatedAt: time.Now().Format(time.RFC3339)},
		{ID: "run-3", Mode: "generation", Status: "failed", Prompt: "a bicycle", CreatedAt: time.Now().Format(time.RFC3339)},
	}
}

func sized(m Model) Model {
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func TestRunsMsgPopulatesModel(t *testing.T) {
	m := NewModel(&fakeClient{})

	updated, _ := m.Update(RunsMsg{
		Status: api.StatusResponse{Total: 3, ActiveRuns: 1},
		Runs:   sampleRuns(),
	})
	m = updated.(Model)

	if len(m.runs) != 3 {
		t.Errorf("runs = %d, want 3", len(m.runs))
	}
	if m.status.ActiveRuns != 1 {
		t.Errorf("ActiveRuns = %d, want 1", m.status.ActiveRuns)
	}
	if m.lastRefresh.IsZero() {
		t.Error("lastRefresh not set")
	}
}

func TestNavigationBounds(t *testing.T) {
	m := sized(NewModel(&fakeClient{}))
	updated, _ := m.Update(RunsMsg{Runs: sampleRuns()})
	m = updated.(Model)

	// Up at the top stays at 0
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	m = updated.(Model)
	if m.selectedRow != 0 {
		t.Errorf("selectedRow = %d, want 0", m.selectedRow)
	}

	// Down past the end stops at the last row
	for i := 0; i < 10; i++ {
		updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
		m = updated.(Model)
	}
	if m.selectedRow != 2 {
		t.Errorf("selectedRow = %d, want 2", m.selectedRow)
	}
}

func TestEnterShowsDetail(t *testing.T) {
	client := &fakeClient{detail: api.RunResponse{
		ID: "run-1", Mode: "generation", Status: "running",
		Stages: []api.StageResponse{
			{Name: "eval", Status: "completed"},
			{Name: "render", Status: "running"},
		},
	}}
	m := sized(NewModel(client))
	updated, _ := m.Update(RunsMsg{Runs: sampleRuns()})
	m = updated.(Model)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter should request run detail")
	}

	msg := cmd()
	detail, ok := msg.(DetailMsg)
	if !ok {
		t.Fatalf("cmd returned %T, want DetailMsg", msg)
	}

	updated, _ = m.Update(detail)
	m = updated.(Model)
	if m.detail == nil {
		t.Fatal("detail not set")
	}

	view := m.View()
	if !strings.Contains(view, "render") {
		t.Errorf("detail view missing stage name:\n%s", view)
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	if m.detail != nil {
		t.Error("esc should return to the run list")
	}
}

func TestViewRendersRunList(t *testing.T) {
	m := sized(NewModel(&fakeClient{}))
	updated, _ := m.Update(RunsMsg{
		Status: api.StatusResponse{Total: 3, ActiveRuns: 1, AvailableSlots: 2},
		Runs:   sampleRuns(),
	})
	m = updated.(Model)

	view := m.View()
	for _, want := range []string{"a lighthouse", "caption it", "Active: 1", "Slots: 2"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewEmpty(t *testing.T) {
	m := sized(NewModel(&fakeClient{}))
	if !strings.Contains(m.View(), "no runs yet") {
		t.Error("empty view should say so")
	}
}

func TestQuitKey(t *testing.T) {
	m := NewModel(&fakeClient{})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q should produce tea.Quit")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"a very long prompt indeed", 10, "a very ..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
