package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chuahwb/ai-content-creation-sub005/web/api"
)

// Client fetches orchestrator state for display
type Client interface {
	Status() (api.StatusResponse, error)
	Runs() ([]api.RunResponse, error)
	Run(id string) (api.RunResponse, error)
}

// Model is the TUI application model
type Model struct {
	client Client

	// Data
	runs   []api.RunResponse
	status api.StatusResponse
	detail *api.RunResponse

	// UI state
	width       int
	height      int
	selectedRow int
	scroll      int
	err         error

	// Refresh
	lastRefresh time.Time
}

// NewModel creates a new TUI model
func NewModel(client Client) Model {
	return Model{client: client}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(refreshCmd(m.client), tickCmd())
}

// TickMsg triggers a refresh
type TickMsg time.Time

// RunsMsg carries a refreshed run list
type RunsMsg struct {
	Status api.StatusResponse
	Runs   []api.RunResponse
	Err    error
}

// DetailMsg carries one run's full state including stage records
type DetailMsg struct {
	Run api.RunResponse
	Err error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func refreshCmd(client Client) tea.Cmd {
	return func() tea.Msg {
		status, err := client.Status()
		if err != nil {
			return RunsMsg{Err: err}
		}
		runs, err := client.Runs()
		return RunsMsg{Status: status, Runs: runs, Err: err}
	}
}

func detailCmd(client Client, id string) tea.Cmd {
	return func() tea.Msg {
		run, err := client.Run(id)
		return DetailMsg{Run: run, Err: err}
	}
}
