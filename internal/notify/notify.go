package notify

import (
	"fmt"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional run reference
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }

// ForRun builds a notification for a run that reached a terminal status.
func ForRun(run *domain.Run) Notification {
	n := Notification{
		Title: fmt.Sprintf("%s run %s", run.Mode, run.Status),
		RunID: run.ID,
	}
	switch run.Status {
	case domain.RunCompleted:
		n.Type = NotifySuccess
		n.Message = fmt.Sprintf("completed in %s, cost $%.4f", runDuration(run), run.CostUSD)
	case domain.RunFailed:
		n.Type = NotifyError
		n.Message = "run failed, see stage records for details"
	case domain.RunCancelled:
		n.Type = NotifyWarning
		n.Message = "run cancelled by user"
	default:
		n.Type = NotifyInfo
		n.Message = string(run.Status)
	}
	return n
}

func runDuration(run *domain.Run) string {
	if run.StartedAt == nil || run.CompletedAt == nil {
		return "unknown"
	}
	return run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond).String()
}
