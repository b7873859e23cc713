// Package progress fans stage-status events out to live subscribers, one
// channel per run. Late subscribers get a snapshot replay before any live
// event; slow subscribers lose oldest events first, never blocking the
// executor.
package progress

import (
	"log"
	"sync"
	"time"

	"github.com/chuahwb/ai-content-creation-sub005/internal/domain"
)

// EventType distinguishes payload events from transport keep-alives
type EventType string

const (
	EventStageUpdate EventType = "stage_update"
	EventHeartbeat   EventType = "heartbeat"
)

// Event is what subscribers receive
type Event struct {
	Type   EventType              `json:"type"`
	Update *domain.ProgressUpdate `json:"data,omitempty"`
}

// SnapshotFunc loads the current state of every stage record for a run, used
// to replay state to subscribers that connect mid-run.
type SnapshotFunc func(runID string) ([]domain.ProgressUpdate, error)

// subscriberBuffer is the channel capacity per subscriber. When it fills the
// oldest pending event is dropped; consumers apply updates last-write-wins so
// they converge on latest state regardless.
const subscriberBuffer = 64

// Subscription is one subscriber's event stream
type Subscription struct {
	C     <-chan Event
	ch    chan Event
	runID string
	hub   *Hub
	once  sync.Once
}

// Close detaches the subscription and closes its channel
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub distributes progress events per run. Safe for concurrent use across
// runs.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]map[*Subscription]bool
	snapshot SnapshotFunc
	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. snapshot may be nil, in which case late subscribers
// receive live events only.
func NewHub(snapshot SnapshotFunc) *Hub {
	return &Hub{
		subs:     make(map[string]map[*Subscription]bool),
		snapshot: snapshot,
		stop:     make(chan struct{}),
	}
}

// StartHeartbeat emits a keep-alive to every subscriber at the given
// interval so transport idle timeouts do not masquerade as failures.
func (h *Hub) StartHeartbeat(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-h.stop:
				return
			case <-ticker.C:
				h.mu.RLock()
				for _, subs := range h.subs {
					for sub := range subs {
						deliver(sub.ch, Event{Type: EventHeartbeat})
					}
				}
				h.mu.RUnlock()
			}
		}
	}()
}

// Stop shuts down the heartbeat loop
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Subscribe attaches a new subscriber to a run's event stream. The snapshot
// replay is enqueued before the subscriber joins the live set, so it never
// observes a live event ahead of the replayed state it supersedes.
func (h *Hub) Subscribe(runID string) *Subscription {
	sub := &Subscription{
		ch:    make(chan Event, subscriberBuffer),
		runID: runID,
	}
	sub.C = sub.ch
	sub.hub = h

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.snapshot != nil {
		updates, err := h.snapshot(runID)
		if err != nil {
			log.Printf("progress: snapshot for run %s: %v", runID, err)
		}
		for i := range updates {
			deliver(sub.ch, Event{Type: EventStageUpdate, Update: &updates[i]})
		}
	}

	if h.subs[runID] == nil {
		h.subs[runID] = make(map[*Subscription]bool)
	}
	h.subs[runID][sub] = true
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.runID]; ok {
		if subs[sub] {
			delete(subs, sub)
			close(sub.ch)
		}
		if len(subs) == 0 {
			delete(h.subs, sub.runID)
		}
	}
}

// Publish fans an update out to the run's current subscribers. Best-effort:
// zero subscribers is fine (terminal state is recoverable via the snapshot
// replay), and a full subscriber drops its oldest pending event instead of
// blocking the caller.
func (h *Hub) Publish(runID string, update domain.ProgressUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[runID] {
		u := update
		deliver(sub.ch, Event{Type: EventStageUpdate, Update: &u})
	}
}

// SubscriberCount returns the number of live subscribers for a run
func (h *Hub) SubscriberCount(runID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[runID])
}

// deliver sends without blocking: on a full buffer it discards the oldest
// pending event to make room, keeping the newest state flowing.
func deliver(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
