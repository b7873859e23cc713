package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-host or reverse-proxied; origin policy lives there.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// runEvents streams a run's progress as server-sent events. The subscription
// replays the current stage snapshot before live events, so a client that
// connects mid-run converges without polling.
func (s *Server) runEvents(w http.ResponseWriter, r *http.Request, runID string) {
	if _, err := s.svc.Run(runID); err != nil {
		mapError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	sub := s.hub.Subscribe(runID)
	defer sub.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\n", ev.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// runSocket streams the same events over a websocket
func (s *Server) runSocket(w http.ResponseWriter, r *http.Request, runID string) {
	if _, err := s.svc.Run(runID); err != nil {
		mapError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade for run %s: %v", runID, err)
		return
	}
	defer conn.Close()

	sub := s.hub.Subscribe(runID)
	defer sub.Close()

	// Reader goroutine: surface client disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
