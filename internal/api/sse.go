package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/wfr/daq-telemetry/internal/broker"
)

// heartbeatInterval bounds SSE idleness per spec.md §4.7/§6 ("at least
// every 15 s").
const heartbeatInterval = 15 * time.Second

// streamHandler implements GET /api/stream (spec.md §6): an initial
// connected hint and retry advisory, Last-Event-ID replay, then live tail
// with a heartbeat comment on idleness.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\nretry: 5000\n\n")
	flusher.Flush()

	if lastID, err := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64); err == nil {
		for _, ev := range s.broker.ReplaySince(lastID) {
			writeSSEEvent(w, ev)
		}
		flusher.Flush()
	}

	sub, cancel := s.broker.Subscribe(r.Context())
	defer cancel()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			flusher.Flush()
			ticker.Reset(heartbeatInterval)
		case <-ticker.C:
			fmt.Fprint(w, ":\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev broker.Event) {
	body, err := json.Marshal(toAPIRecord(ev.Record))
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: can\nid: %d\ndata: %s\n\n", ev.ID, body)
}
