package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleSSEEvents streams scheduler events via Server-Sent Events. The
// stream starts with everything the in-memory ring has retained, then
// follows new events as the simulation produces them.
// GET /api/v1/sse/events
func (s *Server) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.mem == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			newUnavailableError("live trace not configured"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	if err := sendSSEEvent(w, flusher, "init", map[string]any{
		"clock":    s.sim.Clock(),
		"retained": s.mem.Len(),
	}); err != nil {
		s.logger.Debug("sse client disconnected", "request_id", reqID, "error", err)
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastSeq uint64

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			recs := s.mem.Since(lastSeq)
			if len(recs) == 0 {
				// Heartbeat keeps idle connections alive.
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
				continue
			}
			for _, rec := range recs {
				if err := sendSSEEvent(w, flusher, "trace", rec); err != nil {
					s.logger.Debug("sse client disconnected", "request_id", reqID)
					return
				}
			}
			lastSeq = recs[len(recs)-1].Seq
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
