package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/volley/internal/events"
)

// handleEvents returns buffered progress events newer than ?since= as JSON, or
// streams them as server-sent events when the client asks for text/event-stream.
// ?dispatch_id= narrows either form to one dispatch.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	since := parseEventID(r.URL.Query().Get("since"))
	dispatchID := r.URL.Query().Get("dispatch_id")
	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		respondJSON(w, http.StatusOK, events.ForDispatch(s.events.Since(since), dispatchID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if id := parseEventID(r.Header.Get("Last-Event-ID")); id > since {
		since = id
	}

	// Subscribe before replaying so nothing published in between is lost.
	ch, cancel := s.events.Subscribe(256)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	last := since
	for _, ev := range events.ForDispatch(s.events.Since(since), dispatchID) {
		if err := writeSSE(w, ev); err != nil {
			return
		}
		last = ev.ID
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.ID <= last || (dispatchID != "" && ev.DispatchID != dispatchID) {
				continue
			}
			if err := writeSSE(w, ev); err != nil {
				return
			}
			last = ev.ID
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func parseEventID(v string) int64 {
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// writeSSE sends the full event envelope, dispatch id included, as the data line.
func writeSSE(w http.ResponseWriter, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}
