package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/taskgrid/internal/store"
)

// attributeBuffer bounds the updates queued for a slow SSE client. Updates
// beyond it are dropped.
const attributeBuffer = 64

// doneEvent is the payload of the final "done" event.
type doneEvent struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f, live := s.engine.Lookup(id)
	if !live {
		_, err := s.store.GetTask(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		if err != nil {
			s.logger.Error("get task for events", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to get task")
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Finished tasks get an empty stream.
	if !live {
		w.WriteHeader(http.StatusOK)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	updates := make(chan map[string]any, attributeBuffer)
	remove := f.Session().OnAttributes(func(attrs map[string]any) {
		select {
		case updates <- attrs:
		default:
		}
	})
	defer remove()
	eventStreamsActive.Inc()
	defer eventStreamsActive.Dec()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case attrs := <-updates:
			if err := s.writeAttributes(w, id, attrs); err != nil {
				return
			}
			if canFlush {
				flusher.Flush()
			}
		case <-f.Done():
			for len(updates) > 0 {
				if err := s.writeAttributes(w, id, <-updates); err != nil {
					return
				}
			}
			final := doneEvent{State: f.State()}
			if _, err := f.Get(r.Context()); err != nil {
				final.Error = err.Error()
			}
			b, _ := json.Marshal(final)
			_ = writeSSEEvent(w, "done", string(b))
			if canFlush {
				flusher.Flush()
			}
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeAttributes(w http.ResponseWriter, id string, attrs map[string]any) error {
	b, err := json.Marshal(attrs)
	if err != nil {
		s.logger.Warn("attributes are not JSON encodable", "session_id", id, "error", err)
		return nil
	}
	return writeSSEEvent(w, "attributes", string(b))
}

// writeSSEData writes data as an SSE data event. Multi-line strings are
// split so that each segment gets its own "data:" prefix.
func writeSSEData(w http.ResponseWriter, data string) error {
	for seg := range strings.SplitSeq(data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", seg); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}

// writeSSEEvent writes a named SSE event.
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	return writeSSEData(w, data)
}
