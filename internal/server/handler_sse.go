package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/clusterq/pkg/model"
)

// handleSSEJob streams job state changes via Server-Sent Events until the
// job reaches a terminal state or the client disconnects.
// GET /api/v1/sse/jobs/{id}
func (s *Server) handleSSEJob(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(chi.URLParam(r, "id"))
	reqID := RequestIDFromContext(r.Context())

	job, ok := s.jobs.Get(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", string(id)))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if err := sendSSEEvent(w, flusher, "init", job); err != nil {
		s.logger.Debug("sse client disconnected", "job_id", id, "error", err)
		return
	}
	if job.IsTerminal() {
		sendSSEEvent(w, flusher, "complete", job)
		return
	}

	ticker := time.NewTicker(s.sseInterval)
	defer ticker.Stop()

	last := job.UpdatedAt
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			job, ok = s.jobs.Get(id)
			if !ok {
				return
			}

			if job.IsTerminal() {
				sendSSEEvent(w, flusher, "complete", job)
				return
			}

			if !job.UpdatedAt.Equal(last) {
				if err := sendSSEEvent(w, flusher, "update", job); err != nil {
					s.logger.Debug("sse client disconnected", "job_id", id)
					return
				}
				last = job.UpdatedAt
			} else {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}
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
