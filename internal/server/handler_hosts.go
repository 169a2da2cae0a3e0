package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/me/clusterq/pkg/model"
)

// handleRegisterHost registers a host or re-registers a known one.
// POST /api/v1/hosts
func (s *Server) handleRegisterHost(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.HostRegistration
	if !decodeBody(w, r, reqID, &req) {
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("missing required field", errs...))
		return
	}
	if !requireHost(w, r, req.Name) {
		return
	}

	host, err := s.hosts.Register(r.Context(), req)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondCreated(w, reqID, host)
}

// handleListHosts returns all registered hosts sorted by name.
// GET /api/v1/hosts
func (s *Server) handleListHosts(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.hosts.List())
}

// handleGetHost returns a single host.
// GET /api/v1/hosts/{host}
func (s *Server) handleGetHost(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "host")

	host, ok := s.hosts.Get(name)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("host", name))
		return
	}
	respondOK(w, reqID, host)
}

// handleDecommissionHost retires a host, drops its action queue and aborts
// the jobs whose commands were still waiting for it.
// DELETE /api/v1/hosts/{host}
func (s *Server) handleDecommissionHost(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "host")

	orphaned, err := s.hosts.Decommission(r.Context(), name)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}

	aborted := []model.JobID{}
	seen := make(map[model.JobID]bool)
	for _, cmd := range orphaned {
		if cmd.JobID == "" || seen[cmd.JobID] {
			continue
		}
		seen[cmd.JobID] = true
		job, err := s.scheduler.Abort(r.Context(), cmd.JobID, "host "+name+" decommissioned")
		switch {
		case err == nil:
			if job.State == model.JobStateAborted {
				aborted = append(aborted, cmd.JobID)
			}
		case errors.Is(err, model.ErrAlreadyTerminal), errors.Is(err, model.ErrUnknownJob):
		default:
			s.logger.Error("abort orphaned job", "host", name, "job_id", cmd.JobID, "error", err)
		}
	}

	if orphaned == nil {
		orphaned = []model.Command{}
	}
	respondOK(w, reqID, map[string]any{
		"host":         name,
		"state":        model.HostStateDecommissioned,
		"orphaned":     orphaned,
		"aborted_jobs": aborted,
	})
}

// handleHeartbeat records an agent check-in and drains the host's queue.
// POST /api/v1/hosts/{host}/heartbeat
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "host")
	if !requireHost(w, r, name) {
		return
	}

	host, err := s.hosts.Heartbeat(r.Context(), name)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}

	cmds := s.queue.DequeueAll(name)
	if len(cmds) > 0 {
		s.logger.Debug("commands delivered", "host", name, "count", len(cmds))
	}
	respondOK(w, reqID, model.HeartbeatResponse{
		Host:     host.Name,
		State:    host.State,
		Commands: cmds,
	})
}

// handleEnqueueCommand adds a command to a host's queue. Duplicates are
// accepted with queued=false.
// POST /api/v1/hosts/{host}/commands
func (s *Server) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "host")

	var cmd model.Command
	if !decodeBody(w, r, reqID, &cmd) {
		return
	}
	if !cmd.Kind.Valid() {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid command",
			model.FieldError{Field: "kind", Message: "unknown command kind " + string(cmd.Kind)}))
		return
	}
	if host, ok := s.hosts.Get(name); ok && host.State == model.HostStateDecommissioned {
		respondErr(w, reqID, model.ErrHostDecommissioned)
		return
	}

	if cmd.ID == "" {
		cmd.ID = "cmd_" + uuid.New().String()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now().UTC()
	}
	cmd.Host = name

	queued := s.queue.Enqueue(name, cmd)
	respondOK(w, reqID, map[string]any{
		"queued":  queued,
		"command": cmd,
	})
}

// handleQueueSize reports the number of pending commands for a host.
// GET /api/v1/hosts/{host}/commands/size
func (s *Server) handleQueueSize(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "host")

	n, err := s.queue.Size(name)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"host": name, "size": n})
}

// handleNextCommand removes and returns the oldest pending command.
// POST /api/v1/hosts/{host}/commands/next
// Returns 204 No Content if the queue is empty.
func (s *Server) handleNextCommand(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "host")
	if !requireHost(w, r, name) {
		return
	}

	cmd, err := s.queue.Dequeue(name)
	if errors.Is(err, model.ErrEmptyQueue) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, cmd)
}

// handleResult ingests a command result reported by a host's agent.
// POST /api/v1/hosts/{host}/results
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	name := chi.URLParam(r, "host")
	if !requireHost(w, r, name) {
		return
	}

	var res model.CommandResult
	if !decodeBody(w, r, reqID, &res) {
		return
	}
	res.Host = name

	job, err := s.scheduler.Ingest(r.Context(), res)
	if err != nil {
		if errors.Is(err, model.ErrAlreadyTerminal) {
			s.logger.Info("result for finished job dropped", "host", name, "job_id", res.JobID, "status", res.Status)
		}
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, job)
}
