package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/clusterq/pkg/model"
)

// jobDetail is a job together with its planned commands.
type jobDetail struct {
	model.Job
	Commands []*model.PlannedCommand `json:"commands"`
}

// handleSubmitJob creates a job from a spec.
// POST /api/v1/jobs
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var spec model.JobSpec
	if !decodeBody(w, r, reqID, &spec) {
		return
	}

	job, err := s.scheduler.Submit(r.Context(), spec)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondCreated(w, reqID, job)
}

// handleListJobs returns persisted jobs, newest first.
// GET /api/v1/jobs?state=&limit=&offset=
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	q := r.URL.Query()

	opts := model.DefaultListOptions()
	if state := q.Get("state"); state != "" {
		if !model.JobState(state).Valid() {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query",
				model.FieldError{Field: "state", Message: "unknown job state " + state}))
			return
		}
		opts.State = state
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query",
				model.FieldError{Field: "limit", Message: "limit must be an integer"}))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid query",
				model.FieldError{Field: "offset", Message: "offset must be an integer"}))
			return
		}
		opts.Offset = n
	}
	opts.Clamp()

	jobs, total, err := s.store.ListJobs(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}

	respondList(w, reqID, jobs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

// handleGetJob returns a job with its planned commands and their results.
// GET /api/v1/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.JobID(chi.URLParam(r, "id"))

	job, ok := s.jobs.Get(id)
	if !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", string(id)))
		return
	}
	cmds, err := s.store.ListCommands(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if cmds == nil {
		cmds = []*model.PlannedCommand{}
	}
	respondOK(w, reqID, jobDetail{Job: job, Commands: cmds})
}

// handleListJobCommands returns a job's planned commands.
// GET /api/v1/jobs/{id}/commands
func (s *Server) handleListJobCommands(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.JobID(chi.URLParam(r, "id"))

	if _, ok := s.jobs.Get(id); !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", string(id)))
		return
	}
	cmds, err := s.store.ListCommands(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if cmds == nil {
		cmds = []*model.PlannedCommand{}
	}
	respondOK(w, reqID, cmds)
}

// handleListJobEvents returns a job's persisted event history in order.
// GET /api/v1/jobs/{id}/events
func (s *Server) handleListJobEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.JobID(chi.URLParam(r, "id"))

	if _, ok := s.jobs.Get(id); !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("job", string(id)))
		return
	}
	events, err := s.store.ListEvents(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err.Error()))
		return
	}
	if events == nil {
		events = []*model.EventRecord{}
	}
	respondOK(w, reqID, events)
}

// handleApplyJobEvent applies a raw lifecycle event to a job.
// POST /api/v1/jobs/{id}/events
func (s *Server) handleApplyJobEvent(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.JobID(chi.URLParam(r, "id"))

	var msg model.EventMessage
	if !decodeBody(w, r, reqID, &msg) {
		return
	}
	if msg.JobID != "" && msg.JobID != id {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid event",
			model.FieldError{Field: "job_id", Message: "job_id does not match path"}))
		return
	}
	msg.JobID = id

	ev, err := msg.ToEvent()
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	job, err := s.scheduler.Apply(r.Context(), ev)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, job)
}

// handleAbortJob gives up on a job. The body is optional.
// PUT /api/v1/jobs/{id}/abort
func (s *Server) handleAbortJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := model.JobID(chi.URLParam(r, "id"))

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "invalid JSON body: " + err.Error(),
		})
		return
	}

	job, err := s.scheduler.Abort(r.Context(), id, req.Reason)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("job aborted", "job_id", id, "reason", job.Reason)
	respondOK(w, reqID, job)
}
