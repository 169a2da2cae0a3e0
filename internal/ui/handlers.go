// Package ui serves a read-only HTML dashboard over the host registry, the
// action queues and the job lifecycle.
package ui

import (
	"bytes"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/clusterq/internal/store"
	"github.com/me/clusterq/pkg/model"
)

// HostLister is satisfied by hosts.Registry.
type HostLister interface {
	List() []model.Host
}

// JobReader is satisfied by lifecycle.Machine.
type JobReader interface {
	Get(id model.JobID) (model.Job, bool)
	List() []model.Job
}

// UI renders the dashboard pages.
type UI struct {
	store     store.Store
	hosts     HostLister
	jobs      JobReader
	logger    *slog.Logger
	prefix    string
	startTime time.Time
}

// New creates a UI mounted at prefix (for example "/ui").
func New(st store.Store, hosts HostLister, jobs JobReader, prefix string, logger *slog.Logger) *UI {
	return &UI{
		store:     st,
		hosts:     hosts,
		jobs:      jobs,
		logger:    logger.With("component", "ui"),
		prefix:    strings.TrimSuffix(prefix, "/"),
		startTime: time.Now(),
	}
}

// HandleDashboard renders host and job counts and the most recent jobs.
func (ui *UI) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	hosts := ui.hosts.List()
	hostStats := map[string]int{}
	pending := 0
	for _, h := range hosts {
		hostStats[string(h.State)]++
		pending += h.Pending
	}

	jobs := ui.jobs.List()
	jobStats := map[string]int{}
	for _, j := range jobs {
		jobStats[string(j.State)]++
	}

	recent, _, err := ui.store.ListJobs(r.Context(), model.ListOptions{Limit: 10})
	if err != nil {
		ui.renderError(w, "Failed to load jobs", err)
		return
	}

	data := map[string]any{
		"Title":      "Dashboard - clusterq",
		"Prefix":     ui.prefix,
		"HostCount":  len(hosts),
		"HostStats":  hostStats,
		"Pending":    pending,
		"JobCount":   len(jobs),
		"JobStats":   jobStats,
		"RecentJobs": recent,
		"Uptime":     time.Since(ui.startTime).Round(time.Second).String(),
	}
	ui.render(w, http.StatusOK, "dashboard", data)
}

// HandleHostList renders every registered host with its pending queue depth.
func (ui *UI) HandleHostList(w http.ResponseWriter, r *http.Request) {
	hosts := ui.hosts.List()
	sort.Slice(hosts, func(i, j int) bool { return hosts[i].Name < hosts[j].Name })

	data := map[string]any{
		"Title":  "Hosts - clusterq",
		"Prefix": ui.prefix,
		"Hosts":  hosts,
	}
	ui.render(w, http.StatusOK, "hosts", data)
}

// HandleJobList renders a page of persisted jobs.
func (ui *UI) HandleJobList(w http.ResponseWriter, r *http.Request) {
	opts := ui.parseListOptions(r)

	jobs, total, err := ui.store.ListJobs(r.Context(), opts)
	if err != nil {
		ui.renderError(w, "Failed to load jobs", err)
		return
	}

	states := []model.JobState{
		model.JobStateCreated, model.JobStateScheduled, model.JobStateInProgress,
		model.JobStateCompleted, model.JobStateFailed, model.JobStateAborted,
	}

	data := map[string]any{
		"Title":       "Jobs - clusterq",
		"Prefix":      ui.prefix,
		"Jobs":        jobs,
		"States":      states,
		"StateFilter": opts.State,
		"Pagination":  ui.buildPagination(opts, total),
	}
	ui.render(w, http.StatusOK, "jobs", data)
}

// HandleJobDetail renders one job with its command plan and event history.
func (ui *UI) HandleJobDetail(w http.ResponseWriter, r *http.Request) {
	id := model.JobID(chi.URLParam(r, "id"))

	job, ok := ui.jobs.Get(id)
	if !ok {
		stored, err := ui.store.GetJob(r.Context(), id)
		if err != nil {
			ui.renderError(w, "Failed to load job", err)
			return
		}
		if stored == nil {
			ui.renderNotFound(w, "Job "+string(id)+" not found")
			return
		}
		job = *stored
	}

	commands, err := ui.store.ListCommands(r.Context(), id)
	if err != nil {
		ui.renderError(w, "Failed to load commands", err)
		return
	}
	events, err := ui.store.ListEvents(r.Context(), id)
	if err != nil {
		ui.renderError(w, "Failed to load events", err)
		return
	}

	data := map[string]any{
		"Title":    string(job.ID) + " - clusterq",
		"Prefix":   ui.prefix,
		"Job":      job,
		"Commands": commands,
		"Events":   events,
	}
	ui.render(w, http.StatusOK, "job", data)
}

func (ui *UI) parseListOptions(r *http.Request) model.ListOptions {
	opts := model.DefaultListOptions()

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 100 {
			opts.Limit = n
		}
	}

	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	if state := model.JobState(strings.ToUpper(r.URL.Query().Get("state"))); state.Valid() {
		opts.State = string(state)
	}

	return opts
}

func (ui *UI) buildPagination(opts model.ListOptions, total int) map[string]any {
	return map[string]any{
		"Total":      total,
		"Limit":      opts.Limit,
		"Offset":     opts.Offset,
		"HasMore":    opts.Offset+opts.Limit < total,
		"HasPrev":    opts.Offset > 0,
		"NextOffset": opts.Offset + opts.Limit,
		"PrevOffset": max(0, opts.Offset-opts.Limit),
	}
}

func (ui *UI) render(w http.ResponseWriter, status int, template string, data map[string]any) {
	var buf bytes.Buffer
	if err := renderTemplate(&buf, template, data); err != nil {
		ui.logger.Error("template render failed", "template", template, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (ui *UI) renderError(w http.ResponseWriter, message string, err error) {
	ui.logger.Error(message, "error", err)
	data := map[string]any{
		"Title":   "Error - clusterq",
		"Prefix":  ui.prefix,
		"Message": message,
	}
	ui.render(w, http.StatusInternalServerError, "error", data)
}

func (ui *UI) renderNotFound(w http.ResponseWriter, message string) {
	data := map[string]any{
		"Title":   "Not Found - clusterq",
		"Prefix":  ui.prefix,
		"Message": message,
	}
	ui.render(w, http.StatusNotFound, "error", data)
}
