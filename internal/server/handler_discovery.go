package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "clusterq API",
		Version:     "v1",
		Description: "Per-host command queues and job lifecycle tracking for managed cluster hosts",
		Endpoints: []endpointInfo{
			{"/api/v1/hosts", []string{"GET", "POST"}, "List or register hosts"},
			{"/api/v1/hosts/{host}", []string{"GET", "DELETE"}, "Single host; DELETE decommissions it"},
			{"/api/v1/hosts/{host}/heartbeat", []string{"POST"}, "Agent check-in; drains pending commands"},
			{"/api/v1/hosts/{host}/commands", []string{"POST"}, "Enqueue a command for the host"},
			{"/api/v1/hosts/{host}/commands/size", []string{"GET"}, "Pending command count"},
			{"/api/v1/hosts/{host}/commands/next", []string{"POST"}, "Dequeue a single command (204 when empty)"},
			{"/api/v1/hosts/{host}/results", []string{"POST"}, "Report a command result"},
			{"/api/v1/jobs", []string{"GET", "POST"}, "List or submit jobs"},
			{"/api/v1/jobs/{id}", []string{"GET"}, "Job detail with planned commands"},
			{"/api/v1/jobs/{id}/commands", []string{"GET"}, "Planned commands and their results"},
			{"/api/v1/jobs/{id}/events", []string{"GET", "POST"}, "Event history, or apply a raw event"},
			{"/api/v1/jobs/{id}/abort", []string{"PUT"}, "Abort a job"},
			{"/api/v1/sse/jobs/{id}", []string{"GET"}, "Stream job state changes"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
