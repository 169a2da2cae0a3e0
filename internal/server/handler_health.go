package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	GoVersion string         `json:"go_version"`
	Uptime    string         `json:"uptime"`
	Hosts     map[string]int `json:"hosts"`
	Jobs      int            `json:"jobs"`
	Queues    int            `json:"queues"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	hosts := make(map[string]int)
	for _, h := range s.hosts.List() {
		hosts[string(h.State)]++
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Hosts:     hosts,
		Jobs:      s.jobs.Len(),
		Queues:    len(s.queue.Hosts()),
	})
}
