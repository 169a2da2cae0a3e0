package ui

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the dashboard pages on the given router. Links
// inside the pages are relative to the mount point passed to New.
func (ui *UI) RegisterRoutes(r chi.Router) {
	r.Get("/", ui.HandleDashboard)
	r.Get("/hosts", ui.HandleHostList)
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", ui.HandleJobList)
		r.Get("/{id}", ui.HandleJobDetail)
	})
}
