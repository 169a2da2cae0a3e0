package model

import (
	"fmt"
	"time"
)

// Host is a managed machine whose agent heartbeats to the server.
type Host struct {
	Name         string            `json:"name"`
	Address      string            `json:"address,omitempty"`
	OS           string            `json:"os,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
	State        HostState         `json:"state"`
	LastSeen     time.Time         `json:"last_seen"`
	RegisteredAt time.Time         `json:"registered_at"`
	Pending      int               `json:"pending"`
}

func fieldIndex(field string, i int, sub string) string {
	return fmt.Sprintf("%s[%d].%s", field, i, sub)
}

// HostRegistration is the payload an agent sends when it registers.
type HostRegistration struct {
	Name    string            `json:"name"`
	Address string            `json:"address,omitempty"`
	OS      string            `json:"os,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Validate checks the registration for missing fields.
func (r *HostRegistration) Validate() []FieldError {
	var errs []FieldError
	if r.Name == "" {
		errs = append(errs, FieldError{Field: "name", Message: "name is required"})
	}
	return errs
}
