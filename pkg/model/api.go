package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// HeartbeatResponse is returned to an agent on every heartbeat. Commands
// holds everything drained from the host's queue during this cycle.
type HeartbeatResponse struct {
	Host     string    `json:"host"`
	State    HostState `json:"state"`
	Commands []Command `json:"commands"`
}
