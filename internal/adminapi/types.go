// Copyright 2025 James Ross
package adminapi

import "time"

// AuditEntry is one logged admin action, trimmed from the teacher's
// AuditEntry to the fields §6 actually names ("audit events key.add,
// key.remove"), generalized to any admin mutation rather than only
// destructive queue operations.
type AuditEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject,omitempty"`
	Result    string            `json:"result"`
	Detail    map[string]string `json:"detail,omitempty"`
	IP        string            `json:"ip,omitempty"`
}

// ServedRow is one row of GET /admin/fair/served.
type ServedRow struct {
	Session         string  `json:"session"`
	Served          int64   `json:"served"`
	Weight          float64 `json:"weight"`
	ServedPerWeight float64 `json:"served_per_weight"`
}

// ServedResponse wraps the served rows per §6's documented shape.
type ServedResponse struct {
	Served []ServedRow `json:"served"`
}

// VersionResponse answers GET /admin/version.
type VersionResponse struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
}

// StateHealthResponse answers GET /admin/state_health.
type StateHealthResponse struct {
	ActiveSessions  int            `json:"active_sessions"`
	WeightedSessions int           `json:"weighted_sessions"`
	CircuitStates   map[string]string `json:"circuit_states,omitempty"`
}

// AddKeyRequest is the body of POST /admin/keys.
type AddKeyRequest struct {
	Key   string   `json:"key"`
	Roles []string `json:"roles"`
}
