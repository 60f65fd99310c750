package session

import "time"

// CreateRequest defines payload for creating a new gateway session.
type CreateRequest struct {
	FrontendID string `json:"frontend_id"`
	AgentName  string `json:"agent_name"`
	Modality   string `json:"modality"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	FrontendID      string    `json:"frontend_id"`
	Status          Status    `json:"status"`
	AgentName       string    `json:"agent_name"`
	Modality        string    `json:"modality"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
