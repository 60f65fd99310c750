// Package history is the persistence collaborator for realtime sessions.
// Every call on the realtime path is best-effort: callers log failures and
// keep the conversation running.
package history

import (
	"context"
	"time"
)

// SessionRecord is the backing record for one logical conversation.
type SessionRecord struct {
	ID         string     `json:"id"`
	FrontendID string     `json:"frontend_id"`
	Modality   string     `json:"modality"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// MessageRecord stores one conversational message or lifecycle marker.
type MessageRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Channel   string         `json:"channel"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store persists sessions and their messages.
type Store interface {
	CreateSession(ctx context.Context, frontendID, modality string) (string, error)
	LogMessage(ctx context.Context, record MessageRecord) error
	EndSession(ctx context.Context, dbSessionID string) error
	Close() error
}
