package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session tracks one live gateway session. The ID is assigned once at
// creation and never changes for the lifetime of the session, even across
// reconnects. DBSessionID is filled in lazily the first time the session
// persists anything.
type Session struct {
	ID             string    `json:"session_id"`
	FrontendID     string    `json:"frontend_id"`
	Status         Status    `json:"status"`
	AgentName      string    `json:"agent_name"`
	Modality       string    `json:"modality"`
	DBSessionID    string    `json:"db_session_id,omitempty"`
	Connected      bool      `json:"connected"`
	Connecting     bool      `json:"connecting"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByFrontend map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByFrontend: make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(frontendID, agentName, modality string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		FrontendID:     frontendID,
		AgentName:      agentName,
		Modality:       modality,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if frontendID != "" {
		m.sessionByFrontend[frontendID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetConnectionState records the transport state for a session. Connecting
// and connected are mutually exclusive.
func (m *Manager) SetConnectionState(sessionID string, connecting, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Connecting = connecting
	s.Connected = connected
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// SetAgent records the currently selected agent, typically after a hand-off.
func (m *Manager) SetAgent(sessionID, agentName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.AgentName = agentName
	s.LastActivityAt = time.Now().UTC()
	return nil
}

// BindDBSession stores the persistence id once it has been lazily created.
// A second bind for the same session is ignored so the first id sticks.
func (m *Manager) BindDBSession(sessionID, dbSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if s.DBSessionID == "" {
		s.DBSessionID = dbSessionID
	}
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.Connected = false
	s.Connecting = false
	s.LastActivityAt = time.Now().UTC()
	if s.FrontendID != "" {
		delete(m.sessionByFrontend, s.FrontendID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		s.Connected = false
		s.Connecting = false
		s.LastActivityAt = now
		expired = append(expired, clone(s))
		if s.FrontendID != "" {
			delete(m.sessionByFrontend, s.FrontendID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
