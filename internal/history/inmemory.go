package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process history store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	messages map[string][]MessageRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*SessionRecord),
		messages: make(map[string][]MessageRecord),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, frontendID, modality string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.sessions[id] = &SessionRecord{
		ID:         id,
		FrontendID: frontendID,
		Modality:   modality,
		StartedAt:  time.Now().UTC(),
	}
	return id, nil
}

func (s *InMemoryStore) LogMessage(_ context.Context, record MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[record.SessionID]; !ok {
		return fmt.Errorf("unknown session %q", record.SessionID)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.messages[record.SessionID] = append(s.messages[record.SessionID], record)
	return nil
}

func (s *InMemoryStore) EndSession(_ context.Context, dbSessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[dbSessionID]
	if !ok {
		return fmt.Errorf("unknown session %q", dbSessionID)
	}
	if rec.EndedAt == nil {
		now := time.Now().UTC()
		rec.EndedAt = &now
	}
	return nil
}

// Messages returns a copy of the messages logged for one session, in order.
func (s *InMemoryStore) Messages(sessionID string) []MessageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.messages[sessionID]
	out := make([]MessageRecord, len(arr))
	copy(out, arr)
	return out
}

// Session returns the stored session record, or nil when unknown.
func (s *InMemoryStore) Session(sessionID string) *SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	clone := *rec
	return &clone
}

func (s *InMemoryStore) Close() error { return nil }
