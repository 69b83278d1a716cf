package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps chat history in process memory. Default when no
// DATABASE_URL is configured; history is lost on restart.
type InMemoryStore struct {
	mu       sync.RWMutex
	messages []Message
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveMessage(_ context.Context, msg Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *InMemoryStore) Messages(_ context.Context, sessionID uuid.UUID) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.messages {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Sessions(_ context.Context) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type acc struct {
		first   string
		firstAt time.Time
		count   int
		updated time.Time
	}
	bySession := make(map[uuid.UUID]*acc)
	for _, m := range s.messages {
		a := bySession[m.SessionID]
		if a == nil {
			a = &acc{}
			bySession[m.SessionID] = a
		}
		a.count++
		if m.CreatedAt.After(a.updated) {
			a.updated = m.CreatedAt
		}
		if m.Role == RoleUser && (a.firstAt.IsZero() || m.CreatedAt.Before(a.firstAt)) {
			a.first = m.Content
			a.firstAt = m.CreatedAt
		}
	}

	out := make([]SessionSummary, 0, len(bySession))
	for id, a := range bySession {
		out = append(out, SessionSummary{
			ID:           id,
			Title:        deriveTitle(a.first),
			MessageCount: a.count,
			UpdatedAt:    a.updated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.SessionID != sessionID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
