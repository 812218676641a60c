package vault

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/entity"
)

// MemoryStore keeps mappings in process memory under a single RWMutex. Fine
// for tests and single-node deployments; it does not scale past one process
// and the store-wide lock serializes writers across sessions.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]entity.Mapping
	closed   bool
	logger   *zap.Logger
}

// NewMemoryStore creates an empty in-process vault.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	logger.Info("Memory vault initialized")
	return &MemoryStore{
		sessions: make(map[string]map[string]entity.Mapping),
		logger:   logger,
	}
}

func (s *MemoryStore) Store(ctx context.Context, m entity.Mapping) error {
	return s.StoreBatch(ctx, []entity.Mapping{m})
}

func (s *MemoryStore) StoreBatch(_ context.Context, mappings []entity.Mapping) error {
	if len(mappings) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, m := range mappings {
		session, ok := s.sessions[m.SessionID]
		if !ok {
			session = make(map[string]entity.Mapping)
			s.sessions[m.SessionID] = session
		}
		session[m.Placeholder] = m
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID, placeholder string) (*entity.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	m, ok := s.sessions[sessionID][placeholder]
	if !ok || m.Expired() {
		return nil, nil
	}
	out := m
	return &out, nil
}

func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (*entity.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	stored, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	session := &entity.Session{ID: sessionID}
	for _, m := range stored {
		if m.Expired() {
			continue
		}
		session.Mappings = append(session.Mappings, m)
		if session.CreatedAt.IsZero() || m.CreatedAt.Before(session.CreatedAt) {
			session.CreatedAt = m.CreatedAt
		}
		if m.ExpiresAt.After(session.ExpiresAt) {
			session.ExpiresAt = m.ExpiresAt
		}
	}
	if len(session.Mappings) == 0 {
		return nil, nil
	}
	sort.Slice(session.Mappings, func(i, j int) bool {
		return session.Mappings[i].Placeholder < session.Mappings[j].Placeholder
	})
	return session, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	ids := make([]string, 0, len(s.sessions))
	for id, mappings := range s.sessions {
		for _, m := range mappings {
			if !m.Expired() {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	removed := 0
	for id, mappings := range s.sessions {
		for placeholder, m := range mappings {
			if m.ExpiredAt(now) {
				delete(mappings, placeholder)
				removed++
			}
		}
		if len(mappings) == 0 {
			delete(s.sessions, id)
		}
	}
	if removed > 0 {
		s.logger.Debug("Expired mappings removed", zap.Int("count", removed))
	}
	return removed, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.sessions = nil
	return nil
}
