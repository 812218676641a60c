// Package session mints session identifiers and assigns session-scoped
// placeholders to detected entities.
package session

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veil-sh/veil/internal/entity"
)

// PlaceholderFormat selects how the placeholder suffix is derived.
type PlaceholderFormat string

const (
	// FormatNumbered mints [TYPE_N] with a 1-based per-(session, type)
	// counter.
	FormatNumbered PlaceholderFormat = "numbered"
	// FormatHashed mints [TYPE_<8 hex>] from the normalized value, stable
	// across sessions for the same value.
	FormatHashed PlaceholderFormat = "hashed"
)

// Config holds session settings.
type Config struct {
	// TTL bounds the lifetime of every session and its mappings.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// Consistency makes repeated occurrences of the same normalized value
	// reuse one placeholder within a session.
	Consistency bool `yaml:"consistency" mapstructure:"consistency"`
	// PlaceholderFormat is numbered (default) or hashed.
	PlaceholderFormat PlaceholderFormat `yaml:"placeholder_format" mapstructure:"placeholder_format"`
}

// NewID mints a fresh session identifier of the form sess_<12 hex>.
func NewID() string {
	id := uuid.New()
	return "sess_" + hex.EncodeToString(id[:6])
}

// state is the mutable per-session assignment state. Its mutex scopes
// contention to one session; concurrent calls on different sessions never
// block each other.
type state struct {
	mu       sync.Mutex
	counters map[entity.Type]int
	byValue  map[string]string
}

// Assigner hands out placeholders with atomic per-(session, type) counters
// and an optional normalized-value consistency index.
type Assigner struct {
	mu          sync.RWMutex
	sessions    map[string]*state
	consistency bool
	format      PlaceholderFormat
}

// NewAssigner builds an assigner from configuration.
func NewAssigner(cfg Config) *Assigner {
	format := cfg.PlaceholderFormat
	if format == "" {
		format = FormatNumbered
	}
	return &Assigner{
		sessions:    make(map[string]*state),
		consistency: cfg.Consistency,
		format:      format,
	}
}

func (a *Assigner) session(sessionID string) *state {
	a.mu.RLock()
	s, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if ok {
		return s
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[sessionID]; ok {
		return s
	}
	s = &state{
		counters: make(map[entity.Type]int),
		byValue:  make(map[string]string),
	}
	a.sessions[sessionID] = s
	return s
}

// Assign returns one placeholder per match, in input order. With consistency
// enabled, two matches whose normalized values coincide receive the same
// placeholder. The bool result marks placeholders minted fresh by this call,
// so callers know which ones need new vault mappings.
func (a *Assigner) Assign(sessionID string, matches []entity.Match) ([]string, []bool) {
	s := a.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	placeholders := make([]string, len(matches))
	fresh := make([]bool, len(matches))
	for i, m := range matches {
		key := string(m.Type) + "\x00" + entity.Normalize(m.Value)
		if a.consistency {
			if p, ok := s.byValue[key]; ok {
				placeholders[i] = p
				continue
			}
		}
		placeholders[i] = s.mint(m, a.format)
		fresh[i] = true
		if a.consistency {
			s.byValue[key] = placeholders[i]
		}
	}
	return placeholders, fresh
}

func (s *state) mint(m entity.Match, format PlaceholderFormat) string {
	if format == FormatHashed {
		return fmt.Sprintf("[%s_%s]", m.Type, entity.HashSuffix(m.Value))
	}
	s.counters[m.Type]++
	return fmt.Sprintf("[%s_%d]", m.Type, s.counters[m.Type])
}

// Forget discards the assignment state of one session. Subsequent calls for
// the same id start counters from 1 again.
func (a *Assigner) Forget(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}
