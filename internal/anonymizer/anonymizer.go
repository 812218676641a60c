// Package anonymizer orchestrates detection, placeholder assignment, vault
// writes, and restoration. It is the only package that sees original values
// and placeholders side by side.
package anonymizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/audit"
	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/entity"
	"github.com/veil-sh/veil/internal/session"
	"github.com/veil-sh/veil/internal/vault"
)

// ErrInvalidSessionID is returned when a caller-supplied session id does not
// have the sess_<12 hex> form.
var ErrInvalidSessionID = errors.New("invalid session id")

// Entity describes one anonymized span without its original value.
type Entity struct {
	Placeholder string        `json:"placeholder"`
	Type        entity.Type   `json:"entity_type"`
	Confidence  float32       `json:"confidence"`
	Source      entity.Source `json:"source"`
}

// Result is the outcome of one anonymize call.
type Result struct {
	Text      string   `json:"anonymized_text"`
	SessionID string   `json:"session_id"`
	Entities  []Entity `json:"entities"`
}

// Anonymizer replaces detected entities with vaulted placeholders.
type Anonymizer struct {
	detector detect.Detector
	assigner *session.Assigner
	store    vault.Store
	audit    *audit.Logger
	ttl      time.Duration
	logger   *zap.Logger
}

// New wires the pipeline together. ttl bounds the lifetime of every mapping
// the anonymizer creates.
func New(detector detect.Detector, assigner *session.Assigner, store vault.Store, auditLog *audit.Logger, ttl time.Duration, logger *zap.Logger) *Anonymizer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Anonymizer{
		detector: detector,
		assigner: assigner,
		store:    store,
		audit:    auditLog,
		ttl:      ttl,
		logger:   logger,
	}
}

// Anonymize detects entities in text and replaces them under a fresh
// session.
func (a *Anonymizer) Anonymize(ctx context.Context, text string) (*Result, error) {
	return a.run(ctx, session.NewID(), text)
}

// AnonymizeInSession continues an existing session so placeholder counters
// and value consistency carry across calls.
func (a *Anonymizer) AnonymizeInSession(ctx context.Context, sessionID, text string) (*Result, error) {
	if !entity.ValidSessionID(sessionID) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSessionID, sessionID)
	}
	return a.run(ctx, sessionID, text)
}

func (a *Anonymizer) run(ctx context.Context, sessionID, text string) (*Result, error) {
	start := time.Now()
	if text == "" {
		return &Result{Text: text, SessionID: sessionID}, nil
	}

	matches, err := a.detector.Detect(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	for _, m := range matches {
		if err := m.Validate(len(text)); err != nil {
			return nil, fmt.Errorf("detector produced invalid match: %w", err)
		}
	}
	if len(matches) == 0 {
		a.audit.Anonymize(sessionID, 0, time.Since(start))
		return &Result{Text: text, SessionID: sessionID}, nil
	}

	placeholders, fresh := a.assigner.Assign(sessionID, matches)

	now := time.Now()
	replacements := make([]replacement, len(matches))
	entities := make([]Entity, len(matches))
	var mappings []entity.Mapping
	for i, m := range matches {
		replacements[i] = replacement{Start: m.Start, End: m.End, Value: placeholders[i]}
		entities[i] = Entity{
			Placeholder: placeholders[i],
			Type:        m.Type,
			Confidence:  m.Confidence,
			Source:      m.Source,
		}
		if !fresh[i] {
			continue
		}
		mappings = append(mappings, entity.Mapping{
			SessionID:     sessionID,
			Placeholder:   placeholders[i],
			Type:          m.Type,
			OriginalValue: m.Value,
			Confidence:    m.Confidence,
			CreatedAt:     now,
			ExpiresAt:     now.Add(a.ttl),
		})
	}

	// All mappings land before any text leaves this call; a vault failure
	// stores nothing and surfaces as an error.
	if err := a.store.StoreBatch(ctx, mappings); err != nil {
		return nil, fmt.Errorf("vault write failed: %w", err)
	}

	a.audit.Anonymize(sessionID, len(matches), time.Since(start))
	a.logger.Debug("Text anonymized",
		zap.String("session_id", sessionID),
		zap.Int("entities", len(matches)),
	)
	return &Result{
		Text:      applyReplacements(text, replacements),
		SessionID: sessionID,
		Entities:  entities,
	}, nil
}
