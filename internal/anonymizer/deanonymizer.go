package anonymizer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/audit"
	"github.com/veil-sh/veil/internal/entity"
	"github.com/veil-sh/veil/internal/vault"
)

// Deanonymizer restores original values into text containing placeholders.
type Deanonymizer struct {
	store  vault.Store
	audit  *audit.Logger
	logger *zap.Logger
}

// NewDeanonymizer builds a deanonymizer over the shared vault.
func NewDeanonymizer(store vault.Store, auditLog *audit.Logger, logger *zap.Logger) *Deanonymizer {
	return &Deanonymizer{store: store, audit: auditLog, logger: logger}
}

// Deanonymize replaces every resolvable placeholder in text with its
// original value. Placeholders with no mapping under the session — expired,
// minted elsewhere, or simply unknown — stay verbatim; they are counted and
// audited, never errored. A malformed session id is the one invalid input.
func (d *Deanonymizer) Deanonymize(ctx context.Context, text, sessionID string) (string, error) {
	if !entity.ValidSessionID(sessionID) {
		return "", fmt.Errorf("%w: %s", ErrInvalidSessionID, sessionID)
	}
	start := time.Now()

	refs := entity.FindPlaceholders(text)
	if len(refs) == 0 {
		return text, nil
	}

	// One vault round trip per distinct placeholder.
	resolved := make(map[string]*entity.Mapping, len(refs))
	var replacements []replacement
	unresolvedCount := 0
	for _, ref := range refs {
		m, ok := resolved[ref.Text]
		if !ok {
			var err error
			m, err = d.store.Get(ctx, sessionID, ref.Text)
			if err != nil {
				return "", fmt.Errorf("vault read failed: %w", err)
			}
			resolved[ref.Text] = m
		}
		if m == nil {
			unresolvedCount++
			continue
		}
		replacements = append(replacements, replacement{
			Start: ref.Start,
			End:   ref.End,
			Value: m.OriginalValue,
		})
	}

	d.audit.Deanonymize(sessionID, len(replacements), unresolvedCount, time.Since(start))
	if unresolvedCount > 0 {
		d.logger.Debug("Placeholders left unresolved",
			zap.String("session_id", sessionID),
			zap.Int("unresolved", unresolvedCount),
		)
	}
	return applyReplacements(text, replacements), nil
}
