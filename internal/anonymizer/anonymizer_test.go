package anonymizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/audit"
	"github.com/veil-sh/veil/internal/detect"
	"github.com/veil-sh/veil/internal/entity"
	"github.com/veil-sh/veil/internal/session"
	"github.com/veil-sh/veil/internal/vault"
)

type stubDetector struct {
	matches []entity.Match
	err     error
}

func (s *stubDetector) Detect(context.Context, string) ([]entity.Match, error) {
	return s.matches, s.err
}

// spanOf builds a match covering the first occurrence of value in text.
func spanOf(t *testing.T, text, value string, typ entity.Type, source entity.Source) entity.Match {
	t.Helper()
	start := strings.Index(text, value)
	if start < 0 {
		t.Fatalf("%q not in %q", value, text)
	}
	return entity.Match{
		Type:       typ,
		Value:      value,
		Start:      start,
		End:        start + len(value),
		Confidence: 0.9,
		Source:     source,
	}
}

func newPipeline(detector detect.Detector, store vault.Store) (*Anonymizer, *Deanonymizer) {
	logger := zap.NewNop()
	auditLog := audit.New(logger, nil)
	a := New(detector, session.NewAssigner(session.Config{Consistency: true}), store, auditLog, time.Hour, logger)
	d := NewDeanonymizer(store, auditLog, logger)
	return a, d
}

func TestAnonymizeRoundTrip(t *testing.T) {
	text := "Contact John Doe at john@example.com"
	detector := &stubDetector{matches: []entity.Match{
		spanOf(t, text, "John Doe", entity.TypePerson, entity.SourceModel),
		spanOf(t, text, "john@example.com", entity.TypeEmail, entity.SourcePattern),
	}}
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	a, d := newPipeline(detector, store)
	ctx := context.Background()

	result, err := a.Anonymize(ctx, text)
	if err != nil {
		t.Fatalf("Anonymize failed: %v", err)
	}
	if result.Text != "Contact [PERSON_1] at [EMAIL_1]" {
		t.Fatalf("anonymized text = %q", result.Text)
	}
	if !entity.ValidSessionID(result.SessionID) {
		t.Errorf("session id %q malformed", result.SessionID)
	}
	if len(result.Entities) != 2 {
		t.Fatalf("entities = %+v", result.Entities)
	}
	for _, e := range result.Entities {
		if strings.Contains(result.Text, "John Doe") || strings.Contains(result.Text, "john@example.com") {
			t.Fatal("original value leaked into anonymized text")
		}
		if e.Placeholder == "" {
			t.Error("entity missing placeholder")
		}
	}

	restored, err := d.Deanonymize(ctx, result.Text, result.SessionID)
	if err != nil {
		t.Fatalf("Deanonymize failed: %v", err)
	}
	if restored != text {
		t.Errorf("round trip = %q, want %q", restored, text)
	}
}

func TestAnonymizeEmptyInput(t *testing.T) {
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	a, _ := newPipeline(&stubDetector{}, store)

	result, err := a.Anonymize(context.Background(), "")
	if err != nil {
		t.Fatalf("empty input should not error: %v", err)
	}
	if result.Text != "" || !entity.ValidSessionID(result.SessionID) {
		t.Errorf("result = %+v", result)
	}
}

func TestAnonymizeNoEntities(t *testing.T) {
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	a, _ := newPipeline(&stubDetector{}, store)

	result, err := a.Anonymize(context.Background(), "nothing sensitive here")
	if err != nil {
		t.Fatalf("Anonymize failed: %v", err)
	}
	if result.Text != "nothing sensitive here" || len(result.Entities) != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestAnonymizeDetectionFailureSurfaces(t *testing.T) {
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	a, _ := newPipeline(&stubDetector{err: detect.ErrUnavailable}, store)

	if _, err := a.Anonymize(context.Background(), "x"); !errors.Is(err, detect.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

type failingStore struct {
	*vault.MemoryStore
}

func (f *failingStore) StoreBatch(context.Context, []entity.Mapping) error {
	return errors.New("disk on fire")
}

func TestAnonymizeVaultFailureStoresNothing(t *testing.T) {
	text := "mail john@example.com"
	detector := &stubDetector{matches: []entity.Match{
		spanOf(t, text, "john@example.com", entity.TypeEmail, entity.SourcePattern),
	}}
	inner := vault.NewMemoryStore(zap.NewNop())
	defer inner.Close()
	a, _ := newPipeline(detector, &failingStore{inner})

	if _, err := a.Anonymize(context.Background(), text); err == nil {
		t.Fatal("expected vault failure to surface")
	}
	ids, err := inner.ListSessions(context.Background())
	if err != nil || len(ids) != 0 {
		t.Errorf("vault should hold nothing after a failed call: %v, %v", ids, err)
	}
}

func TestAnonymizeConsistencyAcrossCalls(t *testing.T) {
	text := "mail john@example.com"
	detector := &stubDetector{matches: []entity.Match{
		spanOf(t, text, "john@example.com", entity.TypeEmail, entity.SourcePattern),
	}}
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	a, _ := newPipeline(detector, store)
	ctx := context.Background()

	first, err := a.Anonymize(ctx, text)
	if err != nil {
		t.Fatalf("Anonymize failed: %v", err)
	}
	second, err := a.AnonymizeInSession(ctx, first.SessionID, text)
	if err != nil {
		t.Fatalf("AnonymizeInSession failed: %v", err)
	}
	if first.Entities[0].Placeholder != second.Entities[0].Placeholder {
		t.Errorf("same value in same session got different placeholders: %s vs %s",
			first.Entities[0].Placeholder, second.Entities[0].Placeholder)
	}
}

func TestAnonymizeInSessionRejectsMalformedID(t *testing.T) {
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	a, _ := newPipeline(&stubDetector{}, store)

	if _, err := a.AnonymizeInSession(context.Background(), "not-a-session", "x"); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("expected ErrInvalidSessionID, got %v", err)
	}
}

func TestDeanonymizeUnresolvedLeftVerbatim(t *testing.T) {
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	_, d := newPipeline(&stubDetector{}, store)

	text := "hello [EMAIL_1] and [PERSON_7]"
	restored, err := d.Deanonymize(context.Background(), text, "sess_000000000001")
	if err != nil {
		t.Fatalf("Deanonymize failed: %v", err)
	}
	if restored != text {
		t.Errorf("unresolved placeholders must stay verbatim: %q", restored)
	}
}

func TestDeanonymizeSessionIsolation(t *testing.T) {
	text := "mail john@example.com"
	detector := &stubDetector{matches: []entity.Match{
		spanOf(t, text, "john@example.com", entity.TypeEmail, entity.SourcePattern),
	}}
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	a, d := newPipeline(detector, store)
	ctx := context.Background()

	result, err := a.Anonymize(ctx, text)
	if err != nil {
		t.Fatalf("Anonymize failed: %v", err)
	}

	// The same placeholder text under a different session resolves nothing.
	restored, err := d.Deanonymize(ctx, result.Text, "sess_ffffffffffff")
	if err != nil {
		t.Fatalf("Deanonymize failed: %v", err)
	}
	if strings.Contains(restored, "john@example.com") {
		t.Error("placeholder resolved across session boundary")
	}
}

func TestDeanonymizeMalformedSessionID(t *testing.T) {
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	_, d := newPipeline(&stubDetector{}, store)

	if _, err := d.Deanonymize(context.Background(), "[EMAIL_1]", "nope"); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("expected ErrInvalidSessionID, got %v", err)
	}
}

func TestDeanonymizeNoPlaceholders(t *testing.T) {
	store := vault.NewMemoryStore(zap.NewNop())
	defer store.Close()
	_, d := newPipeline(&stubDetector{}, store)

	text := "plain text, nothing to restore"
	restored, err := d.Deanonymize(context.Background(), text, "sess_000000000001")
	if err != nil || restored != text {
		t.Errorf("Deanonymize = %q, %v", restored, err)
	}
}

func TestApplyReplacementsReverseOrder(t *testing.T) {
	text := "aa bb cc"
	out := applyReplacements(text, []replacement{
		{Start: 0, End: 2, Value: "[X_1]"},
		{Start: 6, End: 8, Value: "[Y_1]"},
	})
	if out != "[X_1] bb [Y_1]" {
		t.Errorf("applyReplacements = %q", out)
	}
}
