package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/anonymizer"
	"github.com/veil-sh/veil/internal/audit"
	"github.com/veil-sh/veil/internal/config"
	"github.com/veil-sh/veil/internal/detect/hybrid"
	"github.com/veil-sh/veil/internal/detect/model"
	"github.com/veil-sh/veil/internal/detect/pattern"
	"github.com/veil-sh/veil/internal/logger"
	"github.com/veil-sh/veil/internal/session"
	"github.com/veil-sh/veil/internal/vault"
	"github.com/veil-sh/veil/internal/websocket"
)

// newTestServer wires a full pipeline over the memory vault with pattern
// detection only.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Server.RateLimit.Enabled = false
	cfg.WebSocket.Enabled = false

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	zl := zap.NewNop()

	patternDet, err := pattern.New(cfg.Detection.Pattern, zl)
	if err != nil {
		t.Fatalf("failed to create pattern detector: %v", err)
	}
	modelDet, err := model.New(model.Config{Enabled: false}, zl)
	if err != nil {
		t.Fatalf("failed to create model detector: %v", err)
	}
	det, err := hybrid.New(cfg.Detection.Hybrid, patternDet, modelDet, patternDet.Validated, zl)
	if err != nil {
		t.Fatalf("failed to create hybrid detector: %v", err)
	}

	store := vault.NewMemoryStore(zl)
	t.Cleanup(func() { store.Close() })

	auditLog := audit.New(zl, nil)
	assigner := session.NewAssigner(cfg.Session)
	anon := anonymizer.New(det, assigner, store, auditLog, time.Hour, zl)
	deanon := anonymizer.NewDeanonymizer(store, auditLog, zl)
	hub := websocket.NewHub(websocket.Config{}, zl)

	return New(cfg, anon, deanon, assigner, store, auditLog, hub, log)
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAnonymizeEndpointRoundTrip(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s, "/v1/anonymize", anonymizeRequest{
		Text: "Reach me at jane.doe@example.com please",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymize status = %d, body %s", rec.Code, rec.Body.String())
	}

	var result anonymizer.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if strings.Contains(result.Text, "jane.doe@example.com") {
		t.Fatalf("anonymized text leaked the address: %q", result.Text)
	}
	if len(result.Entities) != 1 || result.Entities[0].Placeholder != "[EMAIL_1]" {
		t.Fatalf("entities = %+v", result.Entities)
	}

	rec = postJSON(t, s, "/v1/deanonymize", deanonymizeRequest{
		Text:      result.Text,
		SessionID: result.SessionID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deanonymize status = %d, body %s", rec.Code, rec.Body.String())
	}
	var restored deanonymizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &restored); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if restored.Text != "Reach me at jane.doe@example.com please" {
		t.Errorf("round trip = %q", restored.Text)
	}
}

func TestAnonymizeEndpointBadBody(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/anonymize", strings.NewReader("{broken"))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestDeanonymizeEndpointInvalidSession(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s, "/v1/deanonymize", deanonymizeRequest{
		Text:      "[EMAIL_1]",
		SessionID: "not-a-session",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := postJSON(t, s, "/v1/anonymize", anonymizeRequest{Text: "ssn 123-45-6789"})
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymize status = %d", rec.Code)
	}
	var result anonymizer.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// List includes the session.
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), result.SessionID) {
		t.Fatalf("sessions list = %d %s", rec.Code, rec.Body.String())
	}

	// Metadata never includes original values.
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/"+result.SessionID, nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get session = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "123-45-6789") {
		t.Fatal("session metadata leaked an original value")
	}
	var summary sessionSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if summary.MappingCount != 1 || len(summary.Placeholders) != 1 {
		t.Errorf("summary = %+v", summary)
	}

	// Delete, then the session is gone.
	req = httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+result.SessionID+"?reason=test", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete session = %d", rec.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions/"+result.SessionID, nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("deleted session lookup = %d, want 404", rec.Code)
	}
}

func TestGetSessionUnknown(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess_0123456789ab", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t)
	s.limiter = newClientLimiter(config.RateLimit{RequestsPerSecond: 1, Burst: 1})

	body := anonymizeRequest{Text: "hi"}
	first := postJSON(t, s, "/v1/anonymize", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first request = %d", first.Code)
	}
	second := postJSON(t, s, "/v1/anonymize", body)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", second.Code)
	}
}

func TestGracefulStop(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
