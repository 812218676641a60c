// Package audit records every anonymize/deanonymize invocation and vault
// mutation. Events carry session ids and counts, never original values.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// EventKind enumerates the audited operations.
type EventKind string

const (
	EventAnonymize   EventKind = "anonymize"
	EventDeanonymize EventKind = "deanonymize"
	EventVaultExpire EventKind = "vault_expire"
	EventVaultDelete EventKind = "vault_delete"
)

// Event is one audit record.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id,omitempty"`
	// EntityCount is the number of entities anonymized or placeholders
	// restored.
	EntityCount int `json:"entity_count,omitempty"`
	// Unresolved counts placeholders left verbatim by a deanonymize call.
	Unresolved int `json:"unresolved,omitempty"`
	// Expired counts mappings removed by a cleanup sweep.
	Expired int `json:"expired,omitempty"`
	// Reason is the caller-supplied cause of an explicit deletion.
	Reason string `json:"reason,omitempty"`
	// Duration is the elapsed wall time of the audited operation, in
	// nanoseconds on the wire.
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Broadcaster fans events out to live subscribers. The websocket hub
// implements it; a nil broadcaster disables the feed.
type Broadcaster interface {
	Broadcast(data []byte)
}

// Logger emits structured audit events.
type Logger struct {
	log         *zap.Logger
	broadcaster Broadcaster
}

// New builds an audit logger. broadcaster may be nil.
func New(log *zap.Logger, broadcaster Broadcaster) *Logger {
	return &Logger{log: log, broadcaster: broadcaster}
}

// Anonymize records a completed anonymize call.
func (l *Logger) Anonymize(sessionID string, entityCount int, elapsed time.Duration) {
	l.emit(Event{Kind: EventAnonymize, SessionID: sessionID, EntityCount: entityCount, Duration: elapsed})
}

// Deanonymize records a completed deanonymize call. A nonzero unresolved
// count is logged at warn level per the graceful-degradation contract.
func (l *Logger) Deanonymize(sessionID string, restored, unresolved int, elapsed time.Duration) {
	l.emit(Event{Kind: EventDeanonymize, SessionID: sessionID, EntityCount: restored, Unresolved: unresolved, Duration: elapsed})
}

// VaultExpire records a cleanup sweep that removed expired mappings.
func (l *Logger) VaultExpire(removed int) {
	l.emit(Event{Kind: EventVaultExpire, Expired: removed})
}

// VaultDelete records an explicit session deletion with its reason.
func (l *Logger) VaultDelete(sessionID, reason string) {
	l.emit(Event{Kind: EventVaultDelete, SessionID: sessionID, Reason: reason})
}

func (l *Logger) emit(e Event) {
	e.Timestamp = time.Now().UTC()

	fields := []zap.Field{
		zap.String("kind", string(e.Kind)),
		zap.Time("timestamp", e.Timestamp),
	}
	if e.SessionID != "" {
		fields = append(fields, zap.String("session_id", e.SessionID))
	}
	if e.EntityCount > 0 {
		fields = append(fields, zap.Int("entity_count", e.EntityCount))
	}
	if e.Expired > 0 {
		fields = append(fields, zap.Int("expired", e.Expired))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}

	if e.Unresolved > 0 {
		fields = append(fields, zap.Int("unresolved", e.Unresolved))
		l.log.Warn("Audit event", fields...)
	} else {
		l.log.Info("Audit event", fields...)
	}

	if l.broadcaster != nil {
		if data, err := json.Marshal(e); err == nil {
			l.broadcaster.Broadcast(data)
		}
	}
}
