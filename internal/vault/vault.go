// Package vault persists entity mappings across pluggable backends. Expiry
// is a normal outcome: a lookup that finds nothing, or something past its
// TTL, returns nil without error.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/entity"
)

// ErrClosed is returned by operations on a vault that has been shut down.
var ErrClosed = errors.New("vault is closed")

// Store is the vault contract shared by every backend. Mutations are atomic
// per key; StoreBatch is all-or-nothing so a failed anonymize call never
// leaves a session half-written.
type Store interface {
	// Store persists a single mapping.
	Store(ctx context.Context, m entity.Mapping) error
	// StoreBatch persists all mappings or none of them.
	StoreBatch(ctx context.Context, mappings []entity.Mapping) error
	// Get returns the mapping for (session, placeholder), or nil when the
	// key is absent or expired.
	Get(ctx context.Context, sessionID, placeholder string) (*entity.Mapping, error)
	// GetSession returns the session with its unexpired mappings, or nil
	// when the session is unknown or fully expired.
	GetSession(ctx context.Context, sessionID string) (*entity.Session, error)
	// DeleteSession removes every mapping under the session. Deleting an
	// unknown session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) error
	// ListSessions returns the ids of sessions holding unexpired mappings.
	ListSessions(ctx context.Context) ([]string, error)
	// CleanupExpired removes expired entries and reports how many went.
	// Advisory for backends with native TTL.
	CleanupExpired(ctx context.Context) (int, error)
	// Close releases backend resources.
	Close() error
}

// Config selects and configures the backend.
type Config struct {
	// Backend is memory, redis, or postgres.
	Backend string `yaml:"backend" mapstructure:"backend"`
	// TTL caps the lifetime of every stored mapping regardless of what the
	// caller requested. Zero means no ceiling.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`
	// EncryptionKey, when set, wraps the backend in AES-256-GCM encryption
	// of original values. Hex-encoded 32 bytes.
	EncryptionKey string         `yaml:"encryption_key" mapstructure:"encryption_key"`
	Redis         RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Postgres      PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
	// CleanupInterval drives the background janitor for backends without
	// native expiry. Zero disables it.
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`
}

// New builds the configured backend, wrapped in encryption when a key is
// configured.
func New(cfg Config, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "", "memory":
		store = NewMemoryStore(logger)
	case "redis":
		store, err = NewRedisStore(cfg.Redis, logger)
	case "postgres":
		store, err = NewPostgresStore(cfg.Postgres, logger)
	default:
		return nil, fmt.Errorf("unknown vault backend: %s", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s vault: %w", cfg.Backend, err)
	}

	if cfg.EncryptionKey != "" {
		store, err = NewEncryptedStore(store, cfg.EncryptionKey)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to enable vault encryption: %w", err)
		}
		logger.Info("Vault encryption enabled")
	}
	if cfg.TTL > 0 {
		store = &cappedStore{innerStore: store, ttl: cfg.TTL}
	}
	return store, nil
}

// innerStore aliases Store so cappedStore can embed it without the field
// name colliding with the Store method.
type innerStore = Store

// cappedStore enforces the vault-level TTL ceiling on writes.
type cappedStore struct {
	innerStore
	ttl time.Duration
}

func (s *cappedStore) cap(m entity.Mapping) entity.Mapping {
	base := m.CreatedAt
	if base.IsZero() {
		base = time.Now()
	}
	if limit := base.Add(s.ttl); m.ExpiresAt.IsZero() || m.ExpiresAt.After(limit) {
		m.ExpiresAt = limit
	}
	return m
}

func (s *cappedStore) Store(ctx context.Context, m entity.Mapping) error {
	return s.innerStore.Store(ctx, s.cap(m))
}

func (s *cappedStore) StoreBatch(ctx context.Context, mappings []entity.Mapping) error {
	capped := make([]entity.Mapping, len(mappings))
	for i, m := range mappings {
		capped[i] = s.cap(m)
	}
	return s.innerStore.StoreBatch(ctx, capped)
}
