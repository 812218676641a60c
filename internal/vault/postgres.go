package vault

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/entity"
)

// PostgresConfig configures the durable vault backend.
type PostgresConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// PostgresStore is the durable vault backend. Expiry is enforced on read
// (expired rows are invisible) and reclaimed by CleanupExpired.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

const createMappingsTable = `
	CREATE TABLE IF NOT EXISTS vault_mappings (
		session_id     TEXT        NOT NULL,
		placeholder    TEXT        NOT NULL,
		entity_type    TEXT        NOT NULL,
		original_value TEXT        NOT NULL,
		confidence     REAL        NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL,
		expires_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (session_id, placeholder)
	);
	CREATE INDEX IF NOT EXISTS idx_vault_mappings_expires_at
		ON vault_mappings (expires_at);`

// NewPostgresStore connects, verifies the connection, and bootstraps the
// schema.
func NewPostgresStore(cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &PostgresStore{db: db, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Postgres vault initialized",
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))
	return s, nil
}

func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createMappingsTable); err != nil {
		return fmt.Errorf("failed to create vault schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Store(ctx context.Context, m entity.Mapping) error {
	return s.StoreBatch(ctx, []entity.Mapping{m})
}

// StoreBatch writes every mapping in one transaction.
func (s *PostgresStore) StoreBatch(ctx context.Context, mappings []entity.Mapping) error {
	if len(mappings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO vault_mappings
			(session_id, placeholder, entity_type, original_value, confidence, created_at, expires_at)
		VALUES (:session_id, :placeholder, :entity_type, :original_value, :confidence, :created_at, :expires_at)
		ON CONFLICT (session_id, placeholder) DO UPDATE SET
			original_value = EXCLUDED.original_value,
			confidence     = EXCLUDED.confidence,
			expires_at     = EXCLUDED.expires_at`
	for _, m := range mappings {
		if _, err := tx.NamedExecContext(ctx, query, m); err != nil {
			return fmt.Errorf("failed to store mapping %s: %w", m.Placeholder, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit mappings: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, sessionID, placeholder string) (*entity.Mapping, error) {
	const query = `
		SELECT session_id, placeholder, entity_type, original_value, confidence, created_at, expires_at
		FROM vault_mappings
		WHERE session_id = $1 AND placeholder = $2 AND expires_at > NOW()`

	var m entity.Mapping
	err := s.db.GetContext(ctx, &m, query, sessionID, placeholder)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*entity.Session, error) {
	const query = `
		SELECT session_id, placeholder, entity_type, original_value, confidence, created_at, expires_at
		FROM vault_mappings
		WHERE session_id = $1 AND expires_at > NOW()
		ORDER BY placeholder`

	var mappings []entity.Mapping
	if err := s.db.SelectContext(ctx, &mappings, query, sessionID); err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if len(mappings) == 0 {
		return nil, nil
	}

	session := &entity.Session{ID: sessionID, Mappings: mappings}
	for _, m := range mappings {
		if session.CreatedAt.IsZero() || m.CreatedAt.Before(session.CreatedAt) {
			session.CreatedAt = m.CreatedAt
		}
		if m.ExpiresAt.After(session.ExpiresAt) {
			session.ExpiresAt = m.ExpiresAt
		}
	}
	return session, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_mappings WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]string, error) {
	var ids []string
	const query = `
		SELECT DISTINCT session_id FROM vault_mappings
		WHERE expires_at > NOW()
		ORDER BY session_id`
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM vault_mappings WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired mappings: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count removed mappings: %w", err)
	}
	if removed > 0 {
		s.logger.Debug("Expired mappings removed", zap.Int64("count", removed))
	}
	return int(removed), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides credentials in log output.
func maskDatabaseURL(url string) string {
	if at := strings.Index(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 && scheme+3 < at {
			return url[:scheme+3] + "***:***" + url[at:]
		}
	}
	return url
}
