package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/entity"
)

const redisKeyPrefix = "veil:vault:"

// RedisConfig configures the Redis vault backend.
type RedisConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
}

// RedisStore persists mappings in Redis, one key per (session, placeholder),
// with expiry delegated to Redis's native TTL. CleanupExpired is therefore
// advisory.
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis vault initialized", zap.Int("pool_size", opts.PoolSize))
	return &RedisStore{client: client, logger: logger}, nil
}

func redisKey(sessionID, placeholder string) string {
	return redisKeyPrefix + sessionID + ":" + placeholder
}

func (s *RedisStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *RedisStore) Store(ctx context.Context, m entity.Mapping) error {
	return s.StoreBatch(ctx, []entity.Mapping{m})
}

// StoreBatch writes every mapping in one MULTI/EXEC pipeline so a failed
// call leaves nothing behind.
func (s *RedisStore) StoreBatch(ctx context.Context, mappings []entity.Mapping) error {
	if err := s.guard(); err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	now := time.Now()
	for _, m := range mappings {
		ttl := m.ExpiresAt.Sub(now)
		if ttl <= 0 {
			continue
		}
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal mapping: %w", err)
		}
		pipe.Set(ctx, redisKey(m.SessionID, m.Placeholder), data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store mappings: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID, placeholder string) (*entity.Mapping, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, redisKey(sessionID, placeholder)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping: %w", err)
	}

	var m entity.Mapping
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mapping: %w", err)
	}
	if m.Expired() {
		return nil, nil
	}
	return &m, nil
}

// sessionKeys SCANs the keyspace of one session without blocking Redis.
func (s *RedisStore) sessionKeys(ctx context.Context, sessionID string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+sessionID+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session keys: %w", err)
	}
	return keys, nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*entity.Session, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	keys, err := s.sessionKeys(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session mappings: %w", err)
	}

	session := &entity.Session{ID: sessionID}
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			continue
		}
		var m entity.Mapping
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			s.logger.Warn("Corrupted vault entry skipped", zap.Error(err))
			continue
		}
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

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.guard(); err != nil {
		return err
	}

	keys, err := s.sessionKeys(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) ListSessions(ctx context.Context) ([]string, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), redisKeyPrefix)
		if idx := strings.IndexByte(rest, ':'); idx > 0 {
			seen[rest[:idx]] = true
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CleanupExpired is a no-op: Redis evicts keys via its native TTL.
func (s *RedisStore) CleanupExpired(_ context.Context) (int, error) {
	if err := s.guard(); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
