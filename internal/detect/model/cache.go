package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/veil-sh/veil/internal/entity"
)

// CacheConfig configures the Redis inference cache.
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	TTL            time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
}

// InferenceCache memoizes model detections in Redis, keyed by a SHA-256 of
// the input text. Match values are never stored; they are rehydrated from
// the text on read, so the cache holds offsets and types but no raw PII.
type InferenceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

type cachedMatch struct {
	Type       entity.Type   `json:"type"`
	Start      int           `json:"start"`
	End        int           `json:"end"`
	Confidence float32       `json:"confidence"`
	Source     entity.Source `json:"source"`
}

// NewInferenceCache connects to Redis and verifies the connection.
func NewInferenceCache(cfg CacheConfig, logger *zap.Logger) (*InferenceCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger.Info("Inference cache initialized", zap.Duration("ttl", ttl))
	return &InferenceCache{client: client, ttl: ttl, logger: logger}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "veil:model:" + hex.EncodeToString(sum[:])
}

// Get returns the cached matches for text, or (nil, false) on a miss. Cache
// errors degrade to a miss so Redis outages never fail detection.
func (c *InferenceCache) Get(ctx context.Context, text string) ([]entity.Match, bool) {
	data, err := c.client.Get(ctx, cacheKey(text)).Result()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Inference cache lookup failed", zap.Error(err))
		return nil, false
	}

	var cached []cachedMatch
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		c.logger.Warn("Corrupted inference cache entry, dropping", zap.Error(err))
		c.client.Del(ctx, cacheKey(text))
		return nil, false
	}

	matches := make([]entity.Match, 0, len(cached))
	for _, m := range cached {
		if m.Start < 0 || m.End > len(text) || m.Start >= m.End {
			continue
		}
		matches = append(matches, entity.Match{
			Type:       m.Type,
			Value:      text[m.Start:m.End],
			Start:      m.Start,
			End:        m.End,
			Confidence: m.Confidence,
			Source:     m.Source,
		})
	}
	return matches, true
}

// Set stores matches for text with the configured TTL.
func (c *InferenceCache) Set(ctx context.Context, text string, matches []entity.Match) {
	cached := make([]cachedMatch, 0, len(matches))
	for _, m := range matches {
		cached = append(cached, cachedMatch{
			Type:       m.Type,
			Start:      m.Start,
			End:        m.End,
			Confidence: m.Confidence,
			Source:     m.Source,
		})
	}
	data, err := json.Marshal(cached)
	if err != nil {
		c.logger.Warn("Failed to marshal cache entry", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, cacheKey(text), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Inference cache store failed", zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *InferenceCache) Close() error {
	return c.client.Close()
}
