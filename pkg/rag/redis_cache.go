package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCacheConfig holds Redis connection and TTL settings shared by the
// response cache and the embedding cache tier.
type RedisCacheConfig struct {
	Address      string `json:"address"`
	Password     string `json:"password"`
	Database     int    `json:"database"`
	PoolSize     int    `json:"pool_size"`
	MinIdleConns int    `json:"min_idle_conns"`
	MaxRetries   int    `json:"max_retries"`

	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`

	KeyPrefix    string        `json:"key_prefix"`
	ResponseTTL  time.Duration `json:"response_ttl"`
	EmbeddingTTL time.Duration `json:"embedding_ttl"`
}

func getDefaultRedisCacheConfig() *RedisCacheConfig {
	return &RedisCacheConfig{
		Address:      "localhost:6379",
		Database:     0,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "hrrag",
		ResponseTTL:  15 * time.Minute,
		EmbeddingTTL: 12 * time.Hour,
	}
}

// RedisCache backs both the ResponseCache interface and the embedding L2
// cache with a shared Redis client.
type RedisCache struct {
	client *redis.Client
	config *RedisCacheConfig
	logger *slog.Logger
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, config *RedisCacheConfig) (*RedisCache, error) {
	if config == nil {
		config = getDefaultRedisCacheConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Address, err)
	}

	return &RedisCache{
		client: client,
		config: config,
		logger: slog.Default().With("component", "redis-cache"),
	}, nil
}

func (rc *RedisCache) responseKey(fingerprint string) string {
	return rc.config.KeyPrefix + ":response:" + fingerprint
}

func (rc *RedisCache) embeddingKey(key string) string {
	return rc.config.KeyPrefix + ":embedding:" + key
}

// Get implements ResponseCache.
func (rc *RedisCache) Get(ctx context.Context, fingerprint string) (*CacheEntry, bool, error) {
	data, err := rc.client.Get(ctx, rc.responseKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, NewPipelineError(CodeCache, "cache", "redis get failed", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry is unrecoverable; drop it and report a miss.
		rc.client.Del(ctx, rc.responseKey(fingerprint))
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set implements ResponseCache. TTL comes from the entry's expiry when set,
// the configured default otherwise.
func (rc *RedisCache) Set(ctx context.Context, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return NewPipelineError(CodeCache, "cache", "failed to serialize cache entry", err)
	}

	ttl := rc.config.ResponseTTL
	if !entry.ExpiresAt.IsZero() {
		if remaining := time.Until(entry.ExpiresAt); remaining > 0 {
			ttl = remaining
		}
	}
	if err := rc.client.Set(ctx, rc.responseKey(entry.Fingerprint), data, ttl).Err(); err != nil {
		return NewPipelineError(CodeCache, "cache", "redis set failed", err)
	}
	return nil
}

// Delete implements ResponseCache.
func (rc *RedisCache) Delete(ctx context.Context, fingerprint string) error {
	if err := rc.client.Del(ctx, rc.responseKey(fingerprint)).Err(); err != nil {
		return NewPipelineError(CodeCache, "cache", "redis delete failed", err)
	}
	return nil
}

// GetVector implements the embedding cache tier.
func (rc *RedisCache) GetVector(ctx context.Context, key string) ([]float32, bool) {
	data, err := rc.client.Get(ctx, rc.embeddingKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		rc.logger.Debug("Embedding cache read failed", "error", err)
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		rc.client.Del(ctx, rc.embeddingKey(key))
		return nil, false
	}
	return vector, true
}

// SetVector implements the embedding cache tier. Write failures are silent;
// the cache is advisory.
func (rc *RedisCache) SetVector(ctx context.Context, key string, vector []float32, ttl time.Duration) {
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if ttl <= 0 {
		ttl = rc.config.EmbeddingTTL
	}
	if err := rc.client.Set(ctx, rc.embeddingKey(key), data, ttl).Err(); err != nil {
		rc.logger.Debug("Embedding cache write failed", "error", err)
	}
}

// Close releases the Redis client.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}
