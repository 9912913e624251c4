// Package cache provides a Redis-backed read cache for project settings.
// The classification queue reads settings on every job; caching keeps the
// hot eligibility check off Postgres. The cache is optional: a nil
// *SettingsCache is a valid no-op.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "lumenfeed:project_settings:"
	defaultTTL = 5 * time.Minute
)

// SettingsCache caches domain.ProjectSettings by project id.
type SettingsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewSettingsCache connects to Redis and returns a cache handle.
func NewSettingsCache(ctx context.Context, cfg Config) (*SettingsCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &SettingsCache{client: client, ttl: cfg.TTL}, nil
}

// Close releases the underlying connection.
func (c *SettingsCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Get returns cached settings for the project, or false on miss.
// Redis errors are treated as misses so the caller falls back to the store.
func (c *SettingsCache) Get(ctx context.Context, projectID string) (*domain.ProjectSettings, bool) {
	if c == nil {
		return nil, false
	}

	raw, err := c.client.Get(ctx, keyPrefix+projectID).Bytes()
	if err != nil {
		return nil, false
	}

	var settings domain.ProjectSettings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, false
	}
	return &settings, true
}

// Set stores settings for the project with the configured TTL.
func (c *SettingsCache) Set(ctx context.Context, settings *domain.ProjectSettings) error {
	if c == nil || settings == nil {
		return nil
	}

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+settings.ProjectID, raw, c.ttl).Err()
}

// Invalidate drops the cached settings for a project.
func (c *SettingsCache) Invalidate(ctx context.Context, projectID string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, keyPrefix+projectID).Err()
}
