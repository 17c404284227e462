package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/cart-recovery-service/internal/model"
)

const recoveryConfigKey = "cart_recovery:config"

type ConfigLoader interface {
	GetConfig(ctx context.Context) (model.RecoveryConfig, error)
}

// ConfigCache serves the recovery config from Redis and falls back to the
// loader on a miss or when Redis is unavailable.
type ConfigCache struct {
	client *redis.Client
	loader ConfigLoader
	ttl    time.Duration
	log    zerolog.Logger
}

func NewConfigCache(client *redis.Client, loader ConfigLoader, ttl time.Duration, log zerolog.Logger) *ConfigCache {
	return &ConfigCache{client: client, loader: loader, ttl: ttl, log: log}
}

func (c *ConfigCache) GetConfig(ctx context.Context) (model.RecoveryConfig, error) {
	raw, err := c.client.Get(ctx, recoveryConfigKey).Bytes()
	if err == nil {
		var cfg model.RecoveryConfig
		if jsonErr := json.Unmarshal(raw, &cfg); jsonErr == nil {
			return cfg, nil
		}
		c.log.Warn().Msg("discarding undecodable cached recovery config")
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn().Err(err).Msg("redis read failed, loading recovery config from database")
	}

	cfg, err := c.loader.GetConfig(ctx)
	if err != nil {
		return model.RecoveryConfig{}, err
	}

	if raw, err := json.Marshal(cfg); err == nil {
		if err := c.client.Set(ctx, recoveryConfigKey, raw, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Msg("failed to cache recovery config")
		}
	}
	return cfg, nil
}
