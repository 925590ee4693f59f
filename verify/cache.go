package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	resultKeyFormat = "iap:verify:%s:%s" // platform, receipt hash
	resultTTL       = 15 * time.Minute
)

// ResultCache keeps recent verification results in Redis so repeated
// submissions of the same receipt skip the store backend round trip.
type ResultCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewResultCache builds a cache around an existing Redis client.
func NewResultCache(client *redis.Client, logger *zap.Logger) *ResultCache {
	return &ResultCache{client: client, logger: logger}
}

// Get returns the cached result for the receipt hash, or nil on miss.
// Cache failures are logged and treated as misses.
func (c *ResultCache) Get(ctx context.Context, platform Platform, receiptHash string) *Result {
	key := fmt.Sprintf(resultKeyFormat, platform, receiptHash)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("verification cache read failed", zap.Error(err))
		}
		return nil
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Warn("verification cache entry corrupt", zap.Error(err))
		return nil
	}
	return &res
}

// Set stores a verification result. Failures are logged, not returned:
// the cache is advisory.
func (c *ResultCache) Set(ctx context.Context, platform Platform, receiptHash string, res *Result) {
	key := fmt.Sprintf(resultKeyFormat, platform, receiptHash)

	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("failed to marshal verification result", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, data, resultTTL).Err(); err != nil {
		c.logger.Warn("verification cache write failed", zap.Error(err))
	}
}
