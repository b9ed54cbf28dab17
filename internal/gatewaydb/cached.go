package gatewaydb

import (
	"context"
	"fmt"
	"time"

	"github.com/streamspace/realtime-gateway/internal/cache"
	"github.com/streamspace/realtime-gateway/internal/logger"
	"github.com/streamspace/realtime-gateway/internal/protocol"
)

// CachedDatabase wraps a *Database with an optional Redis read-through
// cache in front of GetMessages. A cache miss or any Redis error falls
// through to Postgres transparently; caching is never allowed to turn a
// successful read into a failure.
type CachedDatabase struct {
	*Database
	cache *cache.Cache
	ttl   time.Duration
}

// NewCached wraps db with c. Passing a disabled cache.Cache (Config{Enabled: false})
// is safe and makes every lookup a pass-through.
func NewCached(db *Database, c *cache.Cache, ttl time.Duration) *CachedDatabase {
	return &CachedDatabase{Database: db, cache: c, ttl: ttl}
}

func messagesCacheKey(conversationID string, take int8, afterSentAt time.Time) string {
	return fmt.Sprintf("gateway:messages:%s:%d:%d", conversationID, take, afterSentAt.UnixNano())
}

// GetMessages consults the cache before Postgres. Errors from the cache
// layer itself are logged and ignored, never propagated to the caller.
func (c *CachedDatabase) GetMessages(ctx context.Context, conversationID string, take int8, afterSentAt time.Time) ([]protocol.Message, error) {
	if c.cache == nil || !c.cache.IsEnabled() {
		return c.Database.GetMessages(ctx, conversationID, take, afterSentAt)
	}

	key := messagesCacheKey(conversationID, take, afterSentAt)

	var cached []protocol.Message
	if err := c.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	messages, err := c.Database.GetMessages(ctx, conversationID, take, afterSentAt)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, messages, c.ttl); err != nil {
		logger.Database().Warn().Err(err).Msg("failed to populate message cache, continuing without it")
	}

	return messages, nil
}
