// Package cache decorates the daily history source with Redis caching.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"TradeSentinel/internal/model"
)

// HistorySource fetches daily bars.
type HistorySource interface {
	History(ctx context.Context, code string, days int) ([]model.PriceBar, error)
}

// CachingHistory caches daily histories per code, window size and trading date.
// A nil Redis client turns it into a passthrough.
type CachingHistory struct {
	inner HistorySource
	rdb   *redis.Client
	ttl   time.Duration
	now   func() time.Time
	loc   *time.Location
}

// NewCachingHistory wraps inner. If ttl is 0, it defaults to 10 minutes.
func NewCachingHistory(rdb *redis.Client, ttl time.Duration, inner HistorySource, loc *time.Location) *CachingHistory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CachingHistory{inner: inner, rdb: rdb, ttl: ttl, now: time.Now, loc: loc}
}

// History returns cached bars when present, otherwise fetches and stores them.
// Redis failures fall through to the inner source.
func (c *CachingHistory) History(ctx context.Context, code string, days int) ([]model.PriceBar, error) {
	if c.rdb == nil {
		return c.inner.History(ctx, code, days)
	}
	key := c.key(code, days)

	if b, err := c.rdb.Get(ctx, key).Bytes(); err == nil && len(b) > 0 {
		var bars []model.PriceBar
		if err := json.Unmarshal(b, &bars); err == nil {
			return bars, nil
		}
		log.Printf("[WARN] dropping corrupted history cache %s", key)
		_ = c.rdb.Del(ctx, key).Err()
	} else if err != nil && err != redis.Nil {
		log.Printf("[WARN] history cache get %s: %v", key, err)
	}

	bars, err := c.inner.History(ctx, code, days)
	if err != nil {
		return nil, err
	}
	// Absence is not cached; the next scan asks again.
	if len(bars) == 0 {
		return bars, nil
	}
	if b, err := json.Marshal(bars); err == nil {
		if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
			log.Printf("[WARN] history cache set %s: %v", key, err)
		}
	}
	return bars, nil
}

func (c *CachingHistory) key(code string, days int) string {
	return fmt.Sprintf("history:%s:%d:%s", code, days, c.now().In(c.loc).Format("20060102"))
}
