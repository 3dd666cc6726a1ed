package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/confesso/core/internal/pkg/geo"
)

// Cache is the subset of the redis client the geocode cache needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Cached memoizes lookups by coordinate rounded to about 100 m, which keeps
// the request rate towards the public server low.
type Cached struct {
	next   Geocoder
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
}

func NewCached(next Geocoder, cache Cache, ttl time.Duration, logger *zap.Logger) *Cached {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger.Named("geocode.cache")}
}

func cacheKey(c geo.Coordinate) string {
	return fmt.Sprintf("geocode:%.3f,%.3f", c.Latitude, c.Longitude)
}

func (c *Cached) Reverse(ctx context.Context, coord geo.Coordinate) (Place, error) {
	key := cacheKey(coord)
	if raw, err := c.cache.Get(ctx, key); err != nil {
		c.logger.Warn("geocode cache read failed", zap.Error(err))
	} else if raw != "" {
		var p Place
		if err := json.Unmarshal([]byte(raw), &p); err == nil {
			return p, nil
		}
	}

	p, err := c.next.Reverse(ctx, coord)
	if err != nil {
		return Place{}, err
	}
	if p.Region == "" && p.City == "" {
		return p, nil
	}
	data, _ := json.Marshal(p)
	if err := c.cache.Set(ctx, key, string(data), c.ttl); err != nil {
		c.logger.Warn("geocode cache write failed", zap.Error(err))
	}
	return p, nil
}
