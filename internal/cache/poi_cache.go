package cache

import (
	"context"
	"time"

	"jejubus/internal/domain"
)

// POICache keeps the last good points-of-interest response so a restart can
// still draw them when the feed is down.
type POICache struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewPOICache(cache *RedisCache, ttl time.Duration) *POICache {
	return &POICache{cache: cache, ttl: ttl}
}

type poiSnapshot struct {
	POIs    []*domain.POI `json:"pois"`
	SavedAt time.Time     `json:"saved_at"`
}

func (c *POICache) SavePOIs(ctx context.Context, pois []*domain.POI) error {
	return c.cache.SetJSONCompressed(ctx, KeyPOISnapshot, poiSnapshot{POIs: pois, SavedAt: time.Now()}, c.ttl)
}

func (c *POICache) LoadPOIs(ctx context.Context) ([]*domain.POI, bool, error) {
	var snap poiSnapshot
	ok, err := c.cache.GetJSONCompressed(ctx, KeyPOISnapshot, &snap)
	if err != nil || !ok {
		return nil, false, err
	}
	return snap.POIs, true, nil
}
