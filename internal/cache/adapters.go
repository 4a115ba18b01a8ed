package cache

import (
	"time"

	"github.com/gravewalk/server/internal/lib/routing"
)

const (
	sourceRouting   = "routing"
	sourceNarration = "narration"
)

// RouteCacheAdapter makes the main Cache implement routing.RouteStore
type RouteCacheAdapter struct {
	cache *Cache
}

// NewRouteCacheAdapter creates an adapter for route caching
func NewRouteCacheAdapter(cache *Cache) *RouteCacheAdapter {
	return &RouteCacheAdapter{cache: cache}
}

// GetRoute implements routing.RouteStore
func (a *RouteCacheAdapter) GetRoute(key string) (*routing.Route, bool, error) {
	var route routing.Route
	found, err := a.cache.Get(key, &route)
	if err != nil || !found {
		return nil, false, err
	}
	return &route, true, nil
}

// SetRoute implements routing.RouteStore
func (a *RouteCacheAdapter) SetRoute(key string, route *routing.Route, ttl time.Duration) error {
	return a.cache.Set(key, route, ttl, sourceRouting)
}

// NarrationCacheAdapter makes the main Cache implement narration.Store.
// Keys are content hashes computed by the narrator.
type NarrationCacheAdapter struct {
	cache *Cache
}

// NewNarrationCacheAdapter creates an adapter for narration caching
func NewNarrationCacheAdapter(cache *Cache) *NarrationCacheAdapter {
	return &NarrationCacheAdapter{cache: cache}
}

// GetNarration implements narration.Store
func (a *NarrationCacheAdapter) GetNarration(contentHash string) (string, bool, error) {
	var text string
	found, err := a.cache.Get("narration:"+contentHash, &text)
	if err != nil || !found {
		return "", false, err
	}
	return text, true, nil
}

// SetNarration implements narration.Store
func (a *NarrationCacheAdapter) SetNarration(contentHash, text string, ttl time.Duration) error {
	return a.cache.Set("narration:"+contentHash, text, ttl, sourceNarration)
}
