package routing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/gravewalk/server/internal/lib/geo"
)

// RouteStore provides caching for computed routes.
// Implemented by the main Cache through cache.RouteCacheAdapter.
type RouteStore interface {
	GetRoute(key string) (*Route, bool, error)
	SetRoute(key string, route *Route, ttl time.Duration) error
}

// CachedRouter wraps a Router with a route cache keyed on rounded coordinates
type CachedRouter struct {
	router Router
	store  RouteStore
	ttl    time.Duration
}

// NewCachedRouter creates a router that serves repeated requests from store
func NewCachedRouter(router Router, store RouteStore, ttl time.Duration) *CachedRouter {
	return &CachedRouter{
		router: router,
		store:  store,
		ttl:    ttl,
	}
}

// WalkingRoute returns a cached route when origin and destination round to a
// previous request, otherwise asks the wrapped router. Failures are wrapped in
// ErrRoutingUnavailable.
func (c *CachedRouter) WalkingRoute(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	key := RouteKey(origin, destination)

	if cached, found, err := c.store.GetRoute(key); err == nil && found {
		logging.Debugw(ctx, "Route cache hit", "key", key)
		return cached, nil
	}

	route, err := c.router.WalkingRoute(ctx, origin, destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRoutingUnavailable, err)
	}

	if err := c.store.SetRoute(key, route, c.ttl); err != nil {
		// Don't fail the request if caching fails
		logging.Warnw(ctx, "Failed to cache route", "key", key, "error", err)
	}

	return route, nil
}

// RouteKey rounds both points to 4 decimal places (about 11m) so nearby fixes share a route
func RouteKey(origin, destination geo.Point) string {
	return fmt.Sprintf("route:%.4f,%.4f:%.4f,%.4f",
		round4(origin.Latitude), round4(origin.Longitude),
		round4(destination.Latitude), round4(destination.Longitude))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
