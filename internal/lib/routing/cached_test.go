package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gravewalk/server/internal/lib/geo"
)

type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) WalkingRoute(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	args := m.Called(ctx, origin, destination)
	if r := args.Get(0); r != nil {
		return r.(*Route), args.Error(1)
	}
	return nil, args.Error(1)
}

type memoryStore struct {
	routes map[string]*Route
}

func (s *memoryStore) GetRoute(key string) (*Route, bool, error) {
	r, ok := s.routes[key]
	return r, ok, nil
}

func (s *memoryStore) SetRoute(key string, route *Route, _ time.Duration) error {
	s.routes[key] = route
	return nil
}

var (
	levent = geo.Point{Latitude: 41.0782, Longitude: 29.0107}
	target = geo.Point{Latitude: 41.0717, Longitude: 29.0148}
)

func TestCachedRouter_ServesRepeatRequestsFromCache(t *testing.T) {
	inner := new(MockRouter)
	route := &Route{DistanceMeters: 820, DurationSeconds: 600}
	inner.On("WalkingRoute", mock.Anything, levent, target).Return(route, nil).Once()

	router := NewCachedRouter(inner, &memoryStore{routes: map[string]*Route{}}, time.Minute)

	got, err := router.WalkingRoute(logging.EnsureLogger(t.Context()), levent, target)
	require.NoError(t, err)
	assert.Equal(t, 820.0, got.DistanceMeters)

	// ~2m further along rounds to the same key
	nearby := geo.Point{Latitude: 41.07821, Longitude: 29.01071}
	got, err = router.WalkingRoute(logging.EnsureLogger(t.Context()), nearby, target)
	require.NoError(t, err)
	assert.Equal(t, 820.0, got.DistanceMeters)

	inner.AssertExpectations(t)
}

func TestCachedRouter_WrapsFailures(t *testing.T) {
	inner := new(MockRouter)
	inner.On("WalkingRoute", mock.Anything, levent, target).Return(nil, errors.New("HTTP 503"))

	router := NewCachedRouter(inner, &memoryStore{routes: map[string]*Route{}}, time.Minute)

	_, err := router.WalkingRoute(logging.EnsureLogger(t.Context()), levent, target)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoutingUnavailable)
	assert.Contains(t, err.Error(), "HTTP 503")
}

func TestRouteKey(t *testing.T) {
	a := RouteKey(geo.Point{Latitude: 41.07821, Longitude: 29.01071}, target)
	b := RouteKey(geo.Point{Latitude: 41.07819, Longitude: 29.01069}, target)
	c := RouteKey(geo.Point{Latitude: 41.0790, Longitude: 29.0107}, target)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "route:41.0782,29.0107:41.0717,29.0148", a)
}
