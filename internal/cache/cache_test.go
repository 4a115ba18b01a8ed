package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/routing"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	return NewCache().WithClock(clock.Now), clock
}

func TestCache_SetGet(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("greeting", "merhaba", time.Minute, "test"))

	var got string
	found, err := c.Get("greeting", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "merhaba", got)

	clock.now = clock.now.Add(2 * time.Minute)
	found, err = c.Get("greeting", &got)
	require.NoError(t, err)
	assert.False(t, found, "expired entries are reported as missing")
	assert.Equal(t, 1, c.Stats().StaleEntries, "until cleanup removes them")
}

func TestCache_MissingKey(t *testing.T) {
	c, _ := newTestCache()

	var got string
	found, err := c.Get("missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_StatsAndCleanup(t *testing.T) {
	c, clock := newTestCache()

	require.NoError(t, c.Set("short", 1, time.Second, "test"))
	clock.now = clock.now.Add(time.Millisecond)
	require.NoError(t, c.Set("long", 2, time.Hour, "test"))
	clock.now = clock.now.Add(time.Minute)

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.FreshEntries)
	assert.Equal(t, 1, stats.StaleEntries)

	assert.Equal(t, 1, c.CleanupStale())
	assert.Equal(t, 1, c.Stats().TotalEntries)
	assert.Equal(t, 0, c.CleanupStale())
}

func TestRouteCacheAdapter(t *testing.T) {
	c, clock := newTestCache()
	adapter := NewRouteCacheAdapter(c)

	route := &routing.Route{
		Polyline: geo.Polyline{Points: []geo.Point{
			{Latitude: 41.0782, Longitude: 29.0107},
			{Latitude: 41.0717, Longitude: 29.0148},
		}},
		DistanceMeters:  820,
		DurationSeconds: 610,
	}
	require.NoError(t, adapter.SetRoute("route:a", route, time.Minute))

	got, found, err := adapter.GetRoute("route:a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, route, got)
	assert.NotSame(t, route, got, "cached values are copies")

	clock.now = clock.now.Add(time.Hour)
	got, found, err = adapter.GetRoute("route:a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestNarrationCacheAdapter(t *testing.T) {
	c, _ := newTestCache()
	adapter := NewNarrationCacheAdapter(c)

	_, found, err := adapter.GetNarration("abc")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, adapter.SetNarration("abc", "Keep left along Main Avenue.", time.Hour))
	text, found, err := adapter.GetNarration("abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Keep left along Main Avenue.", text)
}
