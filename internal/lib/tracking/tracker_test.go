package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravewalk/server/internal/lib/geo"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// ~1.1m per 0.00001 degree of latitude
func fixAt(offset time.Duration, latOffset float64) Fix {
	return Fix{
		Point:     geo.Point{Latitude: 41.07 + latOffset, Longitude: 29.0145},
		Timestamp: t0.Add(offset),
	}
}

type recorder struct {
	mu    sync.Mutex
	fixes []Fix
}

func (r *recorder) record(f Fix) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fixes = append(r.fixes, f)
}

func (r *recorder) snapshot() []Fix {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Fix(nil), r.fixes...)
}

func TestSampler_Accept(t *testing.T) {
	s := &sampler{policy: DefaultPolicy()}

	assert.True(t, s.accept(fixAt(0, 0)), "first fix is always forwarded")
	assert.False(t, s.accept(fixAt(500*time.Millisecond, 0.000003)), "0.3m after 0.5s")
	assert.True(t, s.accept(fixAt(1*time.Second, 0.00002)), "2.2m moved triggers")
	assert.False(t, s.accept(fixAt(1500*time.Millisecond, 0.00002)), "stationary, 0.5s")
	assert.True(t, s.accept(fixAt(3*time.Second, 0.00002)), "2s elapsed triggers")
}

func TestTracker_StartDeliversInOrder(t *testing.T) {
	provider := &ScriptedProvider{Fixes: []Fix{
		fixAt(0, 0),
		fixAt(100*time.Millisecond, 0.0001),
		fixAt(200*time.Millisecond, 0.0002),
		fixAt(300*time.Millisecond, 0.0002), // dropped by sampling
		fixAt(400*time.Millisecond, 0.0003),
	}}
	tracker := NewTracker(provider, DefaultPolicy())
	rec := &recorder{}

	sub, err := tracker.Start(logging.EnsureLogger(t.Context()), rec.record)
	require.NoError(t, err)
	assert.False(t, sub.Stopped())

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 4 }, time.Second, 5*time.Millisecond)

	got := rec.snapshot()
	assert.Equal(t, 41.07, got[0].Point.Latitude)
	assert.InDelta(t, 41.0701, got[1].Point.Latitude, 1e-9)
	assert.InDelta(t, 41.0702, got[2].Point.Latitude, 1e-9)
	assert.InDelta(t, 41.0703, got[3].Point.Latitude, 1e-9)

	tracker.Stop(sub)
	assert.True(t, sub.Stopped())
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	tracker := NewTracker(&ScriptedProvider{Fixes: []Fix{fixAt(0, 0)}}, DefaultPolicy())

	sub, err := tracker.Start(logging.EnsureLogger(t.Context()), func(Fix) {})
	require.NoError(t, err)

	tracker.Stop(sub)
	tracker.Stop(sub)
	sub.Stop()
	sub.Cancel()
	tracker.Stop(nil)

	assert.True(t, sub.Stopped())
	select {
	case <-sub.done:
	default:
		t.Fatal("delivery goroutine should have exited")
	}
}

func TestTracker_StartStopsPreviousSubscription(t *testing.T) {
	feed := NewFeedProvider()
	feed.Push(fixAt(0, 0))
	tracker := NewTracker(feed, DefaultPolicy())

	first, err := tracker.Start(logging.EnsureLogger(t.Context()), func(Fix) {})
	require.NoError(t, err)

	feed.Push(fixAt(5*time.Second, 0.001))
	second, err := tracker.Start(logging.EnsureLogger(t.Context()), func(Fix) {})
	require.NoError(t, err)

	assert.True(t, first.Stopped())
	select {
	case <-first.done:
	default:
		t.Fatal("first subscription should be fully stopped")
	}
	assert.False(t, second.Stopped())

	tracker.Stop(second)
}

func TestTracker_PermissionDenied(t *testing.T) {
	tracker := NewTracker(&ScriptedProvider{Denied: true}, DefaultPolicy())

	sub, err := tracker.Start(logging.EnsureLogger(t.Context()), func(Fix) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Nil(t, sub)
}

func TestTracker_NoCallbackAfterStop(t *testing.T) {
	feed := NewFeedProvider()
	feed.Push(fixAt(0, 0))
	tracker := NewTracker(feed, DefaultPolicy())
	rec := &recorder{}

	sub, err := tracker.Start(logging.EnsureLogger(t.Context()), rec.record)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)

	tracker.Stop(sub)
	feed.Push(fixAt(5*time.Second, 0.001))
	feed.Push(fixAt(10*time.Second, 0.002))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestTracker_StampsMissingTimestamps(t *testing.T) {
	feed := NewFeedProvider()
	feed.Push(Fix{Point: geo.Point{Latitude: 41.07, Longitude: 29.0145}})
	tracker := NewTracker(feed, DefaultPolicy()).WithClock(func() time.Time { return t0 })
	rec := &recorder{}

	sub, err := tracker.Start(logging.EnsureLogger(t.Context()), rec.record)
	require.NoError(t, err)
	defer tracker.Stop(sub)

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, t0, rec.snapshot()[0].Timestamp)
}

func TestTracker_DropsInvalidFixes(t *testing.T) {
	feed := NewFeedProvider()
	feed.Push(fixAt(0, 0))
	tracker := NewTracker(feed, DefaultPolicy())
	rec := &recorder{}

	sub, err := tracker.Start(logging.EnsureLogger(t.Context()), rec.record)
	require.NoError(t, err)
	defer tracker.Stop(sub)

	feed.Push(Fix{Point: geo.Point{Latitude: 120, Longitude: 29}, Timestamp: t0.Add(5 * time.Second)})
	feed.Push(fixAt(10*time.Second, 0.001))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 41.071, rec.snapshot()[1].Point.Latitude, 1e-9)
}

func TestFeedProvider_CurrentPosition(t *testing.T) {
	feed := NewFeedProvider()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := feed.CurrentPosition(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "blocks until the first fix")

	feed.Deny()
	_, err = feed.CurrentPosition(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)

	feed.Push(fixAt(0, 0))
	fix, err := feed.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41.07, fix.Point.Latitude)
}

func TestFeedProvider_WatchClosesOnCancel(t *testing.T) {
	feed := NewFeedProvider()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := feed.Watch(ctx)
	require.NoError(t, err)

	feed.Push(fixAt(0, 0))
	got := <-ch
	assert.Equal(t, 41.07, got.Point.Latitude)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestFeedProvider_CurrentPositionHandsOutEachFixOnce(t *testing.T) {
	feed := NewFeedProvider()
	feed.Push(fixAt(0, 0))

	fix, err := feed.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 41.07, fix.Point.Latitude)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = feed.CurrentPosition(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "waits for a position it has not returned yet")

	feed.Push(fixAt(time.Second, 0.001))
	feed.Push(fixAt(2*time.Second, 0.002))
	fix, err = feed.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 41.072, fix.Point.Latitude, 1e-9, "newest unseen fix wins")
}

func TestFeedProvider_WatchReplaysFixesSinceCurrentPosition(t *testing.T) {
	feed := NewFeedProvider()
	feed.Push(fixAt(0, 0.001))

	initial, err := feed.CurrentPosition(context.Background())
	require.NoError(t, err)

	// Pushed between the one-shot read and the stream subscription
	feed.Push(fixAt(time.Second, 0.002))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := feed.Watch(ctx)
	require.NoError(t, err)
	feed.Push(fixAt(2*time.Second, 0.003))

	got := []float64{initial.Point.Latitude, (<-ch).Point.Latitude, (<-ch).Point.Latitude}
	assert.InDeltaSlice(t, []float64{41.071, 41.072, 41.073}, got, 1e-9)
}

func TestFeedProvider_PushAfterWatcherCancelledIsKept(t *testing.T) {
	feed := NewFeedProvider()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := feed.Watch(ctx)
	require.NoError(t, err)
	cancel()

	feed.Push(fixAt(0, 0.001))

	fix, err := feed.CurrentPosition(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 41.071, fix.Point.Latitude, 1e-9)
}
