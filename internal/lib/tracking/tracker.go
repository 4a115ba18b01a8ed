package tracking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/gravewalk/server/internal/lib/geo"
)

// Tracker wraps a Provider into at most one active, throttled subscription
type Tracker struct {
	provider Provider
	policy   Policy
	now      func() time.Time

	mu     sync.Mutex
	active *Subscription
}

// NewTracker creates a Tracker sampling provider according to policy
func NewTracker(provider Provider, policy Policy) *Tracker {
	return &Tracker{
		provider: provider,
		policy:   policy,
		now:      time.Now,
	}
}

// WithClock replaces the clock used to stamp fixes that arrive without a timestamp
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Start begins sampling and calls onUpdate for every accepted fix, in arrival
// order, from a single goroutine. Any subscription already active is stopped
// first. The initial fix comes from Provider.CurrentPosition, so permission
// denial is reported here rather than through the stream.
func (t *Tracker) Start(ctx context.Context, onUpdate func(Fix)) (*Subscription, error) {
	t.mu.Lock()
	previous := t.active
	t.active = nil
	t.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}

	subCtx, cancel := context.WithCancel(logging.EnsureLogger(ctx))

	initial, err := t.provider.CurrentPosition(subCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to get current position: %w", err)
	}

	stream, err := t.provider.Watch(subCtx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch position: %w", err)
	}

	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	t.mu.Lock()
	t.active = sub
	t.mu.Unlock()

	s := &sampler{policy: t.policy}
	go sub.run(subCtx, t.stamp(initial), stream, s, t.stamp, onUpdate)

	return sub, nil
}

// Stop cancels sub. Stopping nil, an already stopped, or a replaced subscription is a no-op.
func (t *Tracker) Stop(sub *Subscription) {
	if sub == nil {
		return
	}

	t.mu.Lock()
	if t.active == sub {
		t.active = nil
	}
	t.mu.Unlock()

	sub.Stop()
}

func (t *Tracker) stamp(f Fix) Fix {
	if f.Timestamp.IsZero() {
		f.Timestamp = t.now()
	}
	return f
}

// Subscription is a running position stream
type Subscription struct {
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

// Cancel stops the subscription without waiting for an in-flight callback.
// Safe to call from inside onUpdate.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.stopped.Store(true)
	s.cancel()
}

// Stop cancels the subscription and waits for the delivery goroutine to exit,
// so no callback runs after it returns. Must not be called from inside onUpdate;
// use Cancel there.
func (s *Subscription) Stop() {
	if s == nil {
		return
	}
	s.Cancel()
	<-s.done
}

// Stopped reports whether Cancel or Stop has been called
func (s *Subscription) Stopped() bool {
	return s.stopped.Load()
}

func (s *Subscription) run(ctx context.Context, initial Fix, stream <-chan Fix, smp *sampler, stamp func(Fix) Fix, onUpdate func(Fix)) {
	defer close(s.done)

	deliver := func(f Fix) {
		if s.stopped.Load() {
			return
		}
		onUpdate(f)
	}

	smp.accept(initial)
	deliver(initial)

	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-stream:
			if !ok {
				logging.Debugw(ctx, "Position stream closed by provider")
				return
			}
			f = stamp(f)
			if !f.Point.IsValid() {
				logging.Warnw(ctx, "Dropping fix with invalid coordinates",
					"latitude", f.Point.Latitude, "longitude", f.Point.Longitude)
				continue
			}
			if smp.accept(f) {
				deliver(f)
			}
		}
	}
}

// sampler forwards a fix when either threshold of the policy is met
type sampler struct {
	policy Policy
	last   Fix
	have   bool
}

func (s *sampler) accept(f Fix) bool {
	if !s.have {
		s.last, s.have = f, true
		return true
	}

	elapsed := f.Timestamp.Sub(s.last.Timestamp)
	moved := geo.HaversineDistance(s.last.Point, f.Point)

	if elapsed >= s.policy.MinInterval || moved >= s.policy.MinDistanceMeters {
		s.last = f
		return true
	}
	return false
}
