package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/routing"
	"github.com/gravewalk/server/internal/lib/tracking"
)

// DefaultRouteRefreshInterval limits how often the external router is asked for a new route
const DefaultRouteRefreshInterval = 30 * time.Second

// Options configures a Session. Tracker is required; every other field is optional.
type Options struct {
	ID          string
	Tracker     *tracking.Tracker
	Router      routing.Router
	PathMatcher routing.PathMatcher
	Notifier    ArrivalNotifier
	Narrator    Narrator
	Metrics     Recorder

	// OnChange is called with a snapshot after every state change, in processing
	// order, with the session locked. It must not call back into the session.
	OnChange func(Snapshot)

	Clock      func() time.Time
	Thresholds Thresholds

	RouteRefreshInterval time.Duration

	// BoundaryDebounce is the number of consecutive fixes that must disagree with
	// the current side of the boundary before it flips. Zero flips on every fix.
	BoundaryDebounce int

	// BaseContext carries the logger for work the session does on its own
	// goroutines: fix processing, routing, narration and arrival notices.
	// Cancelling it aborts in-flight routing and narration requests.
	BaseContext context.Context
}

// Session is one navigation towards one grave. It is the only writer of its
// derived state; the tracker only delivers raw fixes.
type Session struct {
	id        string
	geography *cemetery.Geography
	target    cemetery.GraveTarget
	opts      Options
	now       func() time.Time
	baseCtx   context.Context

	mu         sync.Mutex
	generation uint64
	sub        *tracking.Subscription
	starting   bool
	stopTrack  context.CancelFunc

	phase           Phase
	position        *geo.Point
	accuracy        float64
	distance        float64
	bearing         float64
	progress        float64
	instruction     string
	eta             *int
	inside          bool
	startedAt       time.Time
	updatedAt       time.Time
	externalRoute   *routing.Route
	currentPath     *routing.PathMatch
	narration       string
	lastError       string
	fixesProcessed  int
	arrivalNotified bool

	haveSide      bool
	disagreements int

	routeInFlight   bool
	routeCancel     context.CancelFunc
	lastRouteAt     time.Time
	narrationCancel context.CancelFunc
}

// NewSession creates an idle session. The target must carry a valid coordinate.
func NewSession(geography *cemetery.Geography, target cemetery.GraveTarget, opts Options) (*Session, error) {
	if geography == nil {
		return nil, errors.New("geography is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("tracker is required")
	}
	if !target.Coordinate.IsValid() || target.Coordinate.IsZero() {
		return nil, fmt.Errorf("%w: grave %q has no valid coordinate", cemetery.ErrInvalidTarget, target.GraveID)
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Thresholds.NearMeters <= 0 {
		opts.Thresholds.NearMeters = DefaultNearThresholdMeters
	}
	if opts.Thresholds.ArrivalMeters <= 0 {
		opts.Thresholds.ArrivalMeters = DefaultArrivalThresholdMeters
	}
	if opts.Thresholds.NearMeters < opts.Thresholds.ArrivalMeters {
		opts.Thresholds.NearMeters = opts.Thresholds.ArrivalMeters
	}
	if opts.RouteRefreshInterval <= 0 {
		opts.RouteRefreshInterval = DefaultRouteRefreshInterval
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}

	s := &Session{
		id:        opts.ID,
		geography: geography,
		target:    target,
		opts:      opts,
		now:       opts.Clock,
		baseCtx:   logging.EnsureLogger(opts.BaseContext),
		phase:     PhaseIdle,
	}
	s.updatedAt = s.now()
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Target returns the grave being navigated to
func (s *Session) Target() cemetery.GraveTarget {
	return s.target
}

// Phase returns the current phase
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Tracking reports whether a location subscription is running or being started
func (s *Session) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starting || (s.sub != nil && !s.sub.Stopped())
}

// Start moves an idle session to Locating and subscribes to location updates.
// It blocks until the provider returns a first position. On permission denial
// the session stays in Locating, the error is returned, and Start may be
// called again. Calling Start while a subscription is active is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if proceed, err := s.enterLocatingLocked(); !proceed {
		s.mu.Unlock()
		return err
	}
	return s.beginTrackingLocked(ctx)
}

// StartAsync is Start without waiting for the first position: the session is
// in Locating when it returns, and done (if set) later receives what Start
// would have returned. ctx bounds the whole subscription, not just the call.
func (s *Session) StartAsync(ctx context.Context, done func(error)) error {
	s.mu.Lock()
	if proceed, err := s.enterLocatingLocked(); !proceed {
		s.mu.Unlock()
		return err
	}
	s.trackAsyncLocked(ctx, done)
	return nil
}

// enterLocatingLocked reports whether tracking should begin
func (s *Session) enterLocatingLocked() (bool, error) {
	if s.phase != PhaseIdle && s.phase != PhaseLocating {
		return false, fmt.Errorf("%w: cannot start from %s", ErrInvalidState, s.phase)
	}
	if s.starting || (s.sub != nil && !s.sub.Stopped()) {
		return false, nil
	}
	if s.phase == PhaseIdle {
		s.startedAt = s.now()
	}
	s.setPhaseLocked(PhaseLocating)
	s.instruction = InstructionFor(PhaseLocating)
	s.emitLocked()
	return true, nil
}

// Reset leaves Arrived and resumes tracking, for users who continue walking
// after the arrival confirmation.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if err := s.leaveArrivedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	return s.beginTrackingLocked(ctx)
}

// ResetAsync is Reset without waiting for the next position
func (s *Session) ResetAsync(ctx context.Context, done func(error)) error {
	s.mu.Lock()
	if err := s.leaveArrivedLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.trackAsyncLocked(ctx, done)
	return nil
}

func (s *Session) leaveArrivedLocked() error {
	if s.phase != PhaseArrived {
		return fmt.Errorf("%w: cannot reset from %s", ErrInvalidState, s.phase)
	}
	s.arrivalNotified = false
	s.eta = nil
	s.setPhaseLocked(PhaseLocating)
	s.instruction = InstructionFor(PhaseLocating)
	s.progress = 0
	s.emitLocked()
	return nil
}

// Acknowledge confirms the arrival and ends the session
func (s *Session) Acknowledge() error {
	s.mu.Lock()
	if s.phase != PhaseArrived {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot acknowledge from %s", ErrInvalidState, phase)
	}
	s.mu.Unlock()

	s.Stop()
	return nil
}

// Stop returns the session to Idle from any phase. It cancels the location
// subscription and any routing request; once it returns no further fix is
// processed and no callback fires.
func (s *Session) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.generation++
	s.cancelAsyncLocked()
	if s.stopTrack != nil {
		s.stopTrack()
		s.stopTrack = nil
	}

	wasIdle := s.phase == PhaseIdle
	s.setPhaseLocked(PhaseIdle)
	s.clearLocked()
	if !wasIdle {
		s.emitLocked()
	}
	s.mu.Unlock()

	// Outside the lock: the delivery goroutine may be waiting for it
	s.opts.Tracker.Stop(sub)
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

type trackingAttempt struct {
	gen      uint64
	trackCtx context.Context
	cancel   context.CancelFunc
	previous *tracking.Subscription
}

// beginTrackingLocked starts the tracker. Called with s.mu held; returns with it released.
func (s *Session) beginTrackingLocked(ctx context.Context) error {
	attempt := s.prepareTrackingLocked(ctx)
	s.mu.Unlock()
	return s.finishTracking(attempt)
}

// trackAsyncLocked starts the tracker in the background. Called with s.mu held; returns with it released.
func (s *Session) trackAsyncLocked(ctx context.Context, done func(error)) {
	attempt := s.prepareTrackingLocked(ctx)
	s.mu.Unlock()

	go func() {
		err := s.finishTracking(attempt)
		if done != nil {
			done(err)
		}
	}()
}

func (s *Session) prepareTrackingLocked(ctx context.Context) trackingAttempt {
	s.generation++
	s.cancelAsyncLocked()
	if s.stopTrack != nil {
		s.stopTrack()
	}
	if logging.FromContext(ctx) == nil {
		ctx = logging.With(ctx, logging.FromContext(s.baseCtx))
	}
	trackCtx, cancel := context.WithCancel(ctx)
	s.starting = true
	s.stopTrack = cancel
	previous := s.sub
	s.sub = nil
	return trackingAttempt{gen: s.generation, trackCtx: trackCtx, cancel: cancel, previous: previous}
}

// finishTracking waits for the first fix without holding s.mu
func (s *Session) finishTracking(a trackingAttempt) error {
	s.opts.Tracker.Stop(a.previous)
	sub, err := s.opts.Tracker.Start(a.trackCtx, func(f tracking.Fix) {
		s.handleFix(a.gen, f)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if a.gen != s.generation {
		// Stopped while waiting for the first fix
		a.cancel()
		if sub != nil {
			sub.Cancel()
		}
		return ErrSessionStopped
	}

	s.starting = false
	if err != nil {
		a.cancel()
		s.stopTrack = nil
		s.lastError = err.Error()
		s.emitLocked()
		if errors.Is(err, tracking.ErrPermissionDenied) {
			logging.Warnw(s.baseCtx, "Location permission denied", "session_id", s.id)
			return err
		}
		return fmt.Errorf("failed to start tracking: %w", err)
	}

	s.sub = sub
	if s.phase == PhaseArrived {
		// The first fix was already at the target
		sub.Cancel()
	}
	return nil
}

// handleFix applies one accepted fix. Fixes from a stopped or replaced
// subscription, or arriving after Arrived, are dropped.
func (s *Session) handleFix(gen uint64, fix tracking.Fix) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || !s.phase.Tracking() {
		return
	}

	p := fix.Point
	first := s.phase == PhaseLocating

	s.fixesProcessed++
	s.position = &p
	s.accuracy = fix.AccuracyMeters
	s.distance = geo.HaversineDistance(p, s.target.Coordinate)
	s.bearing = geo.Bearing(p, s.target.Coordinate)
	s.inside = s.boundarySideLocked(s.geography.ContainsPoint(p))
	s.lastError = ""
	if !fix.Timestamp.IsZero() {
		s.updatedAt = fix.Timestamp
	} else {
		s.updatedAt = s.now()
	}

	if first {
		eta := EstimateArrivalMinutes(s.distance)
		s.eta = &eta
	}

	previous := s.phase
	next := s.opts.Thresholds.PhaseFor(s.distance, s.inside)
	s.setPhaseLocked(next)
	s.instruction = InstructionFor(next)
	s.progress = ProgressFor(next, s.distance)
	s.opts.Metrics.FixProcessed(next)

	if s.inside {
		s.externalRoute = nil
	}
	s.updatePathMatchLocked(p)

	switch next {
	case PhaseOutsideBoundary:
		s.requestRouteLocked(p)
	case PhaseArrived:
		s.arriveLocked(s.baseCtx, p)
	}

	if next != previous {
		s.narration = ""
		s.requestNarrationLocked()
	}

	s.emitLocked()
}

func (s *Session) arriveLocked(ctx context.Context, p geo.Point) {
	if s.sub != nil {
		s.sub.Cancel()
	}
	s.cancelAsyncLocked()
	s.currentPath = nil

	if s.arrivalNotified {
		return
	}
	s.arrivalNotified = true

	arrivedAt := s.now()
	s.opts.Metrics.Arrived(arrivedAt.Sub(s.startedAt))
	logging.Infow(ctx, "Arrived at grave",
		"session_id", s.id, "grave_id", s.target.GraveID, "distance_meters", s.distance)

	if s.opts.Notifier == nil {
		return
	}
	event := ArrivalEvent{
		SessionID:      s.id,
		GraveID:        s.target.GraveID,
		GraveName:      s.target.Name,
		Position:       p,
		DistanceMeters: s.distance,
		StartedAt:      s.startedAt,
		ArrivedAt:      arrivedAt,
	}
	if err := s.opts.Notifier.NotifyArrival(ctx, event); err != nil {
		logging.Warnw(ctx, "Arrival notification failed", "session_id", s.id, "error", err)
	}
}

// boundarySideLocked applies the optional debounce to the raw containment test
func (s *Session) boundarySideLocked(raw bool) bool {
	if s.opts.BoundaryDebounce <= 0 || !s.haveSide {
		s.haveSide = true
		s.disagreements = 0
		return raw
	}
	if raw == s.inside {
		s.disagreements = 0
		return s.inside
	}
	s.disagreements++
	if s.disagreements >= s.opts.BoundaryDebounce {
		s.disagreements = 0
		return raw
	}
	return s.inside
}

func (s *Session) updatePathMatchLocked(p geo.Point) {
	s.currentPath = nil
	if s.opts.PathMatcher == nil || !s.inside {
		return
	}
	match, ok, err := s.opts.PathMatcher.Match(p, s.geography.Paths())
	if err != nil || !ok {
		return
	}
	s.currentPath = &match
}

// requestRouteLocked starts a routing request unless one is in flight or the
// last one was too recent. The result is applied only if the session is still
// on the same generation and outside the boundary.
func (s *Session) requestRouteLocked(origin geo.Point) {
	if s.opts.Router == nil || s.routeInFlight {
		return
	}
	now := s.now()
	if !s.lastRouteAt.IsZero() && now.Sub(s.lastRouteAt) < s.opts.RouteRefreshInterval {
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.routeInFlight = true
	s.routeCancel = cancel
	s.lastRouteAt = now
	gen := s.generation
	destination := s.target.Coordinate

	go func() {
		defer cancel()
		route, err := s.opts.Router.WalkingRoute(ctx, origin, destination)

		s.mu.Lock()
		defer s.mu.Unlock()

		if gen != s.generation {
			return
		}
		s.routeInFlight = false
		s.routeCancel = nil

		if err != nil {
			if ctx.Err() == nil {
				s.opts.Metrics.RouteRequested(err)
				logging.Warnw(ctx, "Walking route request failed", "session_id", s.id, "error", err)
			}
			return
		}
		s.opts.Metrics.RouteRequested(nil)
		if s.phase != PhaseOutsideBoundary {
			return
		}
		s.externalRoute = route
		s.emitLocked()
	}()
}

func (s *Session) requestNarrationLocked() {
	if s.narrationCancel != nil {
		s.narrationCancel()
		s.narrationCancel = nil
	}
	if s.opts.Narrator == nil || !(s.phase.Navigating() || s.phase == PhaseArrived) {
		return
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.narrationCancel = cancel
	gen := s.generation
	phase := s.phase
	g := s.guidanceLocked()

	go func() {
		defer cancel()
		text, err := s.opts.Narrator.Narrate(ctx, g)
		if err != nil {
			logging.Debugw(ctx, "Narration unavailable", "session_id", s.id, "error", err)
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.generation || phase != s.phase || text == "" {
			return
		}
		s.narration = text
		s.emitLocked()
	}()
}

func (s *Session) guidanceLocked() Guidance {
	g := Guidance{
		Phase:          s.phase,
		Instruction:    s.instruction,
		DistanceMeters: s.distance,
		Direction:      geo.CompassDirection(s.bearing),
		TargetName:     s.target.Name,
		TargetLabel:    s.target.Label(),
		CemeteryName:   s.geography.Name(),
	}
	if s.currentPath != nil {
		g.PathName = s.currentPath.PathName
	}
	return g
}

func (s *Session) setPhaseLocked(next Phase) {
	if next == s.phase {
		return
	}
	s.opts.Metrics.PhaseChanged(s.phase, next)
	s.phase = next
}

func (s *Session) cancelAsyncLocked() {
	if s.routeCancel != nil {
		s.routeCancel()
		s.routeCancel = nil
	}
	s.routeInFlight = false
	if s.narrationCancel != nil {
		s.narrationCancel()
		s.narrationCancel = nil
	}
}

func (s *Session) clearLocked() {
	s.starting = false
	s.position = nil
	s.accuracy = 0
	s.distance = 0
	s.bearing = 0
	s.progress = 0
	s.instruction = ""
	s.eta = nil
	s.inside = false
	s.startedAt = time.Time{}
	s.externalRoute = nil
	s.currentPath = nil
	s.narration = ""
	s.lastError = ""
	s.arrivalNotified = false
	s.haveSide = false
	s.disagreements = 0
	s.lastRouteAt = time.Time{}
	s.updatedAt = s.now()
}

func (s *Session) emitLocked() {
	if s.opts.OnChange != nil {
		s.opts.OnChange(s.snapshotLocked())
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:                     s.id,
		Phase:                  s.phase,
		Target:                 s.target,
		AccuracyMeters:         s.accuracy,
		DistanceToTargetMeters: s.distance,
		BearingDegrees:         s.bearing,
		ProgressPercent:        s.progress,
		InstructionText:        s.instruction,
		InsideBoundary:         s.inside,
		UpdatedAt:              s.updatedAt,
		Narration:              s.narration,
		LastError:              s.lastError,
		FixesProcessed:         s.fixesProcessed,
	}
	if s.position != nil {
		p := *s.position
		snap.CurrentPosition = &p
		snap.Direction = geo.CompassDirection(s.bearing)
	}
	if s.eta != nil {
		eta := *s.eta
		snap.EstimatedArrivalMinutes = &eta
	}
	if !s.startedAt.IsZero() {
		started := s.startedAt
		snap.StartedAt = &started
	}
	if s.externalRoute != nil {
		route := *s.externalRoute
		route.Polyline.Points = append([]geo.Point(nil), s.externalRoute.Polyline.Points...)
		snap.ExternalRoute = &route
	}
	if s.currentPath != nil {
		match := *s.currentPath
		snap.CurrentPath = &match
	}
	return snap
}
