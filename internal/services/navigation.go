package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/gravewalk/server/internal/clients/graves"
	"github.com/gravewalk/server/internal/config"
	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/maplink"
	"github.com/gravewalk/server/internal/lib/navigation"
	"github.com/gravewalk/server/internal/lib/routing"
	"github.com/gravewalk/server/internal/lib/tracking"
	"github.com/gravewalk/server/internal/metrics"
)

const denialWait = 500 * time.Millisecond

var (
	// ErrSessionNotFound is returned for unknown or deleted session ids
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidRequest is returned for malformed client input
	ErrInvalidRequest = errors.New("invalid request")
)

// CreateSessionRequest names the grave to navigate to, either by directory id
// or inline for graves the directory does not know.
type CreateSessionRequest struct {
	GraveID string                `json:"grave_id,omitempty"`
	Grave   *cemetery.GraveRecord `json:"grave,omitempty"`
}

// FixRequest is one position report from the device, or a permission denial
type FixRequest struct {
	Latitude         *float64   `json:"latitude,omitempty"`
	Longitude        *float64   `json:"longitude,omitempty"`
	Accuracy         float64    `json:"accuracy,omitempty"`
	Timestamp        *time.Time `json:"timestamp,omitempty"`
	PermissionDenied bool       `json:"permission_denied,omitempty"`
}

// HandoffResponse is a deep link into an external map application
type HandoffResponse struct {
	Provider maplink.Provider `json:"provider"`
	URL      string           `json:"url"`
}

// Dependencies are the collaborators shared by every session. Geography,
// Directory and Config are required.
type Dependencies struct {
	Geography   *cemetery.Geography
	Directory   graves.Directory
	Config      *config.Config
	Router      routing.Router
	PathMatcher routing.PathMatcher
	Notifier    navigation.ArrivalNotifier
	Narrator    navigation.Narrator
	Recorder    navigation.Recorder
	Hub         *Hub
	Clock       func() time.Time
}

// NavigationService owns the live navigation sessions, one per open screen.
// Each session is fed by positions its client posts over HTTP.
type NavigationService struct {
	deps Dependencies
	now  func() time.Time

	// ctx carries the logger and bounds every location subscription; cancelled by Close
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	session  *navigation.Session
	feed     *tracking.FeedProvider
	lastSeen atomic.Int64
}

func (e *sessionEntry) touch(t time.Time) {
	e.lastSeen.Store(t.UnixNano())
}

func (e *sessionEntry) idleSince() time.Time {
	return time.Unix(0, e.lastSeen.Load())
}

// NewNavigationService creates the session registry. Sessions log through
// the logger on ctx and stop when ctx is cancelled.
func NewNavigationService(ctx context.Context, deps Dependencies) (*NavigationService, error) {
	if deps.Geography == nil || deps.Directory == nil || deps.Config == nil {
		return nil, errors.New("geography, directory and config are required")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NewSessionRecorder()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(logging.EnsureLogger(ctx))
	return &NavigationService{
		deps:     deps,
		now:      now,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*sessionEntry),
	}, nil
}

// CreateSession resolves the grave, registers a new session and starts locating.
// The returned snapshot is in the locating phase; positions are posted with PushFix.
func (s *NavigationService) CreateSession(ctx context.Context, req CreateSessionRequest) (navigation.Snapshot, error) {
	record, err := s.resolveGrave(ctx, req)
	if err != nil {
		return navigation.Snapshot{}, err
	}

	target, err := s.deps.Geography.NewGraveTarget(record)
	if err != nil {
		return navigation.Snapshot{}, err
	}
	if target.UsedFallback {
		logging.Infow(ctx, "Grave has no coordinate, using cemetery fallback", "grave_id", record.ID)
	}

	id := uuid.NewString()
	feed := tracking.NewFeedProvider()
	cfg := s.deps.Config

	opts := navigation.Options{
		ID:                   id,
		Tracker:              tracking.NewTracker(feed, cfg.Tracking),
		Router:               s.deps.Router,
		PathMatcher:          s.deps.PathMatcher,
		Notifier:             s.deps.Notifier,
		Narrator:             s.deps.Narrator,
		Metrics:              s.deps.Recorder,
		Clock:                s.deps.Clock,
		Thresholds:           cfg.Navigation.Thresholds(),
		RouteRefreshInterval: cfg.Navigation.RouteRefreshInterval,
		BoundaryDebounce:     cfg.Navigation.BoundaryDebounce,
		BaseContext:          logging.With(s.ctx, logging.FromContext(s.ctx).With("session_id", id)),
	}
	if hub := s.deps.Hub; hub != nil {
		opts.OnChange = func(snap navigation.Snapshot) { hub.Publish(id, snap) }
	}

	session, err := navigation.NewSession(s.deps.Geography, target, opts)
	if err != nil {
		return navigation.Snapshot{}, err
	}

	entry := &sessionEntry{session: session, feed: feed}
	entry.touch(s.now())

	s.mu.Lock()
	s.sessions[id] = entry
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	if err := session.StartAsync(s.ctx, s.trackingDone(id)); err != nil {
		s.remove(id)
		return navigation.Snapshot{}, err
	}

	logging.Infow(ctx, "Navigation session created",
		"session_id", id, "grave_id", target.GraveID, "used_fallback", target.UsedFallback)
	return session.Snapshot(), nil
}

func (s *NavigationService) resolveGrave(ctx context.Context, req CreateSessionRequest) (cemetery.GraveRecord, error) {
	switch {
	case req.GraveID != "" && req.Grave != nil:
		return cemetery.GraveRecord{}, fmt.Errorf("%w: grave_id and grave are mutually exclusive", ErrInvalidRequest)
	case req.GraveID != "":
		return s.deps.Directory.Lookup(ctx, req.GraveID)
	case req.Grave != nil:
		return *req.Grave, nil
	}
	return cemetery.GraveRecord{}, fmt.Errorf("%w: grave_id or grave is required", ErrInvalidRequest)
}

// trackingDone logs how a background start ended
func (s *NavigationService) trackingDone(id string) func(error) {
	return func(err error) {
		switch {
		case err == nil, errors.Is(err, navigation.ErrSessionStopped):
		case errors.Is(err, tracking.ErrPermissionDenied):
			logging.Infow(s.ctx, "Location permission denied by client", "session_id", id)
		default:
			logging.Errorw(s.ctx, "Failed to start location tracking", "session_id", id, "error", err)
		}
	}
}

// Snapshot returns the current state of a session
func (s *NavigationService) Snapshot(id string) (navigation.Snapshot, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return navigation.Snapshot{}, err
	}
	return entry.session.Snapshot(), nil
}

// PushFix feeds one device report into the session. Fixes are processed in
// the background, so the returned snapshot may not include this one yet.
// A fix arriving while the session waits in locating after a denial restarts tracking.
func (s *NavigationService) PushFix(ctx context.Context, id string, req FixRequest) (navigation.Snapshot, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return navigation.Snapshot{}, err
	}

	if req.PermissionDenied {
		entry.feed.Deny()
		s.awaitStart(entry)
		return entry.session.Snapshot(), nil
	}

	if req.Latitude == nil || req.Longitude == nil {
		return navigation.Snapshot{}, fmt.Errorf("%w: latitude and longitude are required", ErrInvalidRequest)
	}
	point, err := geo.NewPoint(*req.Latitude, *req.Longitude)
	if err != nil {
		return navigation.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.Accuracy < 0 {
		return navigation.Snapshot{}, fmt.Errorf("%w: accuracy must not be negative", ErrInvalidRequest)
	}

	fix := tracking.Fix{Point: point, AccuracyMeters: req.Accuracy}
	if req.Timestamp != nil {
		fix.Timestamp = *req.Timestamp
	}
	entry.feed.Push(fix)

	if entry.session.Phase() == navigation.PhaseLocating && !entry.session.Tracking() {
		if err := entry.session.StartAsync(s.ctx, s.trackingDone(id)); err != nil &&
			!errors.Is(err, navigation.ErrInvalidState) {
			return navigation.Snapshot{}, err
		}
		logging.Debugw(ctx, "Restarted tracking after new fix", "session_id", id)
	}

	return entry.session.Snapshot(), nil
}

// awaitStart gives a start that is waiting for its first position a moment to
// observe a denial, so the reply already carries last_error.
func (s *NavigationService) awaitStart(entry *sessionEntry) {
	if entry.session.Phase() != navigation.PhaseLocating {
		return
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(denialWait)
	for entry.session.Tracking() {
		select {
		case <-ticker.C:
		case <-deadline:
			return
		}
	}
}

// Reset resumes navigation after an arrival
func (s *NavigationService) Reset(ctx context.Context, id string) (navigation.Snapshot, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return navigation.Snapshot{}, err
	}
	if err := entry.session.ResetAsync(s.ctx, s.trackingDone(id)); err != nil {
		return navigation.Snapshot{}, err
	}
	return entry.session.Snapshot(), nil
}

// Acknowledge confirms an arrival and returns the session to idle. The
// session stays registered until deleted or reaped.
func (s *NavigationService) Acknowledge(ctx context.Context, id string) (navigation.Snapshot, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return navigation.Snapshot{}, err
	}
	if err := entry.session.Acknowledge(); err != nil {
		return navigation.Snapshot{}, err
	}
	return entry.session.Snapshot(), nil
}

// Delete stops the session and forgets it
func (s *NavigationService) Delete(ctx context.Context, id string) error {
	if !s.remove(id) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	logging.Infow(ctx, "Navigation session deleted", "session_id", id)
	return nil
}

// Handoff builds a deep link to walking directions in an external map app
func (s *NavigationService) Handoff(id, provider string) (HandoffResponse, error) {
	p, err := maplink.ParseProvider(provider)
	if err != nil {
		return HandoffResponse{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	entry, err := s.lookup(id)
	if err != nil {
		return HandoffResponse{}, err
	}

	target := entry.session.Target()
	label := target.Name
	if l := target.Label(); l != "" {
		label += " (" + l + ")"
	}

	link, err := maplink.DirectionsURL(p, target.Coordinate, label)
	if err != nil {
		return HandoffResponse{}, err
	}
	return HandoffResponse{Provider: p, URL: link}, nil
}

// WriteKML exports the cemetery geometry. With a session id, the target and
// the current outdoor route are included.
func (s *NavigationService) WriteKML(w io.Writer, id string) error {
	if id == "" {
		return s.deps.Geography.WriteKML(w, nil, nil)
	}

	entry, err := s.lookup(id)
	if err != nil {
		return err
	}
	target := entry.session.Target()
	snap := entry.session.Snapshot()

	var route *geo.Polyline
	if snap.ExternalRoute != nil {
		route = &snap.ExternalRoute.Polyline
	}
	return s.deps.Geography.WriteKML(w, &target, route)
}

// ReapIdle deletes sessions with no client activity for longer than the
// configured idle timeout, so no tracking outlives an abandoned screen.
func (s *NavigationService) ReapIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.deps.Config.Server.SessionIdleTimeout)

	s.mu.RLock()
	var stale []string
	for id, entry := range s.sessions {
		if entry.idleSince().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	reaped := 0
	for _, id := range stale {
		if s.remove(id) {
			reaped++
			metrics.SessionsReaped.Inc()
			logging.Infow(ctx, "Reaped idle navigation session", "session_id", id)
		}
	}
	return reaped
}

// Count returns the number of registered sessions
func (s *NavigationService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops every session
func (s *NavigationService) Close() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.remove(id)
	}
	s.cancel()
}

func (s *NavigationService) lookup(id string) (*sessionEntry, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	entry.touch(s.now())
	return entry, nil
}

// remove stops and unregisters a session. Stop runs outside the registry lock.
func (s *NavigationService) remove(id string) bool {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return false
	}

	entry.session.Stop()
	if s.deps.Hub != nil {
		s.deps.Hub.CloseSession(id)
	}
	metrics.ActiveSessions.Dec()
	return true
}
