package routing

import (
	"errors"

	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
)

const (
	defaultOnPathThreshold = 5.0  // meters
	defaultNearbyThreshold = 25.0 // meters
)

// pathMatcher implements the PathMatcher interface
type pathMatcher struct {
	onPathThreshold float64
	nearbyThreshold float64
}

// NewPathMatcher creates a PathMatcher. Non-positive thresholds fall back to 5m on-path and 25m nearby.
func NewPathMatcher(onPathMeters, nearbyMeters float64) PathMatcher {
	if onPathMeters <= 0 {
		onPathMeters = defaultOnPathThreshold
	}
	if nearbyMeters <= 0 {
		nearbyMeters = defaultNearbyThreshold
	}
	if nearbyMeters < onPathMeters {
		nearbyMeters = onPathMeters
	}
	return &pathMatcher{
		onPathThreshold: onPathMeters,
		nearbyThreshold: nearbyMeters,
	}
}

// Match finds the nearest path to point and classifies the distance
func (m *pathMatcher) Match(point geo.Point, paths []cemetery.Path) (PathMatch, bool, error) {
	if !point.IsValid() {
		return PathMatch{}, false, errors.New("invalid point coordinates")
	}
	if len(paths) == 0 {
		return PathMatch{}, false, nil
	}

	var best PathMatch
	found := false
	for _, p := range paths {
		match, err := m.matchPath(point, p)
		if err != nil {
			continue // Skip paths without usable geometry
		}
		if !found || match.DistanceMeters < best.DistanceMeters {
			best = match
			found = true
		}
	}

	return best, found, nil
}

func (m *pathMatcher) matchPath(point geo.Point, p cemetery.Path) (PathMatch, error) {
	line := p.Polyline()

	distance, err := geo.PointToPolyline(point, line)
	if err != nil {
		return PathMatch{}, err
	}
	closest, err := geo.ClosestPointOnPolyline(point, line)
	if err != nil {
		return PathMatch{}, err
	}

	return PathMatch{
		PathName:       p.Name,
		Classification: m.classify(distance),
		DistanceMeters: distance,
		ClosestPoint:   closest,
	}, nil
}

func (m *pathMatcher) classify(distance float64) PathClassification {
	switch {
	case distance <= m.onPathThreshold:
		return OnPath
	case distance <= m.nearbyThreshold:
		return NearPath
	default:
		return OffPath
	}
}
