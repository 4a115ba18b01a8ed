package routing

import (
	"context"
	"errors"

	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
)

// ErrRoutingUnavailable wraps any failure of the external routing provider
var ErrRoutingUnavailable = errors.New("routing unavailable")

// Route is a walking route returned by the external routing provider.
// It is display-only and never drives navigation progress.
type Route struct {
	Polyline        geo.Polyline `json:"polyline"`
	DistanceMeters  float64      `json:"distance_meters"`
	DurationSeconds float64      `json:"duration_seconds"`
}

// Router computes outdoor walking routes
type Router interface {
	WalkingRoute(ctx context.Context, origin, destination geo.Point) (*Route, error)
}

// PathClassification describes how close a position is to the internal path network
type PathClassification string

const (
	OnPath   PathClassification = "on_path"   // within the on-path threshold
	NearPath PathClassification = "near_path" // within the nearby threshold
	OffPath  PathClassification = "off_path"
)

// PathMatch is the nearest internal path to a position
type PathMatch struct {
	PathName       string             `json:"path_name"`
	Classification PathClassification `json:"classification"`
	DistanceMeters float64            `json:"distance_meters"`
	ClosestPoint   geo.Point          `json:"closest_point"`
}

// PathMatcher classifies positions against the cemetery's internal paths
type PathMatcher interface {
	// Match returns the nearest path; ok is false when there are no paths
	Match(point geo.Point, paths []cemetery.Path) (match PathMatch, ok bool, err error)
}
