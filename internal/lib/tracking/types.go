package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/gravewalk/server/internal/lib/geo"
)

// ErrPermissionDenied is returned when the device refuses location access
var ErrPermissionDenied = errors.New("location permission denied")

// Fix is a single reported device position
type Fix struct {
	Point          geo.Point `json:"point"`
	AccuracyMeters float64   `json:"accuracy_meters,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Provider is the device positioning collaborator
type Provider interface {
	// CurrentPosition blocks until a single fix is available.
	// Returns ErrPermissionDenied when location access is refused.
	CurrentPosition(ctx context.Context) (Fix, error)

	// Watch streams raw fixes until ctx is cancelled, then closes the channel
	Watch(ctx context.Context) (<-chan Fix, error)
}

// Policy controls which raw fixes are forwarded to subscribers
type Policy struct {
	// MinInterval forwards a fix when at least this long has passed since the last forwarded one
	MinInterval time.Duration `yaml:"min_interval"`

	// MinDistanceMeters forwards a fix when it moved at least this far from the last forwarded one
	MinDistanceMeters float64 `yaml:"min_distance_meters"`
}

// DefaultPolicy samples every 2 seconds or every meter of movement
func DefaultPolicy() Policy {
	return Policy{
		MinInterval:       2 * time.Second,
		MinDistanceMeters: 1,
	}
}
