package geo

import "errors"

// ErrInvalidGeometry is returned when a polygon or polyline cannot describe a
// usable shape (too few vertices, out-of-range coordinates).
var ErrInvalidGeometry = errors.New("invalid geometry")

// Point represents a geographic coordinate in degrees
type Point struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

// IsValid reports whether latitude is within [-90, 90] and longitude within [-180, 180].
// NaN coordinates are never valid.
func (p Point) IsValid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// IsZero reports whether the point is the zero value, which records use to mean "no coordinate".
func (p Point) IsZero() bool {
	return p.Latitude == 0 && p.Longitude == 0
}

// Polyline represents an encoded polyline with optional decoded points
type Polyline struct {
	EncodedPolyline string  `json:"encoded_polyline,omitempty"`
	Points          []Point `json:"points"`
}
