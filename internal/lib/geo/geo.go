package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean Earth radius used by every distance calculation in this package
const EarthRadiusMeters = 6371000.0

// HaversineDistance calculates great-circle distance between two points in meters.
// Inputs are not validated: NaN coordinates produce NaN.
func HaversineDistance(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dlat := lat2 - lat1
	dlon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// PointInPolygon reports whether point lies inside polygon using ray casting.
//
// The polygon is implicitly closed. A horizontal ray is cast toward increasing
// longitude and edge crossings are counted; an odd count means inside. An edge
// (a, b) is only tested when (a.Latitude > p.Latitude) != (b.Latitude > p.Latitude),
// so a vertex lying exactly on the ray's latitude counts as "above" it. With that
// half-open rule, points on a left or bottom edge report inside and points on a
// right or top edge report outside.
func PointInPolygon(point Point, polygon []Point) (bool, error) {
	if len(polygon) < 3 {
		return false, fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", ErrInvalidGeometry, len(polygon))
	}

	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		a := polygon[i]
		b := polygon[j]

		if (a.Latitude > point.Latitude) != (b.Latitude > point.Latitude) {
			crossLng := a.Longitude + (point.Latitude-a.Latitude)*(b.Longitude-a.Longitude)/(b.Latitude-a.Latitude)
			if point.Longitude < crossLng {
				inside = !inside
			}
		}
		j = i
	}

	return inside, nil
}

// ValidatePolygon checks that polygon has at least 3 vertices, all with valid coordinates
func ValidatePolygon(polygon []Point) error {
	if len(polygon) < 3 {
		return fmt.Errorf("%w: polygon needs at least 3 vertices, got %d", ErrInvalidGeometry, len(polygon))
	}
	for i, p := range polygon {
		if !p.IsValid() {
			return fmt.Errorf("%w: vertex %d (%f, %f) out of range", ErrInvalidGeometry, i, p.Latitude, p.Longitude)
		}
	}
	return nil
}

// Bearing returns the initial great-circle bearing from a to b in degrees, normalised to [0, 360)
func Bearing(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dlon := toRadians(b.Longitude - a.Longitude)

	y := math.Sin(dlon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dlon)

	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

var compassPoints = []string{"north", "northeast", "east", "southeast", "south", "southwest", "west", "northwest"}

// CompassDirection converts a bearing in degrees to one of eight compass labels
func CompassDirection(bearing float64) string {
	idx := int(math.Round(math.Mod(bearing+360, 360)/45)) % len(compassPoints)
	return compassPoints[idx]
}

// PointToPolyline calculates minimum distance from point to polyline in meters
func PointToPolyline(point Point, line Polyline) (float64, error) {
	if !point.IsValid() {
		return 0, errors.New("invalid point coordinates")
	}

	switch len(line.Points) {
	case 0:
		return 0, errors.New("polyline has no points")
	case 1:
		return HaversineDistance(point, line.Points[0]), nil
	}

	minDistance := math.Inf(1)
	for i := 0; i < len(line.Points)-1; i++ {
		d := pointToSegmentDistance(point, line.Points[i], line.Points[i+1])
		if d < minDistance {
			minDistance = d
		}
	}

	return minDistance, nil
}

// pointToSegmentDistance uses cross-track distance, falling back to the nearest
// endpoint when the projection lies outside the segment
func pointToSegmentDistance(point, start, end Point) float64 {
	distanceToStart := HaversineDistance(point, start)
	distanceToEnd := HaversineDistance(point, end)
	segmentLength := HaversineDistance(start, end)

	if segmentLength < 1 {
		return math.Min(distanceToStart, distanceToEnd)
	}

	d13 := distanceToStart / EarthRadiusMeters
	theta13 := toRadians(Bearing(start, point))
	theta12 := toRadians(Bearing(start, end))

	// Projection falls behind the segment start
	if math.Cos(theta13-theta12) < 0 {
		return distanceToStart
	}

	dxt := math.Asin(math.Sin(d13) * math.Sin(theta13-theta12))
	alongTrack := math.Acos(math.Min(1, math.Cos(d13)/math.Cos(dxt))) * EarthRadiusMeters
	if alongTrack > segmentLength {
		return distanceToEnd
	}

	return math.Abs(dxt) * EarthRadiusMeters
}

// ClosestPointOnPolyline finds closest point on polyline to given point.
// Segments are projected in a local equirectangular frame, which is accurate at
// the scale of a cemetery path.
func ClosestPointOnPolyline(point Point, line Polyline) (Point, error) {
	if !point.IsValid() {
		return Point{}, errors.New("invalid point coordinates")
	}

	switch len(line.Points) {
	case 0:
		return Point{}, errors.New("polyline has no points")
	case 1:
		return line.Points[0], nil
	}

	var closest Point
	minDistance := math.Inf(1)
	for i := 0; i < len(line.Points)-1; i++ {
		candidate := closestPointOnSegment(point, line.Points[i], line.Points[i+1])
		if d := HaversineDistance(point, candidate); d < minDistance {
			minDistance = d
			closest = candidate
		}
	}

	return closest, nil
}

func closestPointOnSegment(point, start, end Point) Point {
	scale := math.Cos(toRadians(point.Latitude))

	ax, ay := start.Longitude*scale, start.Latitude
	bx, by := end.Longitude*scale, end.Latitude
	px, py := point.Longitude*scale, point.Latitude

	dx, dy := bx-ax, by-ay
	lengthSq := dx*dx + dy*dy
	if lengthSq == 0 {
		return start
	}

	t := ((px-ax)*dx + (py-ay)*dy) / lengthSq
	t = math.Max(0, math.Min(1, t))

	return Interpolate(start, end, t)
}

// Interpolate returns the point a fraction t of the way from start to end.
// Linear interpolation is adequate for the short segments this package deals with.
func Interpolate(start, end Point, t float64) Point {
	return Point{
		Latitude:  start.Latitude + t*(end.Latitude-start.Latitude),
		Longitude: start.Longitude + t*(end.Longitude-start.Longitude),
	}
}

// PolylineLength sums the great-circle length of every segment in meters
func PolylineLength(line Polyline) float64 {
	total := 0.0
	for i := 0; i < len(line.Points)-1; i++ {
		total += HaversineDistance(line.Points[i], line.Points[i+1])
	}
	return total
}

// DecodePolyline decodes Google polyline string to point sequence
func DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !points[i].IsValid() {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !point.IsValid() {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
