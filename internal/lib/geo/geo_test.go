package geo

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Square in a flat test frame: (0,0)-(0,10)-(10,10)-(10,0)
var unitSquare = []Point{
	{Latitude: 0, Longitude: 0},
	{Latitude: 0, Longitude: 10},
	{Latitude: 10, Longitude: 10},
	{Latitude: 10, Longitude: 0},
}

// U-shaped polygon: two arms (lng 0-3 and 7-10) joined by a base (lat 0-3).
// The notch lng 3-7, lat 3-10 is outside.
var uShape = []Point{
	{Latitude: 0, Longitude: 0},
	{Latitude: 10, Longitude: 0},
	{Latitude: 10, Longitude: 3},
	{Latitude: 3, Longitude: 3},
	{Latitude: 3, Longitude: 7},
	{Latitude: 10, Longitude: 7},
	{Latitude: 10, Longitude: 10},
	{Latitude: 0, Longitude: 10},
}

func TestHaversineDistance(t *testing.T) {
	angelsCamp := Point{Latitude: 38.0675, Longitude: -120.5436}
	murphys := Point{Latitude: 38.1391, Longitude: -120.4561}

	assert.InDelta(t, 11046, HaversineDistance(angelsCamp, murphys), 100, "Distance should be approximately 11.0km")

	// One degree of latitude on a 6371km sphere
	oneDegree := HaversineDistance(Point{Latitude: 0, Longitude: 0}, Point{Latitude: 1, Longitude: 0})
	assert.InDelta(t, 111195, oneDegree, 1)
}

func TestHaversineDistance_IdentityAndSymmetry(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		a := Point{Latitude: r.Float64()*180 - 90, Longitude: r.Float64()*360 - 180}
		b := Point{Latitude: r.Float64()*180 - 90, Longitude: r.Float64()*360 - 180}

		assert.Equal(t, 0.0, HaversineDistance(a, a), "distance to self must be zero for %+v", a)
		assert.InDelta(t, HaversineDistance(a, b), HaversineDistance(b, a), 1e-6, "distance must be symmetric for %+v %+v", a, b)
	}
}

func TestHaversineDistance_NaN(t *testing.T) {
	d := HaversineDistance(Point{Latitude: math.NaN(), Longitude: 0}, Point{Latitude: 1, Longitude: 1})
	assert.True(t, math.IsNaN(d))
}

func TestPointInPolygon_Square(t *testing.T) {
	inside, err := PointInPolygon(Point{Latitude: 5, Longitude: 5}, unitSquare)
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = PointInPolygon(Point{Latitude: 20, Longitude: 20}, unitSquare)
	require.NoError(t, err)
	assert.False(t, inside)
}

func TestPointInPolygon_EdgeConvention(t *testing.T) {
	tests := []struct {
		name   string
		point  Point
		inside bool
	}{
		{"left edge", Point{Latitude: 5, Longitude: 0}, true},
		{"bottom edge", Point{Latitude: 0, Longitude: 5}, true},
		{"right edge", Point{Latitude: 5, Longitude: 10}, false},
		{"top edge", Point{Latitude: 10, Longitude: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inside, err := PointInPolygon(tt.point, unitSquare)
			require.NoError(t, err)
			assert.Equal(t, tt.inside, inside)
		})
	}
}

func TestPointInPolygon_ConvexProperty(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 1000; i++ {
		in := Point{Latitude: 0.001 + r.Float64()*9.998, Longitude: 0.001 + r.Float64()*9.998}
		inside, err := PointInPolygon(in, unitSquare)
		require.NoError(t, err)
		assert.True(t, inside, "expected %+v inside", in)

		out := Point{Latitude: 10.001 + r.Float64()*50, Longitude: r.Float64()*100 - 50}
		inside, err = PointInPolygon(out, unitSquare)
		require.NoError(t, err)
		assert.False(t, inside, "expected %+v outside", out)
	}
}

func TestPointInPolygon_NonConvexProperty(t *testing.T) {
	r := rand.New(rand.NewSource(11))

	for i := 0; i < 1000; i++ {
		// Left arm
		leftArm := Point{Latitude: 0.01 + r.Float64()*9.98, Longitude: 0.01 + r.Float64()*2.98}
		// Base between the arms
		base := Point{Latitude: 0.01 + r.Float64()*2.98, Longitude: 3.01 + r.Float64()*3.98}
		// Notch
		notch := Point{Latitude: 3.01 + r.Float64()*6.98, Longitude: 3.01 + r.Float64()*3.98}

		inside, err := PointInPolygon(leftArm, uShape)
		require.NoError(t, err)
		assert.True(t, inside, "expected %+v inside left arm", leftArm)

		inside, err = PointInPolygon(base, uShape)
		require.NoError(t, err)
		assert.True(t, inside, "expected %+v inside base", base)

		inside, err = PointInPolygon(notch, uShape)
		require.NoError(t, err)
		assert.False(t, inside, "expected %+v outside in notch", notch)
	}
}

func TestPointInPolygon_InvalidGeometry(t *testing.T) {
	_, err := PointInPolygon(Point{}, unitSquare[:2])
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))
}

func TestValidatePolygon(t *testing.T) {
	assert.NoError(t, ValidatePolygon(unitSquare))
	assert.ErrorIs(t, ValidatePolygon(nil), ErrInvalidGeometry)
	assert.ErrorIs(t, ValidatePolygon([]Point{{0, 0}, {0, 1}, {200, 1}}), ErrInvalidGeometry)
}

func TestBearing(t *testing.T) {
	origin := Point{Latitude: 0, Longitude: 0}

	assert.InDelta(t, 0, Bearing(origin, Point{Latitude: 1, Longitude: 0}), 1e-9)
	assert.InDelta(t, 90, Bearing(origin, Point{Latitude: 0, Longitude: 1}), 1e-9)
	assert.InDelta(t, 180, Bearing(origin, Point{Latitude: -1, Longitude: 0}), 1e-9)
	assert.InDelta(t, 270, Bearing(origin, Point{Latitude: 0, Longitude: -1}), 1e-9)
}

func TestCompassDirection(t *testing.T) {
	assert.Equal(t, "north", CompassDirection(0))
	assert.Equal(t, "north", CompassDirection(350))
	assert.Equal(t, "northeast", CompassDirection(44))
	assert.Equal(t, "east", CompassDirection(90))
	assert.Equal(t, "southwest", CompassDirection(225))
	assert.Equal(t, "northwest", CompassDirection(-45))
}

func TestPointToPolyline(t *testing.T) {
	path := Polyline{Points: []Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.01},
	}}

	// 0.001 degrees north of the middle of the segment
	d, err := PointToPolyline(Point{Latitude: 0.001, Longitude: 0.005}, path)
	require.NoError(t, err)
	assert.InDelta(t, 111.2, d, 0.5)

	// Behind the start: nearest endpoint wins
	d, err = PointToPolyline(Point{Latitude: 0, Longitude: -0.001}, path)
	require.NoError(t, err)
	assert.InDelta(t, 111.2, d, 0.5)

	// Past the end
	d, err = PointToPolyline(Point{Latitude: 0, Longitude: 0.011}, path)
	require.NoError(t, err)
	assert.InDelta(t, 111.2, d, 0.5)

	_, err = PointToPolyline(Point{Latitude: 1, Longitude: 1}, Polyline{})
	assert.Error(t, err)

	_, err = PointToPolyline(Point{Latitude: 200, Longitude: 1}, path)
	assert.Error(t, err)
}

func TestClosestPointOnPolyline(t *testing.T) {
	path := Polyline{Points: []Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 0, Longitude: 0.01},
		{Latitude: 0.01, Longitude: 0.01},
	}}

	closest, err := ClosestPointOnPolyline(Point{Latitude: 0.001, Longitude: 0.005}, path)
	require.NoError(t, err)
	assert.InDelta(t, 0, closest.Latitude, 1e-9)
	assert.InDelta(t, 0.005, closest.Longitude, 1e-9)

	closest, err = ClosestPointOnPolyline(Point{Latitude: 0.005, Longitude: 0.012}, path)
	require.NoError(t, err)
	assert.InDelta(t, 0.005, closest.Latitude, 1e-9)
	assert.InDelta(t, 0.01, closest.Longitude, 1e-9)
}

func TestPolylineLength(t *testing.T) {
	path := Polyline{Points: []Point{
		{Latitude: 0, Longitude: 0},
		{Latitude: 1, Longitude: 0},
		{Latitude: 2, Longitude: 0},
	}}
	assert.InDelta(t, 2*111195, PolylineLength(path), 2)
	assert.Equal(t, 0.0, PolylineLength(Polyline{}))
}

func TestDecodePolyline(t *testing.T) {
	points, err := DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)

	assert.InDelta(t, 38.5, points[0].Latitude, 1e-5)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-5)
	assert.InDelta(t, 43.252, points[2].Latitude, 1e-5)
	assert.InDelta(t, -126.453, points[2].Longitude, 1e-5)

	_, err = DecodePolyline("")
	assert.Error(t, err)
}

func TestNewPoint(t *testing.T) {
	p, err := NewPoint(41.0082, 28.9784)
	require.NoError(t, err)
	assert.Equal(t, Point{Latitude: 41.0082, Longitude: 28.9784}, p)

	_, err = NewPoint(91, 0)
	assert.Error(t, err)

	_, err = NewPoint(math.NaN(), 0)
	assert.Error(t, err)
}
