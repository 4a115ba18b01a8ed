package cemetery

import (
	"fmt"
	"strings"

	"github.com/gravewalk/server/internal/lib/geo"
)

// Geography holds the immutable boundary and path network of a single cemetery.
// It is safe for concurrent use once constructed.
type Geography struct {
	name     string
	boundary []geo.Point
	paths    []Path
	entrance geo.Point
	fallback geo.Point
}

// NewGeography validates def and builds a Geography from a private copy of it.
// Malformed geometry fails with geo.ErrInvalidGeometry.
func NewGeography(def Definition) (*Geography, error) {
	if err := geo.ValidatePolygon(def.Boundary); err != nil {
		return nil, fmt.Errorf("cemetery %q boundary: %w", def.Name, err)
	}

	seen := make(map[string]bool, len(def.Paths))
	paths := make([]Path, 0, len(def.Paths))
	for i, p := range def.Paths {
		if p.Name == "" {
			return nil, fmt.Errorf("cemetery %q path %d: %w: path name is empty", def.Name, i, geo.ErrInvalidGeometry)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("cemetery %q path %q: %w: duplicate path name", def.Name, p.Name, geo.ErrInvalidGeometry)
		}
		seen[p.Name] = true

		if len(p.Points) < 2 {
			return nil, fmt.Errorf("cemetery %q path %q: %w: needs at least 2 points, got %d", def.Name, p.Name, geo.ErrInvalidGeometry, len(p.Points))
		}
		for j, pt := range p.Points {
			if !pt.IsValid() {
				return nil, fmt.Errorf("cemetery %q path %q point %d: %w: coordinate out of range", def.Name, p.Name, j, geo.ErrInvalidGeometry)
			}
		}
		paths = append(paths, Path{Name: p.Name, Points: append([]geo.Point(nil), p.Points...)})
	}

	if !def.Entrance.IsZero() && !def.Entrance.IsValid() {
		return nil, fmt.Errorf("cemetery %q entrance: %w: coordinate out of range", def.Name, geo.ErrInvalidGeometry)
	}
	if !def.FallbackCoordinate.IsZero() && !def.FallbackCoordinate.IsValid() {
		return nil, fmt.Errorf("cemetery %q fallback coordinate: %w: coordinate out of range", def.Name, geo.ErrInvalidGeometry)
	}

	return &Geography{
		name:     def.Name,
		boundary: append([]geo.Point(nil), def.Boundary...),
		paths:    paths,
		entrance: def.Entrance,
		fallback: def.FallbackCoordinate,
	}, nil
}

// Name returns the cemetery display name
func (g *Geography) Name() string { return g.name }

// Boundary returns a copy of the boundary polygon
func (g *Geography) Boundary() []geo.Point {
	return append([]geo.Point(nil), g.boundary...)
}

// Paths returns a copy of the internal path network
func (g *Geography) Paths() []Path {
	out := make([]Path, len(g.paths))
	for i, p := range g.paths {
		out[i] = Path{Name: p.Name, Points: append([]geo.Point(nil), p.Points...)}
	}
	return out
}

// Entrance returns the configured main gate and whether one is set
func (g *Geography) Entrance() (geo.Point, bool) {
	return g.entrance, !g.entrance.IsZero()
}

// ContainsPoint reports whether p lies inside the cemetery boundary
func (g *Geography) ContainsPoint(p geo.Point) bool {
	// The boundary was validated at construction, so the error path is unreachable
	inside, _ := geo.PointInPolygon(p, g.boundary)
	return inside
}

// ResolveGraveCoordinate returns the grave's stored coordinate, or the configured
// fallback with usedFallback=true when the record carries none.
func (g *Geography) ResolveGraveCoordinate(grave GraveRecord) (coord geo.Point, usedFallback bool, err error) {
	if grave.Coordinate != nil && !grave.Coordinate.IsZero() && grave.Coordinate.IsValid() {
		return *grave.Coordinate, false, nil
	}

	if g.fallback.IsZero() {
		return geo.Point{}, false, fmt.Errorf("%w: grave %q has no coordinate and no fallback is configured", ErrInvalidTarget, grave.ID)
	}

	return g.fallback, true, nil
}

// NewGraveTarget builds the navigation target for a grave record
func (g *Geography) NewGraveTarget(grave GraveRecord) (GraveTarget, error) {
	coord, usedFallback, err := g.ResolveGraveCoordinate(grave)
	if err != nil {
		return GraveTarget{}, err
	}

	return GraveTarget{
		GraveID:      grave.ID,
		Name:         DisplayName(grave),
		Coordinate:   coord,
		Block:        grave.Block,
		Phase:        grave.Phase,
		AptNo:        grave.AptNo,
		UsedFallback: usedFallback,
	}, nil
}

// DisplayName formats "First Last", with the nickname quoted in between when present
func DisplayName(grave GraveRecord) string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(grave.FirstName); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(grave.Nickname); s != "" {
		parts = append(parts, `"`+s+`"`)
	}
	if s := strings.TrimSpace(grave.LastName); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
