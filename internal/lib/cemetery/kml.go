package cemetery

import (
	"fmt"
	"io"

	"github.com/twpayne/go-kml"

	"github.com/gravewalk/server/internal/lib/geo"
)

// WriteKML exports the cemetery geometry as a KML document for external map tools.
// The target placemark and the route overlay are optional.
func (g *Geography) WriteKML(w io.Writer, target *GraveTarget, route *geo.Polyline) error {
	ring := append(g.Boundary(), g.boundary[0])

	elements := []kml.Element{
		kml.Name(g.name),
		kml.Placemark(
			kml.Name("Boundary"),
			kml.Polygon(
				kml.OuterBoundaryIs(
					kml.LinearRing(kml.Coordinates(toKMLCoordinates(ring)...)),
				),
			),
		),
	}

	pathElements := []kml.Element{kml.Name("Paths")}
	for _, p := range g.paths {
		pathElements = append(pathElements, kml.Placemark(
			kml.Name(p.Name),
			kml.LineString(kml.Coordinates(toKMLCoordinates(p.Points)...)),
		))
	}
	elements = append(elements, kml.Folder(pathElements...))

	if entrance, ok := g.Entrance(); ok {
		elements = append(elements, kml.Placemark(
			kml.Name("Entrance"),
			kml.Point(kml.Coordinates(toKMLCoordinates([]geo.Point{entrance})...)),
		))
	}

	if target != nil {
		placemark := []kml.Element{
			kml.Name(target.Name),
			kml.Point(kml.Coordinates(toKMLCoordinates([]geo.Point{target.Coordinate})...)),
		}
		if label := target.Label(); label != "" {
			placemark = append(placemark, kml.Description(label))
		}
		elements = append(elements, kml.Placemark(placemark...))
	}

	if route != nil && len(route.Points) > 1 {
		elements = append(elements, kml.Placemark(
			kml.Name("Walking route"),
			kml.LineString(kml.Coordinates(toKMLCoordinates(route.Points)...)),
		))
	}

	if err := kml.KML(kml.Document(elements...)).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

// KML coordinates are longitude first
func toKMLCoordinates(points []geo.Point) []kml.Coordinate {
	coords := make([]kml.Coordinate, len(points))
	for i, p := range points {
		coords[i] = kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
	}
	return coords
}
