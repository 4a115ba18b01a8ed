package cemetery

import (
	"errors"

	"github.com/gravewalk/server/internal/lib/geo"
)

// ErrInvalidTarget is returned when a grave has no usable coordinate and no fallback is configured
var ErrInvalidTarget = errors.New("invalid navigation target")

// Path is a named walkable polyline inside the cemetery
type Path struct {
	Name   string      `json:"name" yaml:"name"`
	Points []geo.Point `json:"points" yaml:"points"`
}

// Polyline returns the path geometry as a geo.Polyline
func (p Path) Polyline() geo.Polyline {
	return geo.Polyline{Points: p.Points}
}

// Definition is the static description of one cemetery, usually loaded from configuration
type Definition struct {
	Name     string      `json:"name" yaml:"name"`
	Boundary []geo.Point `json:"boundary" yaml:"boundary"`
	Paths    []Path      `json:"paths" yaml:"paths"`

	// Entrance is the main gate; zero means unset
	Entrance geo.Point `json:"entrance" yaml:"entrance"`

	// FallbackCoordinate is used for graves whose record carries no location; zero means unset
	FallbackCoordinate geo.Point `json:"fallback_coordinate" yaml:"fallback_coordinate"`
}

// GraveRecord is the grave data supplied by the record lookup collaborator
type GraveRecord struct {
	ID         string     `json:"id" yaml:"id"`
	FirstName  string     `json:"first_name" yaml:"first_name"`
	LastName   string     `json:"last_name" yaml:"last_name"`
	Nickname   string     `json:"nickname,omitempty" yaml:"nickname"`
	Coordinate *geo.Point `json:"coordinate,omitempty" yaml:"coordinate"`
	Block      string     `json:"block" yaml:"block"`
	Phase      string     `json:"phase" yaml:"phase"`
	AptNo      string     `json:"apt_no" yaml:"apt_no"`
}

// GraveTarget is the read-only destination of a navigation session
type GraveTarget struct {
	GraveID      string    `json:"grave_id"`
	Name         string    `json:"name"`
	Coordinate   geo.Point `json:"coordinate"`
	Block        string    `json:"block"`
	Phase        string    `json:"phase"`
	AptNo        string    `json:"apt_no"`
	UsedFallback bool      `json:"used_fallback"`
}

// Label formats the block/phase/apartment labels for display, skipping empty ones
func (g GraveTarget) Label() string {
	label := ""
	for _, part := range []struct{ name, value string }{
		{"Block", g.Block},
		{"Phase", g.Phase},
		{"Apt", g.AptNo},
	} {
		if part.value == "" {
			continue
		}
		if label != "" {
			label += ", "
		}
		label += part.name + " " + part.value
	}
	return label
}
