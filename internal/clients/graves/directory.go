package graves

import (
	"context"
	"errors"
	"fmt"

	"github.com/gravewalk/server/internal/lib/cemetery"
)

// ErrGraveNotFound is returned when no record exists for the requested id
var ErrGraveNotFound = errors.New("grave not found")

// Directory looks up grave records by id
type Directory interface {
	Lookup(ctx context.Context, id string) (cemetery.GraveRecord, error)
}

// StaticDirectory serves records held in memory, usually from configuration
type StaticDirectory struct {
	records map[string]cemetery.GraveRecord
}

// NewStaticDirectory indexes records by id. Duplicate ids are rejected.
func NewStaticDirectory(records []cemetery.GraveRecord) (*StaticDirectory, error) {
	index := make(map[string]cemetery.GraveRecord, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("grave record %q %q has no id", r.FirstName, r.LastName)
		}
		if _, exists := index[r.ID]; exists {
			return nil, fmt.Errorf("duplicate grave id %q", r.ID)
		}
		if r.Coordinate != nil {
			c := *r.Coordinate
			r.Coordinate = &c
		}
		index[r.ID] = r
	}
	return &StaticDirectory{records: index}, nil
}

// Lookup returns a copy of the record for id
func (d *StaticDirectory) Lookup(ctx context.Context, id string) (cemetery.GraveRecord, error) {
	r, ok := d.records[id]
	if !ok {
		return cemetery.GraveRecord{}, fmt.Errorf("%w: %s", ErrGraveNotFound, id)
	}
	if r.Coordinate != nil {
		c := *r.Coordinate
		r.Coordinate = &c
	}
	return r, nil
}

// Len returns the number of records
func (d *StaticDirectory) Len() int {
	return len(d.records)
}
