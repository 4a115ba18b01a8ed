package navigation

import (
	"context"
	"errors"
	"time"

	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/routing"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the current phase
	ErrInvalidState = errors.New("invalid session state")

	// ErrSessionStopped is returned by Start when Stop was called while it was waiting for a fix
	ErrSessionStopped = errors.New("navigation session stopped")
)

// Snapshot is a copy of a session's state at one point in time
type Snapshot struct {
	ID                      string               `json:"id"`
	Phase                   Phase                `json:"phase"`
	Target                  cemetery.GraveTarget `json:"target"`
	CurrentPosition         *geo.Point           `json:"current_position,omitempty"`
	AccuracyMeters          float64              `json:"accuracy_meters,omitempty"`
	DistanceToTargetMeters  float64              `json:"distance_to_target_meters"`
	BearingDegrees          float64              `json:"bearing_degrees"`
	Direction               string               `json:"direction,omitempty"`
	ProgressPercent         float64              `json:"progress_percent"`
	InstructionText         string               `json:"instruction_text"`
	EstimatedArrivalMinutes *int                 `json:"estimated_arrival_minutes,omitempty"`
	InsideBoundary          bool                 `json:"inside_boundary"`
	StartedAt               *time.Time           `json:"started_at,omitempty"`
	UpdatedAt               time.Time            `json:"updated_at"`
	ExternalRoute           *routing.Route       `json:"external_route,omitempty"`
	CurrentPath             *routing.PathMatch   `json:"current_path,omitempty"`
	Narration               string               `json:"narration,omitempty"`
	LastError               string               `json:"last_error,omitempty"`
	FixesProcessed          int                  `json:"fixes_processed"`
}

// ArrivalEvent describes a session reaching its target
type ArrivalEvent struct {
	SessionID      string    `json:"session_id"`
	GraveID        string    `json:"grave_id"`
	GraveName      string    `json:"grave_name"`
	Position       geo.Point `json:"position"`
	DistanceMeters float64   `json:"distance_meters"`
	StartedAt      time.Time `json:"started_at"`
	ArrivedAt      time.Time `json:"arrived_at"`
}

// ArrivalNotifier receives the one-time arrival notification.
// It is called with the session locked and must not block or call back into the session.
type ArrivalNotifier interface {
	NotifyArrival(ctx context.Context, event ArrivalEvent) error
}

// Guidance is the input for phrasing a friendlier instruction
type Guidance struct {
	Phase          Phase   `json:"phase"`
	Instruction    string  `json:"instruction"`
	DistanceMeters float64 `json:"distance_meters"`
	Direction      string  `json:"direction"`
	PathName       string  `json:"path_name,omitempty"`
	TargetName     string  `json:"target_name"`
	TargetLabel    string  `json:"target_label,omitempty"`
	CemeteryName   string  `json:"cemetery_name"`
}

// Narrator phrases guidance for display. Called asynchronously on phase changes.
type Narrator interface {
	Narrate(ctx context.Context, g Guidance) (string, error)
}

// Recorder collects session metrics
type Recorder interface {
	FixProcessed(phase Phase)
	PhaseChanged(from, to Phase)
	Arrived(elapsed time.Duration)
	RouteRequested(err error)
}

type nopRecorder struct{}

func (nopRecorder) FixProcessed(Phase)        {}
func (nopRecorder) PhaseChanged(Phase, Phase) {}
func (nopRecorder) Arrived(time.Duration)     {}
func (nopRecorder) RouteRequested(error)      {}
