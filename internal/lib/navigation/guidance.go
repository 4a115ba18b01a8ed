package navigation

import (
	"math"
)

const (
	DefaultNearThresholdMeters    = 50.0
	DefaultArrivalThresholdMeters = 10.0

	// WalkingSpeedKmh is the constant pace used for arrival estimates
	WalkingSpeedKmh = 5.0
)

// Instruction texts shown for each phase
const (
	InstructionLocating = "acquiring location"
	InstructionOutside  = "walking toward cemetery entrance"
	InstructionInside   = "follow internal paths"
	InstructionNear     = "near target, look for marker"
	InstructionArrived  = "arrived"
)

// Thresholds are the distances that separate the navigating phases
type Thresholds struct {
	NearMeters    float64
	ArrivalMeters float64
}

// DefaultThresholds returns 50m near and 10m arrival
func DefaultThresholds() Thresholds {
	return Thresholds{
		NearMeters:    DefaultNearThresholdMeters,
		ArrivalMeters: DefaultArrivalThresholdMeters,
	}
}

// PhaseFor picks the phase for a fix at distance meters from the target.
// Distance thresholds win over the boundary test.
func (t Thresholds) PhaseFor(distance float64, inside bool) Phase {
	switch {
	case distance < t.ArrivalMeters:
		return PhaseArrived
	case distance < t.NearMeters:
		return PhaseNearTarget
	case inside:
		return PhaseInsideBoundary
	default:
		return PhaseOutsideBoundary
	}
}

// InstructionFor returns the fixed instruction text for phase
func InstructionFor(phase Phase) string {
	switch phase {
	case PhaseLocating:
		return InstructionLocating
	case PhaseOutsideBoundary:
		return InstructionOutside
	case PhaseInsideBoundary:
		return InstructionInside
	case PhaseNearTarget:
		return InstructionNear
	case PhaseArrived:
		return InstructionArrived
	}
	return ""
}

// ProgressFor returns the progress percentage for phase. Outside the boundary
// progress ramps with distance and is capped at 65 so it stays below the
// inside phase.
func ProgressFor(phase Phase, distance float64) float64 {
	switch phase {
	case PhaseArrived:
		return 100
	case PhaseNearTarget:
		return 95
	case PhaseInsideBoundary:
		return 70
	case PhaseOutsideBoundary:
		return math.Max(0, math.Min(65, 100-distance/10))
	}
	return 0
}

// EstimateArrivalMinutes returns walking minutes at WalkingSpeedKmh, rounded up
func EstimateArrivalMinutes(distance float64) int {
	if distance <= 0 || math.IsNaN(distance) {
		return 0
	}
	return int(math.Ceil(distance * 60 / (WalkingSpeedKmh * 1000)))
}
