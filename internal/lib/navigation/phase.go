package navigation

// Phase is the navigation state of a session
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseLocating        Phase = "locating"
	PhaseOutsideBoundary Phase = "outside_boundary"
	PhaseInsideBoundary  Phase = "inside_boundary"
	PhaseNearTarget      Phase = "near_target"
	PhaseArrived         Phase = "arrived"
)

// Navigating reports whether the phase is one of the navigating substates
func (p Phase) Navigating() bool {
	switch p {
	case PhaseOutsideBoundary, PhaseInsideBoundary, PhaseNearTarget:
		return true
	}
	return false
}

// Tracking reports whether fixes are processed in this phase
func (p Phase) Tracking() bool {
	return p == PhaseLocating || p.Navigating()
}

func (p Phase) String() string {
	return string(p)
}
