package client

// Scroll zone thresholds, in pixels.
const (
	// autoLoadZone is how close to the top triggers automatic history
	// loading while scrolling up.
	autoLoadZone = 20
	// manualButtonZone is how close to the top shows the manual
	// load-more control.
	manualButtonZone = 400
	// directionThreshold filters scroll jitter when detecting direction.
	directionThreshold = 8
	// bottomThreshold is how close to the bottom still counts as "at
	// bottom" for auto-scroll purposes.
	bottomThreshold = 50
)

// ScrollAction is what the UI should do after a scroll observation.
type ScrollAction int

const (
	ScrollNone ScrollAction = iota
	// ScrollLoadOlder asks for automatic history loading.
	ScrollLoadOlder
	// ScrollShowButton reveals the manual load-more control.
	ScrollShowButton
	// ScrollHideButton hides it.
	ScrollHideButton
)

// ScrollState tracks viewport position between observations.
type ScrollState struct {
	Top        float64
	LastTop    float64
	Height     float64
	ViewHeight float64

	ScrolledUp    bool
	DirectionUp   bool
	HasMore       bool
	Loading       bool
	ButtonVisible bool
}

// AtBottom reports whether the viewport is within the bottom threshold.
func (s *ScrollState) AtBottom() bool {
	return s.Top+s.ViewHeight >= s.Height-bottomThreshold
}

func (s *ScrollState) canScroll() bool {
	return s.Height > s.ViewHeight
}

// Observe ingests a new scroll position and decides the follow-up action.
// Direction flips only on movements larger than the jitter threshold, and
// automatic loading fires only near the top while moving up.
func (s *ScrollState) Observe(top float64) ScrollAction {
	s.Top = top
	if diff := top - s.LastTop; diff > directionThreshold || diff < -directionThreshold {
		if top < s.LastTop && !s.AtBottom() {
			s.ScrolledUp = true
			s.DirectionUp = true
		} else if s.AtBottom() {
			s.ScrolledUp = false
			s.DirectionUp = false
		}
	}
	s.LastTop = top

	autoZone := top < autoLoadZone
	manualZone := top < manualButtonZone

	switch {
	case autoZone && s.canScroll() && s.HasMore && !s.Loading && s.DirectionUp:
		return ScrollLoadOlder
	case manualZone && !autoZone && s.canScroll() && s.HasMore && !s.Loading && !s.AtBottom():
		if !s.ButtonVisible {
			s.ButtonVisible = true
			return ScrollShowButton
		}
	case !manualZone || s.AtBottom() || !s.HasMore:
		if s.ButtonVisible {
			s.ButtonVisible = false
			return ScrollHideButton
		}
	}
	return ScrollNone
}

// CompensatePrepend returns the scroll offset that keeps the viewport
// anchored after older history grew the content above it.
func CompensatePrepend(prevHeight, newHeight, top float64) float64 {
	return top + (newHeight - prevHeight)
}
