package client

import "testing"

// viewport: 2000px of content in a 500px view, scrolled to the bottom.
func bottomState() ScrollState {
	return ScrollState{
		Top:     1500,
		LastTop: 1500,
		Height:  2000, ViewHeight: 500,
		HasMore: true,
	}
}

func TestScrollObserve(t *testing.T) {
	t.Run("upward scroll into auto zone loads older", func(t *testing.T) {
		s := bottomState()
		if got := s.Observe(800); got != ScrollNone {
			t.Fatalf("mid-scroll action = %v", got)
		}
		if !s.DirectionUp {
			t.Fatalf("large upward move did not set direction")
		}
		if got := s.Observe(10); got != ScrollLoadOlder {
			t.Fatalf("auto zone action = %v, want ScrollLoadOlder", got)
		}
	})

	t.Run("jitter does not flip direction", func(t *testing.T) {
		s := bottomState()
		s.Observe(800)
		if got := s.Observe(805); got != ScrollNone {
			t.Fatalf("jitter produced %v", got)
		}
		if !s.DirectionUp {
			t.Fatalf("5px jitter flipped direction")
		}
	})

	t.Run("manual zone shows button once", func(t *testing.T) {
		s := bottomState()
		s.Observe(800)
		if got := s.Observe(300); got != ScrollShowButton {
			t.Fatalf("manual zone action = %v, want ScrollShowButton", got)
		}
		if got := s.Observe(290); got != ScrollNone {
			t.Fatalf("button shown twice: %v", got)
		}
	})

	t.Run("leaving manual zone hides button", func(t *testing.T) {
		s := bottomState()
		s.Observe(800)
		s.Observe(300)
		if got := s.Observe(900); got != ScrollHideButton {
			t.Fatalf("leave action = %v, want ScrollHideButton", got)
		}
	})

	t.Run("no history means no loading", func(t *testing.T) {
		s := bottomState()
		s.HasMore = false
		s.Observe(800)
		if got := s.Observe(10); got != ScrollNone {
			t.Fatalf("exhausted history still loads: %v", got)
		}
	})

	t.Run("loading in flight suppresses reload", func(t *testing.T) {
		s := bottomState()
		s.Observe(800)
		s.Loading = true
		if got := s.Observe(10); got != ScrollNone {
			t.Fatalf("double load: %v", got)
		}
	})

	t.Run("short content never loads", func(t *testing.T) {
		s := ScrollState{Height: 400, ViewHeight: 500, HasMore: true, DirectionUp: true}
		if got := s.Observe(0); got != ScrollNone {
			t.Fatalf("unscrollable content loaded history: %v", got)
		}
	})

	t.Run("downward move to bottom clears direction", func(t *testing.T) {
		s := bottomState()
		s.Observe(800)
		s.Observe(1500)
		if s.DirectionUp {
			t.Fatalf("direction still up at the bottom")
		}
	})
}

func TestAtBottom(t *testing.T) {
	s := bottomState()
	if !s.AtBottom() {
		t.Fatalf("bottom position not detected")
	}
	s.Top = 1460 // within the 50px threshold
	if !s.AtBottom() {
		t.Fatalf("near-bottom position not detected")
	}
	s.Top = 1400
	if s.AtBottom() {
		t.Fatalf("mid position counted as bottom")
	}
}

func TestCompensatePrepend(t *testing.T) {
	// 600px of history inserted above a viewport at 10px keeps the same
	// rows in view at 610px.
	if got := CompensatePrepend(2000, 2600, 10); got != 610 {
		t.Fatalf("CompensatePrepend = %v, want 610", got)
	}
}
