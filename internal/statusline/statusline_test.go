package statusline

import "testing"

func TestNewNonInteractiveDisablesProgress(t *testing.T) {
	s := New(false)
	if s.enabled {
		t.Fatalf("expected non-interactive Status to be disabled")
	}
	// Bump and Close must be safe no-ops without a running goroutine.
	s.SetRange(1, 10)
	s.Bump()
	s.Close()
}

func TestRenderReflectsRange(t *testing.T) {
	s := New(false)
	s.SetRange(5, 15)
	s.count = 3
	got := s.render()
	want := "rev 7/15"
	if len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("render() = %q, want prefix %q", got, want)
	}
}

func TestRenderClampsToStartWhenNoProgress(t *testing.T) {
	s := New(false)
	s.SetRange(5, 15)
	got := s.render()
	want := "rev 5/15"
	if len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("render() = %q, want prefix %q", got, want)
	}
}
