package visibility

import (
	"math/rand"
	"testing"
)

func TestInitialState(t *testing.T) {
	var c Controller
	if s := c.State(); s.Visible || s.Pinned {
		t.Fatalf("initial state = %+v, want hidden and unpinned", s)
	}
}

func TestTransitions(t *testing.T) {
	c := New()

	if s := c.Show(); !s.Visible || s.Pinned {
		t.Errorf("Show = %+v", s)
	}
	if s := c.Blur(); s.Visible {
		t.Errorf("Blur unpinned = %+v, want hidden", s)
	}

	c.Show()
	if s := c.TogglePin(); !s.Pinned || !s.Visible {
		t.Errorf("TogglePin = %+v", s)
	}
	if s := c.Blur(); !s.Visible {
		t.Errorf("Blur pinned = %+v, want visible", s)
	}
	if s := c.TogglePin(); s.Pinned || !s.Visible {
		t.Errorf("unpin = %+v, want visible and unpinned", s)
	}
}

func TestRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for run := 0; run < 500; run++ {
		c := New()
		for step := 0; step < 40; step++ {
			before := c.State()
			switch rng.Intn(3) {
			case 0:
				after := c.Show()
				if !after.Visible || after.Pinned != before.Pinned {
					t.Fatalf("show: %+v -> %+v", before, after)
				}
			case 1:
				after := c.Blur()
				if after.Visible != (before.Visible && before.Pinned) {
					t.Fatalf("blur: %+v -> %+v", before, after)
				}
				if after.Pinned != before.Pinned {
					t.Fatalf("blur changed pin: %+v -> %+v", before, after)
				}
			case 2:
				after := c.TogglePin()
				if after.Pinned == before.Pinned || after.Visible != before.Visible {
					t.Fatalf("toggle_pin: %+v -> %+v", before, after)
				}
			}
		}
	}
}

func TestOnChange(t *testing.T) {
	c := New()
	var seen []State
	c.OnChange(func(s State) { seen = append(seen, s) })

	c.Show()
	c.TogglePin()
	c.Blur()

	want := []State{{true, false}, {true, true}, {true, true}}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %+v, want %+v", i, seen[i], want[i])
		}
	}
}
