// Package visibility tracks whether the result surface is shown and pinned.
package visibility

import "sync"

// State is the result surface visibility.
type State struct {
	Visible bool `json:"visible"`
	Pinned  bool `json:"pinned"`
}

// Controller is a mutex-guarded State. The zero value is ready to use and
// starts hidden and unpinned.
type Controller struct {
	mu       sync.Mutex
	state    State
	onChange func(State)
}

func New() *Controller {
	return &Controller{}
}

// OnChange registers fn to receive every resulting state, including no-op
// transitions. fn runs outside the lock.
func (c *Controller) OnChange(fn func(State)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Show makes the surface visible. Pinned is unchanged.
func (c *Controller) Show() State {
	return c.apply(func(s *State) { s.Visible = true })
}

// Blur hides the surface unless it is pinned.
func (c *Controller) Blur() State {
	return c.apply(func(s *State) {
		if !s.Pinned {
			s.Visible = false
		}
	})
}

// TogglePin flips Pinned and never changes Visible.
func (c *Controller) TogglePin() State {
	return c.apply(func(s *State) { s.Pinned = !s.Pinned })
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) apply(fn func(*State)) State {
	c.mu.Lock()
	fn(&c.state)
	s := c.state
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil {
		notify(s)
	}
	return s
}
