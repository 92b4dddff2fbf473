package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/snarg/veya-engine/internal/metrics"
)

// maxQueuedEvents bounds a channel nobody is reading. Past it the oldest
// delta is dropped; start and terminal events are always kept.
const maxQueuedEvents = 1024

// ErrDetached is returned by Subscriber.Next once another subscriber has
// attached to the channel or the subscriber was closed.
var ErrDetached = errors.New("pipeline: subscriber detached")

// Channel is the event queue of one pipeline. Only the newest invocation
// may emit; events of superseded invocations are discarded, never queued.
// There is at most one subscriber at a time.
type Channel struct {
	name Name

	mu      sync.Mutex
	gen     uint64
	seq     uint64
	queue   []Event
	wake    chan struct{} // closed and replaced on every state change
	cancel  context.CancelFunc
	subID   uint64
	hasSub  bool
	observe []func(Event)
}

func newChannel(name Name) *Channel {
	return &Channel{name: name, wake: make(chan struct{})}
}

// Name returns the pipeline this channel belongs to.
func (c *Channel) Name() Name { return c.name }

// Observe registers fn to see every delivered event in order. fn runs with
// the channel locked and must not block.
func (c *Channel) Observe(fn func(Event)) {
	c.mu.Lock()
	c.observe = append(c.observe, fn)
	c.mu.Unlock()
}

// Invocation is the emitting side of one pipeline run.
type Invocation struct {
	ch       *Channel
	gen      uint64
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	terminal bool // guarded by ch.mu
}

// Begin supersedes the live invocation, if any, and starts a new one whose
// start event is queued before Begin returns. The previous invocation's
// context is canceled and its queued events are discarded.
func (c *Channel) Begin(parent context.Context, startData any) *Invocation {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.cancel = cancel
	if n := len(c.queue); n > 0 {
		metrics.PipelineDroppedEventsTotal.WithLabelValues(string(c.name)).Add(float64(n))
		c.queue = nil
	}
	inv := &Invocation{ch: c, gen: c.gen, id: uuid.NewString(), ctx: ctx, cancel: cancel}
	c.pushLocked(inv, Event{Kind: EventStart, Data: startData})
	c.mu.Unlock()

	return inv
}

// Len returns the number of queued events.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Channel) pushLocked(inv *Invocation, ev Event) {
	c.seq++
	ev.Seq = c.seq
	ev.Pipeline = c.name
	ev.Invocation = inv.id
	c.queue = append(c.queue, ev)
	if len(c.queue) > maxQueuedEvents {
		c.dropOldestDeltaLocked()
	}
	metrics.PipelineEventsTotal.WithLabelValues(string(c.name), string(ev.Kind)).Inc()
	for _, fn := range c.observe {
		fn(ev)
	}
	c.signalLocked()
}

func (c *Channel) dropOldestDeltaLocked() {
	for i, q := range c.queue {
		if q.Kind != EventDelta {
			continue
		}
		copy(c.queue[i:], c.queue[i+1:])
		c.queue[len(c.queue)-1] = Event{}
		c.queue = c.queue[:len(c.queue)-1]
		metrics.PipelineDroppedEventsTotal.WithLabelValues(string(c.name)).Inc()
		return
	}
}

func (c *Channel) signalLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// ID returns the invocation id carried on every event.
func (inv *Invocation) ID() string { return inv.id }

// Context is canceled when the invocation is superseded or finished.
func (inv *Invocation) Context() context.Context { return inv.ctx }

// Live reports whether the invocation may still emit.
func (inv *Invocation) Live() bool {
	inv.ch.mu.Lock()
	defer inv.ch.mu.Unlock()
	return inv.gen == inv.ch.gen && !inv.terminal
}

// Emit queues ev. It returns false, dropping the event, when the
// invocation was superseded or already emitted its terminal event. Emit
// never blocks on the subscriber.
func (inv *Invocation) Emit(ev Event) bool {
	c := inv.ch
	c.mu.Lock()
	if inv.gen != c.gen || inv.terminal || ev.Kind == EventStart {
		c.mu.Unlock()
		metrics.PipelineDroppedEventsTotal.WithLabelValues(string(c.name)).Inc()
		return false
	}
	if ev.Kind.Terminal() {
		inv.terminal = true
	}
	c.pushLocked(inv, ev)
	c.mu.Unlock()

	if ev.Kind.Terminal() {
		inv.cancel()
	}
	return true
}

// Subscriber is the consuming side of a channel.
type Subscriber struct {
	c  *Channel
	id uint64
}

// Attach makes a new subscriber current. A previous subscriber is
// detached; events still queued go to the new one.
func (c *Channel) Attach() *Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subID++
	c.hasSub = true
	c.signalLocked()
	return &Subscriber{c: c, id: c.subID}
}

// Next returns the next event in FIFO order, waiting until one is queued.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	c := s.c
	for {
		c.mu.Lock()
		if !c.hasSub || c.subID != s.id {
			c.mu.Unlock()
			return Event{}, ErrDetached
		}
		if len(c.queue) > 0 {
			ev := c.queue[0]
			c.queue[0] = Event{}
			c.queue = c.queue[1:]
			if len(c.queue) == 0 {
				c.queue = nil
			}
			c.mu.Unlock()
			return ev, nil
		}
		wake := c.wake
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-wake:
		}
	}
}

// Close detaches s if it is still the current subscriber.
func (s *Subscriber) Close() {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSub && c.subID == s.id {
		c.hasSub = false
		c.signalLocked()
	}
}
