package mqttclient

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/pipeline"
)

// Publisher sends one message. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Status is the message published on <prefix>/<pipeline> for every start,
// progress and terminal event. Content deltas are not published.
type Status struct {
	Pipeline   pipeline.Name      `json:"pipeline"`
	Invocation string             `json:"invocation"`
	Kind       pipeline.EventKind `json:"kind"`
	Stage      string             `json:"stage,omitempty"`
	Progress   *int               `json:"progress,omitempty"`
	ErrorKind  string             `json:"error_kind,omitempty"`
	Message    string             `json:"message,omitempty"`
}

type statusMsg struct {
	topic   string
	payload []byte
}

// StatusPublisher mirrors pipeline status to the broker through a bounded
// queue, so a slow broker never holds up a channel.
type StatusPublisher struct {
	pub    Publisher
	prefix string
	queue  chan statusMsg
	log    zerolog.Logger

	closeOnce sync.Once
	closeMu   sync.RWMutex
	closed    bool
	done      chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
}

// NewStatusPublisher starts the publishing goroutine.
func NewStatusPublisher(pub Publisher, prefix string, queueSize int, log zerolog.Logger) *StatusPublisher {
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &StatusPublisher{
		pub:    pub,
		prefix: prefix,
		queue:  make(chan statusMsg, queueSize),
		log:    log.With().Str("component", "mqtt-status").Logger(),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Watch publishes the status of every event delivered on ch.
func (p *StatusPublisher) Watch(ch *pipeline.Channel) {
	ch.Observe(p.observe)
}

func (p *StatusPublisher) observe(ev pipeline.Event) {
	if ev.Kind == pipeline.EventDelta && ev.Progress == nil {
		return
	}
	payload, err := json.Marshal(Status{
		Pipeline:   ev.Pipeline,
		Invocation: ev.Invocation,
		Kind:       ev.Kind,
		Stage:      ev.Stage,
		Progress:   ev.Progress,
		ErrorKind:  ev.ErrorKind,
		Message:    ev.Message,
	})
	if err != nil {
		return
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- statusMsg{topic: p.prefix + "/" + string(ev.Pipeline), payload: payload}:
	default:
		p.dropped.Add(1)
	}
}

func (p *StatusPublisher) run() {
	defer close(p.done)
	for m := range p.queue {
		if err := p.pub.Publish(m.topic, m.payload); err != nil {
			p.log.Debug().Err(err).Str("topic", m.topic).Msg("status publish failed")
			continue
		}
		p.published.Add(1)
	}
}

// Close drains the queue and stops the publishing goroutine.
func (p *StatusPublisher) Close() {
	p.closeOnce.Do(func() {
		p.closeMu.Lock()
		p.closed = true
		close(p.queue)
		p.closeMu.Unlock()
	})
	<-p.done
	p.log.Info().
		Int64("published", p.published.Load()).
		Int64("dropped", p.dropped.Load()).
		Msg("status publisher stopped")
}
