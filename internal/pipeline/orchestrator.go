package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/veya-engine/internal/apperr"
	"github.com/snarg/veya-engine/internal/llm"
	"github.com/snarg/veya-engine/internal/mediacache"
	"github.com/snarg/veya-engine/internal/metrics"
	"github.com/snarg/veya-engine/internal/speech"
	"github.com/snarg/veya-engine/internal/visibility"
)

// ErrInvalidInput is returned synchronously by the Start methods. A
// rejected request never supersedes the live invocation.
var ErrInvalidInput = errors.New("invalid pipeline input")

// AudioStore receives the finished cast audio.
type AudioStore interface {
	StoreTemporary(ctx context.Context, data []byte) (mediacache.Artifact, error)
}

// Shower is told to show the result surface when a pipeline starts.
type Shower interface {
	Show() visibility.State
}

// Options configures an Orchestrator. Text, Vision and Speech are expected
// to already be wrapped with retry.
type Options struct {
	Text       llm.Provider
	Vision     llm.Provider // defaults to Text
	Speech     speech.Provider
	Audio      AudioStore
	Recognizer Recognizer // used when a Capture brings none
	Records    RecordSink // optional
	Visibility Shower     // optional
	Log        zerolog.Logger
}

// Handle identifies a started invocation.
type Handle struct {
	Pipeline   Name   `json:"pipeline"`
	Invocation string `json:"invocation"`
}

// Orchestrator owns one channel per pipeline and runs each invocation in
// its own goroutine.
type Orchestrator struct {
	opts     Options
	log      zerolog.Logger
	channels map[Name]*Channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Vision == nil {
		opts.Vision = opts.Text
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:     opts,
		log:      opts.Log.With().Str("component", "orchestrator").Logger(),
		channels: make(map[Name]*Channel, 3),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, n := range Names() {
		o.channels[n] = newChannel(n)
	}
	return o
}

// Channel returns the event channel of a pipeline.
func (o *Orchestrator) Channel(name Name) *Channel {
	return o.channels[name]
}

// Shutdown cancels every live invocation and waits for their goroutines,
// or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch supersedes the live invocation of name and runs fn for the new one.
// fn returns the terminal error, or nil after it emitted done itself.
func (o *Orchestrator) launch(name Name, startData any, fn func(inv *Invocation) error) (Handle, error) {
	if err := o.ctx.Err(); err != nil {
		return Handle{}, err
	}
	inv := o.channels[name].Begin(o.ctx, startData)
	if o.opts.Visibility != nil {
		o.opts.Visibility.Show()
	}
	log := o.log.With().Str("pipeline", string(name)).Str("invocation", inv.ID()).Logger()
	log.Debug().Msg("pipeline started")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		start := time.Now()
		outcome := "done"

		err := fn(inv)
		switch {
		case err == nil:
		case !inv.Live():
			outcome = "superseded"
			log.Debug().Err(err).Msg("superseded invocation stopped")
		default:
			outcome = "error"
			if kind, ok := apperr.KindOf(err); ok {
				outcome = kind.String()
			}
			log.Warn().Err(err).Msg("pipeline failed")
			inv.Emit(errorEvent(err))
		}
		// A runner that returned nil without a terminal event still
		// ends the invocation.
		if inv.Live() {
			inv.Emit(errorEvent(fail(apperr.ServiceUnavailable, "pipeline ended without a result")))
		}
		metrics.PipelineDuration.WithLabelValues(string(name), outcome).Observe(time.Since(start).Seconds())
	}()

	return Handle{Pipeline: name, Invocation: inv.ID()}, nil
}

func invalid(msg string) error {
	return &inputError{msg: msg}
}

type inputError struct{ msg string }

func (e *inputError) Error() string { return e.msg }
func (e *inputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// pump forwards a provider stream until it ends. Each fragment goes to
// onFrag; the stream is closed on return. A superseded invocation stops
// reading at the next fragment.
func pump(inv *Invocation, s llm.Stream, onFrag func(string)) error {
	defer s.Close()
	for {
		frag, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := inv.Context().Err(); err != nil {
			return err
		}
		if frag != "" {
			onFrag(frag)
		}
	}
}
