// Package pipeline drives the text insight, vision capture and cast
// pipelines and delivers their events to one subscriber per pipeline.
package pipeline

import (
	"context"
	"errors"

	"github.com/snarg/veya-engine/internal/apperr"
)

// Name identifies a pipeline.
type Name string

const (
	TextInsight   Name = "text_insight"
	VisionCapture Name = "vision_capture"
	Cast          Name = "cast"
)

// Names lists every pipeline.
func Names() []Name { return []Name{TextInsight, VisionCapture, Cast} }

// ParseName resolves a pipeline name. URL-style dashes are accepted.
func ParseName(s string) (Name, bool) {
	switch s {
	case "text_insight", "text-insight":
		return TextInsight, true
	case "vision_capture", "vision-capture":
		return VisionCapture, true
	case "cast":
		return Cast, true
	}
	return "", false
}

// EventKind is the envelope kind of an Event.
type EventKind string

const (
	EventStart EventKind = "start"
	EventDelta EventKind = "delta"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// Terminal reports whether k ends an invocation.
func (k EventKind) Terminal() bool { return k == EventDone || k == EventError }

// Provenance tags delta content as recognized or AI-inferred.
type Provenance string

const (
	Verbatim Provenance = "verbatim"
	Inferred Provenance = "inferred"
)

// Event is one message on a pipeline channel. Seq, Pipeline and Invocation
// are filled in by the channel.
type Event struct {
	Seq        uint64     `json:"seq"`
	Pipeline   Name       `json:"pipeline"`
	Invocation string     `json:"invocation"`
	Kind       EventKind  `json:"kind"`
	Section    string     `json:"section,omitempty"`
	Content    string     `json:"content,omitempty"`
	Provenance Provenance `json:"provenance,omitempty"`
	Progress   *int       `json:"progress,omitempty"`
	Stage      string     `json:"stage,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Message    string     `json:"message,omitempty"`
	Data       any        `json:"data,omitempty"`
}

func deltaEvent(section, content string, prov Provenance) Event {
	return Event{Kind: EventDelta, Section: section, Content: content, Provenance: prov}
}

func progressEvent(stage string, progress int, content string) Event {
	return Event{Kind: EventDelta, Stage: stage, Progress: &progress, Content: content}
}

func doneEvent(data any) Event {
	return Event{Kind: EventDone, Data: data}
}

// failure is an error built by the engine itself, so its detail is safe to
// show. Provider errors only ever surface their kind message.
type failure struct{ err *apperr.Error }

func fail(kind apperr.Kind, format string, args ...any) error {
	return &failure{err: apperr.Newf(kind, format, args...)}
}

func (f *failure) Error() string { return f.err.Error() }
func (f *failure) Unwrap() error { return f.err }

// errorEvent maps err to its kind. Unclassified errors surface as
// service_unavailable so the UI still gets a kind-specific message.
func errorEvent(err error) Event {
	kind, ok := apperr.KindOf(err)
	switch {
	case ok:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = apperr.NetworkTimeout
	default:
		kind = apperr.ServiceUnavailable
	}
	ev := Event{Kind: EventError, ErrorKind: kind.String(), Message: kind.Message()}
	var f *failure
	if errors.As(err, &f) && f.err.Detail != "" {
		ev.Message = kind.Message() + " (" + f.err.Detail + ")"
	}
	return ev
}
