package speech

import (
	"context"
	"io"
	"strings"

	"github.com/snarg/veya-engine/internal/apperr"
)

// Endpoint pairs a provider with the language it serves.
type Endpoint struct {
	Language string
	Default  bool
	Provider Provider
}

// Router selects a speech endpoint by language.
//
// Resolution order:
//  1. exact language match (case-insensitive)
//  2. primary-subtag match in either direction ("en" ~ "en-US")
//  3. the endpoint flagged Default, else the first configured endpoint
//
// Routing fails only when no endpoint is configured.
type Router struct {
	endpoints []Endpoint
}

// NewRouter creates a router over endpoints in configuration order.
func NewRouter(endpoints []Endpoint) *Router {
	return &Router{endpoints: endpoints}
}

// ErrNoEndpoint is returned when no speech endpoint is configured.
var ErrNoEndpoint = apperr.New(apperr.SynthesisFailed, "no speech endpoint configured")

// Route returns the endpoint for lang.
func (r *Router) Route(lang string) (Endpoint, error) {
	if len(r.endpoints) == 0 {
		return Endpoint{}, ErrNoEndpoint
	}
	want := normalizeLang(lang)

	if want != "" {
		for _, e := range r.endpoints {
			if normalizeLang(e.Language) == want {
				return e, nil
			}
		}
		for _, e := range r.endpoints {
			have := normalizeLang(e.Language)
			if have == "" {
				continue
			}
			if primarySubtag(have) == primarySubtag(want) {
				return e, nil
			}
		}
	}

	for _, e := range r.endpoints {
		if e.Default {
			return e, nil
		}
	}
	return r.endpoints[0], nil
}

// Name implements Provider.
func (r *Router) Name() string { return "router" }

// Stream implements Provider by delegating to the routed endpoint.
func (r *Router) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	e, err := r.Route(req.Language)
	if err != nil {
		return nil, err
	}
	return e.Provider.Stream(ctx, req)
}

// Synthesize implements Provider by delegating to the routed endpoint.
func (r *Router) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	e, err := r.Route(req.Language)
	if err != nil {
		return nil, err
	}
	return e.Provider.Synthesize(ctx, req)
}

func normalizeLang(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}

func primarySubtag(s string) string {
	if i := strings.IndexByte(s, '-'); i >= 0 {
		return s[:i]
	}
	return s
}
