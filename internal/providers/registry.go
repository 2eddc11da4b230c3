package providers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/omrylcn/gbot/internal/errdefs"
)

// Registry routes chat requests to registered providers by model prefix
// and applies per-provider rate limits. A model like
// "anthropic/claude-sonnet-4-5-20250929" routes to the "anthropic"
// provider with the prefix stripped; an unknown prefix (or no prefix)
// goes to the default provider with the model string untouched, which is
// what aggregators like OpenRouter expect.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Provider
	limiters    map[string]*rate.Limiter
	defaultName string
}

func NewRegistry(defaultName string) *Registry {
	return &Registry{
		providers:   make(map[string]Provider),
		limiters:    make(map[string]*rate.Limiter),
		defaultName: defaultName,
	}
}

// Register adds a provider. requestsPerMinute 0 disables rate limiting.
// The first registered provider becomes the default when none was named.
func (r *Registry) Register(p Provider, requestsPerMinute int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers[p.Name()] = p
	if requestsPerMinute > 0 {
		burst := requestsPerMinute / 6
		if burst < 1 {
			burst = 1
		}
		r.limiters[p.Name()] = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
	if r.defaultName == "" {
		r.defaultName = p.Name()
	}
}

// Provider returns a registered provider by name.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Resolve maps a model identifier to a provider and the model string to
// send to it.
func (r *Registry) Resolve(model string) (Provider, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return nil, "", errdefs.Errorf(errdefs.ConfigError, "providers.resolve",
			"no llm provider configured; set an api key")
	}

	if prefix, rest, found := strings.Cut(model, "/"); found {
		if p, ok := r.providers[prefix]; ok {
			return p, rest, nil
		}
	}

	p, ok := r.providers[r.defaultName]
	if !ok {
		// Default was never registered; fall back to any provider.
		for _, candidate := range r.providers {
			return candidate, model, nil
		}
	}
	return p, model, nil
}

// Chat resolves the model, waits for the provider's rate limiter, and
// issues the request. Rate-limit responses and other provider failures
// come back as typed errors.
func (r *Registry) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p, model, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	req.Model = model

	r.mu.RLock()
	limiter := r.limiters[p.Name()]
	r.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errdefs.E(errdefs.RateLimited, "providers.chat", err)
		}
	}

	resp, err := p.Chat(ctx, req)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.Status == 429 {
			return nil, errdefs.E(errdefs.RateLimited, "providers.chat", err)
		}
		return nil, errdefs.E(errdefs.ProviderError, "providers.chat", err)
	}
	return resp, nil
}

// ChatStructured issues a schema-constrained request and returns the raw
// content string for the caller to parse and validate.
func (r *Registry) ChatStructured(ctx context.Context, req ChatRequest, format *ResponseFormat) (string, error) {
	if req.Options == nil {
		req.Options = make(map[string]interface{})
	}
	req.Options[OptResponseFormat] = format

	resp, err := r.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
