// Package engine provides a top-level convenience entry point for
// assembling the orchestration engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/quantumforge/engine"
//
//	e, err := engine.New(engine.WithAnthropic("api-key"))
//	result, execErr := e.Execute(ctx, pipeline.Request{Prompt: "build a rate limiter"}, nil)
//
// This wires the default Model Manifest, a resilient provider, the
// Router, and the Agent/Quantum executors behind one Pipeline. Use the
// individual packages directly when you need custom wiring.
package engine

import (
	"context"
	"fmt"

	"github.com/quantumforge/engine/adapter"
	"github.com/quantumforge/engine/agent"
	"github.com/quantumforge/engine/branch"
	"github.com/quantumforge/engine/coordinator"
	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/manifest"
	"github.com/quantumforge/engine/pipeline"
	"github.com/quantumforge/engine/providers"
	anthropic "github.com/quantumforge/engine/providers/anthropic"
	"github.com/quantumforge/engine/quantum"
	"github.com/quantumforge/engine/registry"
	"github.com/quantumforge/engine/router"
	"github.com/quantumforge/engine/types"
	"go.uber.org/zap"
)

// Engine bundles a fully wired request pipeline with the registry it
// routes over.
type Engine struct {
	Registry *registry.Registry
	Pipeline *pipeline.Pipeline
}

type options struct {
	logger       *zap.Logger
	manifest     *manifest.Manifest
	maxBranches  int
	concurrency  int
	rateQPS      float64
	rateBurst    int
	anthropicKey string
	useAnthropic bool
	providers    map[string]llm.Provider
}

// Option configures the engine created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithManifest replaces the default Model Manifest.
func WithManifest(m *manifest.Manifest) Option {
	return func(o *options) { o.manifest = m }
}

// WithMaxBranches caps concurrent speculative branches per request.
func WithMaxBranches(n int) Option {
	return func(o *options) { o.maxBranches = n }
}

// WithProviderConcurrency caps in-flight upstream calls per provider.
func WithProviderConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// WithProviderRateLimit applies a shared token-bucket rate limit to
// every provider adapter.
func WithProviderRateLimit(qps float64, burst int) Option {
	return func(o *options) { o.rateQPS = qps; o.rateBurst = burst }
}

// WithAnthropic registers a resilient Claude provider under the
// "anthropic" provider id. API key may be empty if the caller injects
// per-request credentials via llm.WithCredentialOverride.
func WithAnthropic(apiKey string) Option {
	return func(o *options) {
		o.useAnthropic = true
		o.anthropicKey = apiKey
	}
}

// WithProvider registers a pre-built provider under id. The manifest
// must carry entries for it or New fails.
func WithProvider(id string, p llm.Provider) Option {
	return func(o *options) { o.providers[id] = p }
}

// New assembles an Engine. At minimum one provider must be registered
// via [WithAnthropic] or [WithProvider].
func New(opts ...Option) (*Engine, error) {
	o := &options{
		logger:      zap.NewNop(),
		maxBranches: 5,
		concurrency: 3,
		providers:   map[string]llm.Provider{},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.useAnthropic {
		claude := anthropic.NewClaudeProvider(providers.ClaudeConfig{APIKey: o.anthropicKey}, o.logger)
		o.providers["anthropic"] = llm.NewResilientProvider(claude, nil, o.logger)
	}
	if len(o.providers) == 0 {
		return nil, fmt.Errorf("engine: no providers configured")
	}
	if o.manifest == nil {
		o.manifest = manifest.Default()
	}

	reg := registry.New(o.manifest, o.logger)
	var adapterOpts []adapter.Option
	if o.rateQPS > 0 {
		adapterOpts = append(adapterOpts, adapter.WithRateLimit(o.rateQPS, o.rateBurst))
	}
	for id, p := range o.providers {
		if err := reg.RegisterProvider(id, p, o.concurrency, adapterOpts...); err != nil {
			return nil, err
		}
	}

	r := router.New(router.Config{MaxBranches: o.maxBranches}, o.manifest)
	agents := agent.New(reg, o.logger)
	q := quantum.New(agents, o.logger)
	coord := coordinator.New(q, agents, o.logger)
	pipe := pipeline.New(r, coord, o.logger)

	return &Engine{Registry: reg, Pipeline: pipe}, nil
}

// Execute runs one request through the full pipeline.
func (e *Engine) Execute(ctx context.Context, req pipeline.Request, events quantum.EventSink) (branch.Result, *types.Error) {
	return e.Pipeline.Execute(ctx, req, events)
}
