// Package registry maps a provider_id to a live Provider Adapter and
// holds the process-wide Model Manifest. It is a thin composition over
// llm.ProviderRegistry (which owns raw llm.Provider instances) and
// manifest.Manifest (which owns the static, canonical model list),
// keeping transport-level provider wiring separate from routing policy.
package registry

import (
	"fmt"
	"sync"

	"github.com/quantumforge/engine/adapter"
	"github.com/quantumforge/engine/llm"
	"github.com/quantumforge/engine/manifest"
	"go.uber.org/zap"
)

// Registry resolves (provider_id, model_id) pairs to a ready-to-call
// Adapter, backed by a canonical Model Manifest. It is built once at
// startup and never mutated afterward; adapters themselves still own
// their own per-process runtime state (rate limiters, in-flight count).
type Registry struct {
	mu        sync.RWMutex
	manifest  *manifest.Manifest
	providers *llm.ProviderRegistry
	adapters  map[string]adapter.Adapter // key: providerID + "/" + canonical modelID
	logger    *zap.Logger
}

// New builds an empty Registry over m. Adapters are added with Register
// after construction, once for every (provider, model) pair the process
// is willing to route to.
func New(m *manifest.Manifest, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		manifest:  m,
		providers: llm.NewProviderRegistry(),
		adapters:  make(map[string]adapter.Adapter),
		logger:    logger,
	}
}

// Register installs a ready-to-call Adapter for one (providerID,
// modelID) pair. Call this once per pair during startup, after the
// Model Manifest has validated the pair exists.
func (r *Registry) Register(providerID, modelID string, a adapter.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[key(providerID, modelID)] = a
}

// RegisterProvider is a convenience that builds and registers an
// LLMAdapter for every manifest entry belonging to providerID, wrapping
// the same llm.Provider instance for all of them with a shared
// per-provider concurrency semaphore.
func (r *Registry) RegisterProvider(providerID string, p llm.Provider, perProviderConcurrency int, opts ...adapter.Option) error {
	r.providers.Register(providerID, p)
	entries := r.manifest.ListCapable()
	found := 0
	for _, e := range entries {
		if e.ProviderID != providerID {
			continue
		}
		found++
		a := adapter.NewLLMAdapter(providerID, p, e, perProviderConcurrency, r.logger, opts...)
		r.Register(providerID, e.ModelID, a)
	}
	if found == 0 {
		return fmt.Errorf("registry: no manifest entries for provider %q", providerID)
	}
	return nil
}

// Resolve validates (providerID, modelID) against the Model Manifest,
// canonicalizing legacy aliases, then returns the Adapter registered for
// the canonical pair plus the manifest Entry describing it. It fails
// with types.ErrInvalidModel (via manifest.Resolve) when the pair is not
// mappable, and with a plain error if the manifest knows the model but
// no adapter was ever registered for it (a startup wiring bug, not a
// caller error).
func (r *Registry) Resolve(providerID, modelID string) (adapter.Adapter, manifest.Entry, error) {
	entry, err := r.manifest.Resolve(providerID, modelID)
	if err != nil {
		return nil, manifest.Entry{}, err
	}

	r.mu.RLock()
	a, ok := r.adapters[key(providerID, entry.ModelID)]
	r.mu.RUnlock()
	if !ok {
		return nil, manifest.Entry{}, fmt.Errorf("registry: no adapter registered for %s/%s", providerID, entry.ModelID)
	}
	return a, entry, nil
}

// Canonicalize delegates to the Model Manifest.
func (r *Registry) Canonicalize(modelID string) string {
	return r.manifest.Canonicalize(modelID)
}

// ListCapable delegates to the Model Manifest, returning (provider,
// model) pairs whose capabilities superset tags.
func (r *Registry) ListCapable(tags ...string) []manifest.Entry {
	return r.manifest.ListCapable(tags...)
}

// Manifest exposes the underlying Model Manifest for components (the
// Router) that need read access to pricing/capabilities directly rather
// than through an Adapter.
func (r *Registry) Manifest() *manifest.Manifest {
	return r.manifest
}

// Provider returns the raw llm.Provider registered under providerID,
// for callers (the passthrough chat handler, health checks) that want a
// single upstream directly instead of the branch-oriented Adapter.
func (r *Registry) Provider(providerID string) (llm.Provider, bool) {
	return r.providers.Get(providerID)
}

// Providers lists the registered provider ids in sorted order.
func (r *Registry) Providers() []string {
	return r.providers.List()
}

func key(providerID, modelID string) string {
	return providerID + "/" + modelID
}
