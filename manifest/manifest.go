// Package manifest holds the process-wide Model Manifest: the canonical list
// of (provider, model) pairs the engine is permitted to route to, their
// capabilities and pricing, and legacy-alias canonicalization. It is the
// static counterpart to llm.ProviderRegistry, which holds the live adapters;
// Manifest tells the Router and Quantum Executor what is allowed to exist,
// Registry tells them how to actually call it.
package manifest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quantumforge/engine/types"
)

// Pricing is USD per 1000 tokens, matching providers' own per-1k convention.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Entry describes one routable (provider, model) pair.
type Entry struct {
	ProviderID     string
	ModelID        string
	Aliases        []string
	ContextWindow  int
	Pricing        Pricing
	Capabilities   []string
}

// HasCapability reports whether tag is among the entry's capabilities.
func (e Entry) HasCapability(tag string) bool {
	for _, c := range e.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// EstimateCost predicts USD cost for the given token counts.
func (e Entry) EstimateCost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*e.Pricing.InputPer1K + float64(completionTokens)/1000*e.Pricing.OutputPer1K
}

// Manifest is a read-mostly, process-wide catalog of routable models. It is
// built once at startup from a static entry list (in this engine, the
// embedded Default entries) and never mutated afterward except through
// its own constructor — the same "assemble once, read concurrently" shape
// llm.ProviderRegistry uses for live adapters.
type Manifest struct {
	mu      sync.RWMutex
	entries map[string]Entry // key: providerID + "/" + modelID
	aliases map[string]string // alias -> canonical "providerID/modelID"
}

// New builds a Manifest from entries. Alias collisions are resolved
// first-write-wins; later duplicate aliases are ignored.
func New(entries []Entry) *Manifest {
	m := &Manifest{
		entries: make(map[string]Entry, len(entries)),
		aliases: make(map[string]string),
	}
	for _, e := range entries {
		key := entryKey(e.ProviderID, e.ModelID)
		m.entries[key] = e
		for _, alias := range e.Aliases {
			if _, exists := m.aliases[alias]; !exists {
				m.aliases[alias] = key
			}
		}
	}
	return m
}

func entryKey(providerID, modelID string) string {
	return providerID + "/" + modelID
}

// Resolve validates a (provider, model) pair, canonicalizing legacy model
// aliases to their current manifest entry. It fails with types.ErrInvalidModel
// when the pair cannot be mapped to any entry.
func (m *Manifest) Resolve(providerID, modelID string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	canonical := m.canonicalizeLocked(modelID)
	key := entryKey(providerID, canonical)
	if e, ok := m.entries[key]; ok {
		return e, nil
	}
	return Entry{}, types.NewError(types.ErrInvalidModel,
		fmt.Sprintf("no manifest entry for provider=%q model=%q", providerID, modelID)).
		WithHTTPStatus(types.HTTPStatusForKind(types.ErrInvalidModel))
}

// Canonicalize maps a possibly-legacy model id to its current manifest id.
// Unknown ids are returned unchanged — callers must still Resolve to confirm
// routability.
func (m *Manifest) Canonicalize(modelID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canonicalizeLocked(modelID)
}

func (m *Manifest) canonicalizeLocked(modelID string) string {
	if key, ok := m.aliases[modelID]; ok {
		for _, e := range m.entries {
			if entryKey(e.ProviderID, e.ModelID) == key {
				return e.ModelID
			}
		}
	}
	return modelID
}

// ListCapable returns (providerID, modelID) pairs whose capabilities
// superset tags, sorted for deterministic candidate ordering.
func (m *Manifest) ListCapable(tags ...string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, e := range m.entries {
		ok := true
		for _, tag := range tags {
			if !e.HasCapability(tag) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}

// Len reports the number of distinct manifest entries.
func (m *Manifest) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Default returns a small built-in manifest covering the one adapter this
// engine ships (two anthropic models). Nothing in the engine loads a
// manifest from a config file; cmd/quantumforge and engine.go build theirs
// from Default, so the engine boots with something routable.
func Default() *Manifest {
	return New([]Entry{
		{
			ProviderID:    "anthropic",
			ModelID:       "claude-3-5-sonnet-20241022",
			Aliases:       []string{"claude-3.5-sonnet", "claude-sonnet"},
			ContextWindow: 200000,
			Pricing:       Pricing{InputPer1K: 0.003, OutputPer1K: 0.015},
			Capabilities:  []string{"code_generation", "code_analysis", "architecture", "security", "testing"},
		},
		{
			ProviderID:    "anthropic",
			ModelID:       "claude-3-haiku-20240307",
			Aliases:       []string{"claude-haiku"},
			ContextWindow: 200000,
			Pricing:       Pricing{InputPer1K: 0.00025, OutputPer1K: 0.00125},
			Capabilities:  []string{"code_generation", "testing"},
		},
	})
}
