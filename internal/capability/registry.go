// Package capability defines capability providers and the explicit registry
// the orchestrator uses to discover their tools.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Descriptor is re-exported so callers rarely need the lifecycle package for it.
type Descriptor = lifecycle.Descriptor

// Registry errors.
var (
	ErrProviderExists   = errors.New("provider already registered")
	ErrProviderNotFound = errors.New("provider not found")
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidProvider  = errors.New("invalid provider")
)

// ServerInfo identifies a provider.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Provider is a pluggable unit exposing tools that read and return a
// lifecycle record.
type Provider interface {
	// Info returns the provider identity. Name must be unique per registry.
	Info() ServerInfo

	ServerTools() []Descriptor
	ContextTools() []Descriptor
	ActionTools() []Descriptor
	PostProcessTools() []Descriptor

	// Invoke runs the named tool against rec and returns the updated record.
	Invoke(ctx context.Context, tool string, rec lifecycle.Record, args map[string]any) (lifecycle.Record, error)
}

// Tool is a descriptor bound to the provider that owns it.
type Tool struct {
	Descriptor
	Provider Provider

	// Rank is the provider registration rank.
	Rank int

	// index is the descriptor position in the provider listing.
	index int
}

// ProviderName returns the owning provider's name.
func (t Tool) ProviderName() string {
	return t.Provider.Info().Name
}

// Invoke calls the tool on its provider.
func (t Tool) Invoke(ctx context.Context, rec lifecycle.Record, args map[string]any) (lifecycle.Record, error) {
	return t.Provider.Invoke(ctx, t.Name, rec, args)
}

type registration struct {
	rank     int
	provider Provider
}

// Registry holds providers in registration order. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	entries  []*registration
	byName   map[string]*registration
	nextRank int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*registration),
	}
}

// Register adds p at the next registration rank.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("%w: nil provider", ErrInvalidProvider)
	}
	name := p.Info().Name
	if name == "" {
		return fmt.Errorf("%w: provider name is required", ErrInvalidProvider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrProviderExists, name)
	}
	reg := &registration{rank: r.nextRank, provider: p}
	r.nextRank++
	r.entries = append(r.entries, reg)
	r.byName[name] = reg
	return nil
}

// Unregister removes the named provider. Remaining ranks are unchanged.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	delete(r.byName, name)
	for i, e := range r.entries {
		if e == reg {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
	return nil
}

// Provider returns the named provider.
func (r *Registry) Provider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return reg.provider, true
}

// Providers returns providers in registration order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.provider)
	}
	return out
}

// ServerTools returns every server tool in registration order.
func (r *Registry) ServerTools() []Tool {
	return r.collect(lifecycle.CategoryServer, Provider.ServerTools)
}

// ContextTools returns every context tool in registration order. Context
// tools run concurrently, so zIndex only matters for merge order within a
// single provider listing.
func (r *Registry) ContextTools() []Tool {
	return r.collect(lifecycle.CategoryContext, Provider.ContextTools)
}

// ActionTools returns every action tool sorted by zIndex, ties by rank.
func (r *Registry) ActionTools() []Tool {
	return SortByZIndex(r.collect(lifecycle.CategoryAction, Provider.ActionTools))
}

// PostProcessTools returns every post-process tool sorted by zIndex, ties by rank.
func (r *Registry) PostProcessTools() []Tool {
	return SortByZIndex(r.collect(lifecycle.CategoryPostProcess, Provider.PostProcessTools))
}

// Lookup finds a tool by provider and tool name.
func (r *Registry) Lookup(provider, tool string) (Tool, error) {
	r.mu.RLock()
	reg, ok := r.byName[provider]
	r.mu.RUnlock()
	if !ok {
		return Tool{}, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
	}

	lists := []struct {
		cat  lifecycle.Category
		list []Descriptor
	}{
		{lifecycle.CategoryServer, reg.provider.ServerTools()},
		{lifecycle.CategoryContext, reg.provider.ContextTools()},
		{lifecycle.CategoryAction, reg.provider.ActionTools()},
		{lifecycle.CategoryPostProcess, reg.provider.PostProcessTools()},
	}
	for _, l := range lists {
		for i, d := range l.list {
			if d.Name == tool {
				d.Category = l.cat
				return Tool{Descriptor: d, Provider: reg.provider, Rank: reg.rank, index: i}, nil
			}
		}
	}
	return Tool{}, fmt.Errorf("%w: %s/%s", ErrToolNotFound, provider, tool)
}

func (r *Registry) collect(cat lifecycle.Category, list func(Provider) []Descriptor) []Tool {
	r.mu.RLock()
	entries := make([]*registration, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	var out []Tool
	for _, e := range entries {
		for i, d := range list(e.provider) {
			// The listing a tool comes from decides its category.
			d.Category = cat
			out = append(out, Tool{Descriptor: d, Provider: e.provider, Rank: e.rank, index: i})
		}
	}
	return out
}

// SortByZIndex orders tools by zIndex ascending. Ties keep registration rank,
// then listing order.
func SortByZIndex(tools []Tool) []Tool {
	sort.SliceStable(tools, func(i, j int) bool {
		a, b := tools[i], tools[j]
		if a.ZIndex != b.ZIndex {
			return a.ZIndex < b.ZIndex
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.index < b.index
	})
	return tools
}

// Descriptors strips the provider binding.
func Descriptors(tools []Tool) []Descriptor {
	out := make([]Descriptor, len(tools))
	for i, t := range tools {
		out[i] = t.Descriptor
	}
	return out
}
