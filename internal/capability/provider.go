package capability

import (
	"context"
	"fmt"
	"sync"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Handler implements a single tool.
type Handler func(ctx context.Context, rec lifecycle.Record, args map[string]any) (lifecycle.Record, error)

// FuncProvider is an in-process provider assembled from handlers.
type FuncProvider struct {
	info ServerInfo

	mu       sync.RWMutex
	tools    map[lifecycle.Category][]Descriptor
	handlers map[string]Handler
}

// NewFuncProvider creates an empty provider named name.
func NewFuncProvider(name, version string) *FuncProvider {
	return &FuncProvider{
		info:     ServerInfo{Name: name, Version: version},
		tools:    make(map[lifecycle.Category][]Descriptor),
		handlers: make(map[string]Handler),
	}
}

// Handle registers h under d. Re-registering a name replaces the handler but
// keeps the original listing position.
func (p *FuncProvider) Handle(d Descriptor, h Handler) *FuncProvider {
	if !d.Category.Valid() {
		panic(fmt.Sprintf("capability: tool %q has invalid category %q", d.Name, d.Category))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handlers[d.Name]; !ok {
		p.tools[d.Category] = append(p.tools[d.Category], d)
	}
	p.handlers[d.Name] = h
	return p
}

// Info returns the provider identity.
func (p *FuncProvider) Info() ServerInfo { return p.info }

func (p *FuncProvider) list(cat lifecycle.Category) []Descriptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Descriptor, len(p.tools[cat]))
	copy(out, p.tools[cat])
	return out
}

func (p *FuncProvider) ServerTools() []Descriptor { return p.list(lifecycle.CategoryServer) }
func (p *FuncProvider) ContextTools() []Descriptor { return p.list(lifecycle.CategoryContext) }
func (p *FuncProvider) ActionTools() []Descriptor { return p.list(lifecycle.CategoryAction) }

func (p *FuncProvider) PostProcessTools() []Descriptor {
	return p.list(lifecycle.CategoryPostProcess)
}

// Invoke dispatches to the registered handler.
func (p *FuncProvider) Invoke(ctx context.Context, tool string, rec lifecycle.Record, args map[string]any) (lifecycle.Record, error) {
	p.mu.RLock()
	h, ok := p.handlers[tool]
	p.mu.RUnlock()
	if !ok {
		return rec, fmt.Errorf("%w: %s/%s", ErrToolNotFound, p.info.Name, tool)
	}
	return h(ctx, rec, args)
}

var _ Provider = (*FuncProvider)(nil)
