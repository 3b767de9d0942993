package memory

import (
	"context"
	"fmt"

	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Provider identity and tools.
const (
	ServerName          = "Daemon Memory Server"
	Version             = "1.0.0"
	ToolGetContext      = "ctx_getContext"
	ToolCreateKnowledge = "pp_createKnowledge"

	// CreateKnowledgeZIndex runs the memory write after generation and before the canonical log.
	CreateKnowledgeZIndex = 1000
)

// Provider exposes Hybrid as a capability provider.
type Provider struct {
	memory *Hybrid
}

// NewProvider wraps h.
func NewProvider(h *Hybrid) *Provider {
	return &Provider{memory: h}
}

func (p *Provider) Info() capability.ServerInfo {
	return capability.ServerInfo{Name: ServerName, Version: Version}
}

func (p *Provider) ServerTools() []capability.Descriptor { return nil }

func (p *Provider) ContextTools() []capability.Descriptor {
	return []capability.Descriptor{{
		Name:        ToolGetContext,
		Description: "Recall similar past turns, known entities and recent messages for the current message.",
		Category:    lifecycle.CategoryContext,
	}}
}

func (p *Provider) ActionTools() []capability.Descriptor { return nil }

func (p *Provider) PostProcessTools() []capability.Descriptor {
	return []capability.Descriptor{{
		Name:        ToolCreateKnowledge,
		Description: "Remember the turn in semantic and recency memory.",
		Category:    lifecycle.CategoryPostProcess,
		ZIndex:      CreateKnowledgeZIndex,
	}}
}

func (p *Provider) Invoke(ctx context.Context, tool string, rec lifecycle.Record, _ map[string]any) (lifecycle.Record, error) {
	switch tool {
	case ToolGetContext:
		return p.memory.Query(ctx, rec)
	case ToolCreateKnowledge:
		return p.memory.Insert(ctx, rec)
	default:
		return rec, fmt.Errorf("%w: %s", capability.ErrToolNotFound, tool)
	}
}

var _ capability.Provider = (*Provider)(nil)
