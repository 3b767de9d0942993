package identity

import (
	"context"
	"fmt"

	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Tool names exposed by the identity provider.
const (
	ToolRegisterCharacter = "registerCharacter"
	ToolFetchCharacter    = "fetchCharacter"
	ToolFetchLogs         = "fetchLogs"
	ToolCreateLog         = "pp_createLog"
)

// CreateLogZIndex places the canonical log write after every other post-process tool.
const CreateLogZIndex = 99999

// Version is reported in ServerInfo.
const Version = "1.0.0"

// Provider exposes a Store as a capability provider.
type Provider struct {
	store *Store
}

// NewProvider wraps store.
func NewProvider(store *Store) *Provider {
	return &Provider{store: store}
}

// Store returns the underlying store for the typed server operations.
func (p *Provider) Store() *Store { return p.store }

// Info returns the provider identity.
func (p *Provider) Info() capability.ServerInfo {
	return capability.ServerInfo{Name: ServerName, Version: Version}
}

// ServerTools lists the administrative operations.
func (p *Provider) ServerTools() []capability.Descriptor {
	return []capability.Descriptor{
		{Name: ToolRegisterCharacter, Description: "Register a character. Returns the existing record when the pubkey is known.", Category: lifecycle.CategoryServer},
		{Name: ToolFetchCharacter, Description: "Fetch a character by pubkey.", Category: lifecycle.CategoryServer},
		{Name: ToolFetchLogs, Description: "Fetch conversation logs for a daemon, newest first by default.", Category: lifecycle.CategoryServer},
	}
}

func (p *Provider) ContextTools() []capability.Descriptor { return nil }
func (p *Provider) ActionTools() []capability.Descriptor { return nil }

// PostProcessTools lists the canonical log write. Its failure must reach the caller.
func (p *Provider) PostProcessTools() []capability.Descriptor {
	return []capability.Descriptor{{
		Name:        ToolCreateLog,
		Description: "Persist the turn to the conversation log.",
		Category:    lifecycle.CategoryPostProcess,
		ZIndex:      CreateLogZIndex,
		Required:    true,
	}}
}

// Invoke runs a record-based tool. Server tools take typed arguments and are
// reached through Store or the MCP surface.
func (p *Provider) Invoke(ctx context.Context, tool string, rec lifecycle.Record, _ map[string]any) (lifecycle.Record, error) {
	switch tool {
	case ToolCreateLog:
		return p.store.AppendLog(ctx, rec)
	case ToolRegisterCharacter, ToolFetchCharacter, ToolFetchLogs:
		return rec, fmt.Errorf("%w: %s is a server tool", capability.ErrToolNotFound, tool)
	default:
		return rec, fmt.Errorf("%w: %s", capability.ErrToolNotFound, tool)
	}
}

var _ capability.Provider = (*Provider)(nil)
