package mcp

import (
	"time"

	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// Tool names served alongside the provider tools.
const (
	ToolListCapabilities = "list_capabilities"
	ToolRunPipeline      = "run_pipeline"
)

// ToolInput is the argument of every record tool.
type ToolInput struct {
	Record lifecycle.Record `json:"record" jsonschema:"the lifecycle record for this turn"`
	Args   map[string]any   `json:"args,omitempty" jsonschema:"tool specific arguments"`
}

// ToolOutput is the result of every record tool.
type ToolOutput struct {
	Record lifecycle.Record `json:"record" jsonschema:"the updated lifecycle record"`
}

// ProviderListing describes one provider and its tools. Empty lists are
// omitted since tool schemas reject null arrays.
type ProviderListing struct {
	Server           capability.ServerInfo   `json:"server"`
	ServerTools      []capability.Descriptor `json:"server_tools,omitempty"`
	ContextTools     []capability.Descriptor `json:"context_tools,omitempty"`
	ActionTools      []capability.Descriptor `json:"action_tools,omitempty"`
	PostProcessTools []capability.Descriptor `json:"post_process_tools,omitempty"`
}

func listingFor(p capability.Provider) ProviderListing {
	return ProviderListing{
		Server:           p.Info(),
		ServerTools:      p.ServerTools(),
		ContextTools:     p.ContextTools(),
		ActionTools:      p.ActionTools(),
		PostProcessTools: p.PostProcessTools(),
	}
}

type listCapabilitiesInput struct{}

type listCapabilitiesOutput struct {
	Providers []ProviderListing `json:"providers"`
}

type registerCharacterOutput struct {
	Pubkey string `json:"pubkey"`
}

type fetchCharacterInput struct {
	Pubkey string `json:"pubkey" jsonschema:"the daemon public key"`
}

type fetchCharacterOutput struct {
	Found     bool                `json:"found"`
	Character *identity.Character `json:"character,omitempty"`
}

type fetchLogsOutput struct {
	Logs []logView `json:"logs"`
}

// logView is identity.LogEntry with a string timestamp.
type logView struct {
	ID           string           `json:"id"`
	Seq          int64            `json:"seq"`
	DaemonPubkey string           `json:"daemon_pubkey"`
	ChannelID    string           `json:"channel_id,omitempty"`
	CreatedAt    string           `json:"created_at"`
	Lifecycle    lifecycle.Record `json:"lifecycle"`
}

func toLogViews(entries []identity.LogEntry) []logView {
	out := make([]logView, len(entries))
	for i, e := range entries {
		out[i] = logView{
			ID:           e.ID,
			Seq:          e.Seq,
			DaemonPubkey: e.DaemonPubkey,
			ChannelID:    e.ChannelID,
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
			Lifecycle:    e.Lifecycle,
		}
	}
	return out
}
