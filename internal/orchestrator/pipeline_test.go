package orchestrator

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SPCG-NEST/daemon/internal/approval"
	"github.com/SPCG-NEST/daemon/internal/capability"
	"github.com/SPCG-NEST/daemon/internal/embeddings"
	"github.com/SPCG-NEST/daemon/internal/generation"
	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
	"github.com/SPCG-NEST/daemon/internal/memory"
	"github.com/SPCG-NEST/daemon/internal/storage"
	"github.com/SPCG-NEST/daemon/internal/vectorstore"
)

// newDaemon wires the built-in identity and memory providers the way
// daemond does, with a scripted model.
func newDaemon(t *testing.T, model generation.Model) (*Orchestrator, *identity.Store) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store := identity.NewStore(&identity.Config{
		Path:        filepath.Join(dir, "identity.db"),
		BusyTimeout: time.Second,
		CacheSize:   16,
	}, nil, nil)
	require.NoError(t, store.Init(ctx))
	t.Cleanup(func() { _ = store.Close() })

	db, err := storage.OpenSQLite(filepath.Join(dir, "memory.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vectors, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, embeddings.NewHashProvider(256), nil)
	require.NoError(t, err)
	hybrid, err := memory.Open(ctx, memory.Config{}, db, vectors, approval.FieldGate{}, nil)
	require.NoError(t, err)

	registry := capability.NewRegistry()
	require.NoError(t, registry.Register(identity.NewProvider(store)))
	require.NoError(t, registry.Register(memory.NewProvider(hybrid)))

	gen := generation.NewService(store, nil)
	gen.Register("scripted", model)
	return New(registry, gen, nil), store
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	var prompts []string
	o, store := newDaemon(t, generation.ModelFunc(func(_ context.Context, _ identity.ModelSettings, _, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return "hi there", nil
	}))

	_, err := store.RegisterCharacter(ctx, identity.Character{
		Pubkey:       "abc",
		Name:         "Bob",
		SystemPrompt: "You are Bob.",
		ModelSettings: identity.CharacterModels{
			Generation: identity.ModelSettings{Provider: "scripted", Name: "test"},
		},
	})
	require.NoError(t, err)

	out, err := o.RunPipeline(ctx, lifecycle.Record{
		DaemonPubkey: "abc",
		ChannelID:    "general",
		Message:      "hello",
		Approval:     lifecycle.Approval{Approved: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", out.Output)
	require.Len(t, out.PostProcessLog, 2)
	knowledge, err := lifecycle.ParseProcessLogEntry(out.PostProcessLog[0])
	require.NoError(t, err)
	assert.Equal(t, memory.ToolCreateKnowledge, knowledge.Tool)
	logged, err := lifecycle.ParseProcessLogEntry(out.PostProcessLog[1])
	require.NoError(t, err)
	assert.Equal(t, identity.ToolCreateLog, logged.Tool)

	logs, err := store.FetchLogs(ctx, identity.LogQuery{DaemonPubkey: "abc"})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "hi there", logs[0].Lifecycle.Output)
	assert.Equal(t, out.TurnID, logs[0].Lifecycle.TurnID)

	// The next turn recalls the first one.
	_, err = o.RunPipeline(ctx, lifecycle.Record{
		DaemonPubkey: "abc",
		ChannelID:    "general",
		Message:      "hello again",
		Approval:     lifecycle.Approval{Approved: true},
	})
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.True(t, strings.Contains(prompts[1], "agent: hi there"), prompts[1])
}

func TestPipeline_ApprovalDenied(t *testing.T) {
	ctx := context.Background()
	o, store := newDaemon(t, generation.ModelFunc(func(context.Context, identity.ModelSettings, string, string) (string, error) {
		return "hi there", nil
	}))
	_, err := store.RegisterCharacter(ctx, identity.Character{
		Pubkey:        "abc",
		Name:          "Bob",
		ModelSettings: identity.CharacterModels{Generation: identity.ModelSettings{Provider: "scripted"}},
	})
	require.NoError(t, err)

	_, err = o.RunPipeline(ctx, lifecycle.Record{DaemonPubkey: "abc", Message: "hello"})
	assert.ErrorIs(t, err, approval.ErrApprovalDenied)

	logs, err := store.FetchLogs(ctx, identity.LogQuery{DaemonPubkey: "abc"})
	require.NoError(t, err)
	assert.Empty(t, logs)
}
