package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeFromContext(t *testing.T) {
	_, err := ScopeFromContext(context.Background())
	assert.ErrorIs(t, err, ErrMissingScope)

	_, err = ScopeFromContext(ContextWithScope(context.Background(), Scope{ChannelID: "general"}))
	assert.ErrorIs(t, err, ErrMissingScope)

	s, err := ScopeFromContext(ContextWithScope(context.Background(), Scope{DaemonPubkey: "abc"}))
	require.NoError(t, err)
	assert.Equal(t, "abc", s.DaemonPubkey)
}

func TestScopedFilter(t *testing.T) {
	ctx := ContextWithScope(context.Background(), Scope{DaemonPubkey: "abc"})

	f, err := scopedFilter(ctx, map[string]interface{}{"kind": "summary"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"kind": "summary", MetaDaemonPubkey: "abc"}, f)

	withChannel := ContextWithScope(context.Background(), Scope{DaemonPubkey: "abc", ChannelID: "general"})
	f, err = scopedFilter(withChannel, nil)
	require.NoError(t, err)
	assert.Equal(t, "general", f[MetaChannelID])

	_, err = scopedFilter(ctx, map[string]interface{}{MetaDaemonPubkey: "xyz"})
	assert.ErrorIs(t, err, ErrScopeOverride)
}

func TestScopedMetadata(t *testing.T) {
	ctx := ContextWithScope(context.Background(), Scope{DaemonPubkey: "abc", ChannelID: "general"})
	in := []Document{{ID: "1", Content: "x", Metadata: map[string]interface{}{"kind": "summary"}}}

	out, err := scopedMetadata(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "abc", out[0].Metadata[MetaDaemonPubkey])
	assert.Equal(t, "general", out[0].Metadata[MetaChannelID])
	assert.NotContains(t, in[0].Metadata, MetaDaemonPubkey, "input must not be mutated")

	_, err = scopedMetadata(ctx, []Document{{Content: "no id"}})
	assert.ErrorIs(t, err, ErrMissingID)

	_, err = scopedMetadata(context.Background(), in)
	assert.ErrorIs(t, err, ErrMissingScope)
}
