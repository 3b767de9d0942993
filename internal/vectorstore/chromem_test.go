package vectorstore

import (
	"context"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wordEmbedder hashes words into buckets so texts sharing words are close.
type wordEmbedder struct{ dim int }

func (e wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, e.dim)
	v[0] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[1+int(h.Sum32()%uint32(e.dim-1))] += 1
	}
	return v, nil
}

func (e wordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.EmbedQuery(ctx, t)
	}
	return out, nil
}

func newTestChromem(t *testing.T, path string) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Path: path}, wordEmbedder{dim: 64}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func scoped(pubkey, channel string) context.Context {
	return ContextWithScope(context.Background(), Scope{DaemonPubkey: pubkey, ChannelID: channel})
}

func TestChromemStore_AddAndSearch(t *testing.T) {
	s := newTestChromem(t, "")
	ctx := scoped("abc", "general")

	ids, err := s.AddDocuments(ctx, []Document{
		{ID: "t1", Content: "bob likes green tea"},
		{ID: "t2", Content: "the weather is rainy today"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, ids)

	res, err := s.Search(ctx, "tea", 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "t1", res[0].ID)
	assert.Equal(t, "abc", res[0].Metadata[MetaDaemonPubkey])
}

func TestChromemStore_KCappedAtCount(t *testing.T) {
	s := newTestChromem(t, "")
	ctx := scoped("abc", "")

	res, err := s.Search(ctx, "anything", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, res)

	_, err = s.AddDocuments(ctx, []Document{{ID: "only", Content: "one document"}})
	require.NoError(t, err)
	res, err = s.Search(ctx, "document", 10, nil)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestChromemStore_UpsertIsIdempotent(t *testing.T) {
	s := newTestChromem(t, "")
	ctx := scoped("abc", "")

	for i := 0; i < 3; i++ {
		_, err := s.AddDocuments(ctx, []Document{{ID: "same", Content: "repeated write"}})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, s.collection.Count())
}

func TestChromemStore_ScopeIsolation(t *testing.T) {
	s := newTestChromem(t, "")

	_, err := s.AddDocuments(scoped("abc", "general"), []Document{{ID: "a1", Content: "secret tea recipe"}})
	require.NoError(t, err)
	_, err = s.AddDocuments(scoped("xyz", "general"), []Document{{ID: "x1", Content: "another tea note"}})
	require.NoError(t, err)
	_, err = s.AddDocuments(scoped("abc", "random"), []Document{{ID: "a2", Content: "tea in random"}})
	require.NoError(t, err)

	res, err := s.Search(scoped("abc", ""), "tea", 10, nil)
	require.NoError(t, err)
	var got []string
	for _, r := range res {
		got = append(got, r.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "a2"}, got)

	res, err = s.Search(scoped("abc", "general"), "tea", 10, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a1", res[0].ID)

	_, err = s.Search(context.Background(), "tea", 10, nil)
	assert.ErrorIs(t, err, ErrMissingScope)
}

func TestChromemStore_DeleteRespectsScope(t *testing.T) {
	s := newTestChromem(t, "")
	_, err := s.AddDocuments(scoped("abc", ""), []Document{{ID: "a1", Content: "mine"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocuments(scoped("xyz", ""), []string{"a1", "missing"}))
	assert.Equal(t, 1, s.collection.Count())

	require.NoError(t, s.DeleteDocuments(scoped("abc", ""), []string{"a1"}))
	assert.Equal(t, 0, s.collection.Count())
}

func TestChromemStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	s := newTestChromem(t, dir)
	_, err := s.AddDocuments(scoped("abc", ""), []Document{{ID: "p1", Content: "persisted memory"}})
	require.NoError(t, err)

	reopened := newTestChromem(t, dir)
	res, err := reopened.Search(scoped("abc", ""), "memory", 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "persisted memory", res[0].Content)
}

func TestNewStore_UnknownProvider(t *testing.T) {
	_, err := NewStore(Config{Provider: "pinecone"}, wordEmbedder{dim: 8}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewChromemStore(ChromemConfig{Collection: "Bad-Name"}, wordEmbedder{dim: 8}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestQdrantConfig(t *testing.T) {
	var c QdrantConfig
	c.ApplyDefaults()
	assert.Equal(t, "localhost", c.Host)
	assert.Equal(t, 6334, c.Port)
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig, "vector size required")

	c.VectorSize = 384
	assert.NoError(t, c.Validate())
	assert.Equal(t, pointID("turn-1"), pointID("turn-1"))
	assert.NotEqual(t, pointID("turn-1"), pointID("turn-2"))
}

func TestPayloadRoundTrip(t *testing.T) {
	p := toPayload(Document{ID: "d", Content: "c", Metadata: map[string]interface{}{"n": 3, "k": "v"}})
	r := fromPayload(p)
	assert.Equal(t, "d", r.ID)
	assert.Equal(t, "c", r.Content)
	assert.Equal(t, int64(3), r.Metadata["n"])
	assert.Equal(t, "v", r.Metadata["k"])
}
