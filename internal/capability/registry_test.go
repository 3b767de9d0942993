package capability

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

func noop(_ context.Context, rec lifecycle.Record, _ map[string]any) (lifecycle.Record, error) {
	return rec, nil
}

func names(tools []Tool) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func TestRegistry_RegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(NewFuncProvider("memory", "1.0.0")))
	err := r.Register(NewFuncProvider("memory", "2.0.0"))
	assert.ErrorIs(t, err, ErrProviderExists)

	assert.ErrorIs(t, r.Register(nil), ErrInvalidProvider)
	assert.ErrorIs(t, r.Register(NewFuncProvider("", "")), ErrInvalidProvider)
	assert.Len(t, r.Providers(), 1)
}

func TestRegistry_PostProcessSortedByZIndexStable(t *testing.T) {
	r := NewRegistry()

	first := NewFuncProvider("first", "1").
		Handle(Descriptor{Name: "a_late", Category: lifecycle.CategoryPostProcess, ZIndex: 99999}, noop).
		Handle(Descriptor{Name: "a_tie", Category: lifecycle.CategoryPostProcess, ZIndex: 10}, noop)
	second := NewFuncProvider("second", "1").
		Handle(Descriptor{Name: "b_tie", Category: lifecycle.CategoryPostProcess, ZIndex: 10}, noop).
		Handle(Descriptor{Name: "b_early", Category: lifecycle.CategoryPostProcess, ZIndex: 0}, noop).
		Handle(Descriptor{Name: "b_mid", Category: lifecycle.CategoryPostProcess, ZIndex: 1000}, noop)

	require.NoError(t, r.Register(first))
	require.NoError(t, r.Register(second))

	got := r.PostProcessTools()
	assert.Equal(t, []string{"b_early", "a_tie", "b_tie", "b_mid", "a_late"}, names(got))
	for _, tool := range got {
		assert.Equal(t, lifecycle.CategoryPostProcess, tool.Category)
	}
}

func TestRegistry_ContextToolsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewFuncProvider("one", "1").
		Handle(Descriptor{Name: "ctx_one", Category: lifecycle.CategoryContext, ZIndex: 50}, noop)))
	require.NoError(t, r.Register(NewFuncProvider("two", "1").
		Handle(Descriptor{Name: "ctx_two", Category: lifecycle.CategoryContext, ZIndex: 0}, noop)))

	tools := r.ContextTools()
	assert.Equal(t, []string{"ctx_one", "ctx_two"}, names(tools))
	assert.Less(t, tools[0].Rank, tools[1].Rank)
}

func TestRegistry_UnregisterKeepsRanks(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(NewFuncProvider(n, "1").
			Handle(Descriptor{Name: "ctx_" + n, Category: lifecycle.CategoryContext}, noop)))
	}

	require.NoError(t, r.Unregister("b"))
	assert.ErrorIs(t, r.Unregister("b"), ErrProviderNotFound)

	tools := r.ContextTools()
	require.Len(t, tools, 2)
	assert.Equal(t, 0, tools[0].Rank)
	assert.Equal(t, 2, tools[1].Rank)

	require.NoError(t, r.Register(NewFuncProvider("b", "1")))
	p, ok := r.Provider("b")
	require.True(t, ok)
	assert.Equal(t, "b", p.Info().Name)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry()
	p := NewFuncProvider("identity", "1").
		Handle(Descriptor{Name: "fetchLogs", Category: lifecycle.CategoryServer}, noop).
		Handle(Descriptor{Name: "pp_createLog", Category: lifecycle.CategoryPostProcess, ZIndex: 99999, Required: true}, noop)
	require.NoError(t, r.Register(p))

	tool, err := r.Lookup("identity", "pp_createLog")
	require.NoError(t, err)
	assert.True(t, tool.Required)
	assert.Equal(t, "identity", tool.ProviderName())

	_, err = r.Lookup("identity", "missing")
	assert.ErrorIs(t, err, ErrToolNotFound)
	_, err = r.Lookup("nobody", "pp_createLog")
	assert.ErrorIs(t, err, ErrProviderNotFound)

	assert.Equal(t, []string{"fetchLogs"}, names(r.ServerTools()))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(NewFuncProvider(string(rune('a'+i)), "1").
				Handle(Descriptor{Name: "ctx", Category: lifecycle.CategoryContext}, noop))
			_ = r.ContextTools()
			_ = r.PostProcessTools()
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.Providers(), 20)
}

func TestFuncProvider_Invoke(t *testing.T) {
	p := NewFuncProvider("p", "1").Handle(Descriptor{Name: "act", Category: lifecycle.CategoryAction},
		func(_ context.Context, rec lifecycle.Record, args map[string]any) (lifecycle.Record, error) {
			rec.Output = args["say"].(string)
			return rec, nil
		})

	out, err := p.Invoke(context.Background(), "act", lifecycle.Record{}, map[string]any{"say": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Output)

	_, err = p.Invoke(context.Background(), "missing", lifecycle.Record{}, nil)
	assert.ErrorIs(t, err, ErrToolNotFound)

	assert.Panics(t, func() {
		p.Handle(Descriptor{Name: "bad", Category: "nope"}, noop)
	})
}

func TestDescriptors(t *testing.T) {
	tools := []Tool{{Descriptor: Descriptor{Name: "x", ZIndex: 3}}}
	assert.Equal(t, []Descriptor{{Name: "x", ZIndex: 3}}, Descriptors(tools))
}
