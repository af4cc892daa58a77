package hydrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/segments"
)

func constant(out map[string]any) Func {
	return func(context.Context, *segments.Request, map[string]any) (map[string]any, error) {
		return out, nil
	}
}

func TestRunMergesLayers(t *testing.T) {
	reg := NewRegistry()
	var seen map[string]any
	reg.Register("hero.load", func(_ context.Context, _ *segments.Request, params map[string]any) (map[string]any, error) {
		seen = params
		return map[string]any{"title": "from hydrator", "ctx": map[string]any{"choice": "alt"}}, nil
	})

	m := &component.Metadata{
		Alias:   "hero",
		Params:  map[string]any{"title": "default", "size": 1, "ctx": map[string]any{"keep": true}},
		Hydrate: []string{"hero.load"},
	}
	out, err := NewRunner(reg, nil).Run(context.Background(), m, map[string]any{"size": 2}, &segments.Request{})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"title": "default", "size": 2, "ctx": map[string]any{"keep": true}}, seen)
	assert.Equal(t, map[string]any{
		"title": "from hydrator",
		"size":  2,
		"ctx":   map[string]any{"keep": true, "choice": "alt"},
	}, out)
	assert.Equal(t, "default", m.Params["title"], "manifest params untouched")
}

func TestRunChainsInOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", constant(map[string]any{"v": "a", "list": []any{1, 2}}))
	reg.Register("b", constant(map[string]any{"v": "b", "list": []any{3}}))

	m := &component.Metadata{Alias: "x", Hydrate: []string{"a", "b"}}
	out, err := NewRunner(reg, nil).Run(context.Background(), m, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", out["v"])
	assert.Equal(t, []any{3}, out["list"], "lists replace")
}

func TestRunRecoversFailures(t *testing.T) {
	reg := NewRegistry()
	reg.Register("boom", func(context.Context, *segments.Request, map[string]any) (map[string]any, error) {
		panic("db down")
	})
	reg.Register("err", func(context.Context, *segments.Request, map[string]any) (map[string]any, error) {
		return map[string]any{"ignored": true}, errors.New("timeout")
	})
	reg.Register("ok", constant(map[string]any{"fine": true}))

	m := &component.Metadata{
		Alias:   "x",
		Params:  map[string]any{"p": 1},
		Hydrate: []string{"boom", "err", "missing", "ok"},
	}
	out, err := NewRunner(reg, nil).Run(context.Background(), m, nil, nil)
	require.Error(t, err)
	assert.Equal(t, map[string]any{"p": 1, "fine": true}, out)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "boom", f.Hydrator)
	assert.Contains(t, err.Error(), "panic: db down")
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, errors.Is(err, ErrUnknownHydrator))
}

func TestRunWithoutHydrator(t *testing.T) {
	m := &component.Metadata{Alias: "x", Params: map[string]any{"a": 1}}
	out, err := NewRunner(NewRegistry(), nil).Run(context.Background(), m, map[string]any{"b": 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, out)
}

func TestRunHonorsCancellation(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", constant(map[string]any{"a": 1}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRunner(reg, nil).Run(ctx, &component.Metadata{Alias: "x", Hydrate: []string{"a"}}, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b.load", constant(nil))
	reg.Register("a.load", constant(nil))
	assert.Equal(t, []string{"a.load", "b.load"}, reg.Names())
	assert.True(t, reg.Has("a.load"))
	assert.False(t, reg.Has("c.load"))
}
