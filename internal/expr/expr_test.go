package expr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsDynamic(t *testing.T) {
	assert.True(t, IsDynamic("banner/{{ ctx.choice }}"))
	assert.False(t, IsDynamic("banner/alt"))
}

func TestEvalAliasInterpolation(t *testing.T) {
	ctx := map[string]any{"ctx": map[string]any{"choice": "alt"}}

	got, err := EvalString("banner/{{ ctx.choice }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "banner/alt", got)
}

func TestEvalSinglePathKeepsType(t *testing.T) {
	ctx := map[string]any{"items": []any{1, 2, 3}}

	got, err := Eval("{{ items }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, got)
}

func TestEvalWalksStructAttributes(t *testing.T) {
	type product struct {
		Title string
		Price int `json:"price_eur"`
	}
	ctx := map[string]any{"product": &product{Title: "Lamp", Price: 40}}

	got, err := EvalString("{{ product.title }} - {{ product.price_eur }}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Lamp - 40", got)
}

func TestEvalUnresolved(t *testing.T) {
	_, err := Eval("banner/{{ ctx.missing }}", map[string]any{"ctx": map[string]any{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnresolved))
}

func TestParseSyntaxErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"unclosed", "banner/{{ ctx.choice"},
		{"empty path", "banner/{{ }}"},
		{"empty segment", "{{ ctx..choice }}"},
		{"bad char", "{{ ctx.choice|upper }}"},
		{"stray close", "banner }}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			var se *SyntaxError
			assert.ErrorAs(t, err, &se)
		})
	}
}

func TestRoots(t *testing.T) {
	tpl, err := Parse("{{ ctx.a }}-{{ params.b }}-lit")
	require.NoError(t, err)
	assert.Equal(t, []string{"ctx", "params"}, tpl.Roots())
}

func TestEvalParams(t *testing.T) {
	ctx := map[string]any{"ctx": map[string]any{"title": "Hello", "n": 3}}
	params := map[string]any{
		"title":   "{{ ctx.title }}",
		"count":   "{{ ctx.n }}",
		"static":  "plain",
		"missing": "{{ ctx.nope }}",
		"nested":  map[string]any{"t": "x-{{ ctx.title }}"},
	}

	out, err := EvalParams(params, ctx)
	assert.Error(t, err)
	assert.Equal(t, "Hello", out["title"])
	assert.Equal(t, 3, out["count"])
	assert.Equal(t, "plain", out["static"])
	assert.NotContains(t, out, "missing")
	assert.Equal(t, map[string]any{"t": "x-Hello"}, out["nested"])
}
