package contract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/composer/internal/component"
)

func violation(t *testing.T, err error) *Violation {
	t.Helper()
	var v *Violation
	require.ErrorAs(t, err, &v)
	return v
}

func TestCheckScalars(t *testing.T) {
	c := component.Contract{
		Required: map[string]any{"title": "str", "count": "int", "ratio": "float", "on": "bool", "tags": "list", "meta": "dict"},
		Optional: map[string]any{"note": "str", "weird": "uuid"},
	}
	ok := map[string]any{
		"title": "hi", "count": 3, "ratio": 2, "on": true,
		"tags": []any{"a"}, "meta": map[string]any{}, "weird": 42,
	}
	assert.NoError(t, Check("a", "core", c, ok))

	err := Check("a", "core", c, map[string]any{"title": 1, "count": "3", "note": false})
	v := violation(t, err)
	assert.Equal(t, "expected str, got int", v.Fields["title"])
	assert.Equal(t, "expected int, got str", v.Fields["count"])
	assert.Equal(t, "required", v.Fields["ratio"])
	assert.Equal(t, "expected str, got bool", v.Fields["note"])
	assert.Len(t, v.Fields, 7, "every failure reported in one pass")
}

func TestCheckNested(t *testing.T) {
	c := component.Contract{Required: map[string]any{
		"items": []any{map[string]any{"name": "str", "price?": "float"}},
		"ids":   "list[int]",
		"hero":  map[string]any{"title": "str", "cta?": map[string]any{"href": "str"}},
	}}

	good := map[string]any{
		"items": []any{map[string]any{"name": "a", "price": 1.5}, map[string]any{"name": "b"}},
		"ids":   []int{1, 2},
		"hero":  map[string]any{"title": "t"},
	}
	assert.NoError(t, Check("p", "core", c, good))

	bad := map[string]any{
		"items": []any{map[string]any{"price": "x"}},
		"ids":   []any{1, "two"},
		"hero":  map[string]any{"title": "t", "cta": map[string]any{}},
	}
	v := violation(t, Check("p", "core", c, bad))
	assert.Equal(t, map[string]string{
		"items[0].name":  "required",
		"items[0].price": "expected float, got str",
		"ids[1]":         "expected int, got str",
		"hero.cta.href":  "required",
	}, v.Fields)
}

type card struct {
	Title string `json:"title"`
	Price float64
}

func TestCheckStructValues(t *testing.T) {
	c := component.Contract{Required: map[string]any{
		"card": map[string]any{"title": "str", "price": "float"},
	}}
	assert.NoError(t, Check("c", "core", c, map[string]any{"card": card{Title: "x", Price: 2}}))
	assert.NoError(t, Check("c", "core", c, map[string]any{"card": &card{Title: "x"}}))
}

func TestValidatorLooksUpContract(t *testing.T) {
	reg := component.NewRegistry(component.RegistryOptions{Namespaces: []string{"ma"}})
	require.NoError(t, reg.Register(&component.Metadata{
		Alias: "hero", Template: "hero.html",
		Contract: component.Contract{Required: map[string]any{"title": "str"}},
	}, false))
	val := NewValidator(reg)

	v := violation(t, val.Validate("hero", "ma", map[string]any{}))
	assert.Equal(t, "hero", v.Alias)
	assert.Equal(t, "core", v.Namespace)
	assert.Contains(t, v.Error(), "title: required")

	assert.NoError(t, val.Validate("hero", "ma", map[string]any{"title": "x"}))
	assert.True(t, errors.Is(val.Validate("nope", "core", nil), component.ErrNotFound))
}
