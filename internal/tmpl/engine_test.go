package tmpl

import (
	"context"
	"errors"
	"html/template"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, root, name, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestHTMLEngineRender(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, root, "components/hero/component.html", `<h1>{{ .title }}</h1>{{ child . "main" }}`)
	e := NewHTMLEngine([]string{root}, nil)

	assert.True(t, e.Exists("components/hero/component.html"))
	assert.False(t, e.Exists("components/none.html"))

	out, err := e.Render(context.Background(), "components/hero/component.html", map[string]any{
		"title": "<Hi>",
		"main":  template.HTML("<p>child</p>"),
	})
	require.NoError(t, err)
	assert.Equal(t, "<h1>&lt;Hi&gt;</h1><p>child</p>", out)
}

func TestHTMLEngineRootPrecedence(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeTemplate(t, first, "x.html", "first")
	writeTemplate(t, second, "x.html", "second")
	writeTemplate(t, second, "y.html", "only-second")
	e := NewHTMLEngine([]string{first, second}, nil)

	out, err := e.Render(context.Background(), "x.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	out, err = e.Render(context.Background(), "y.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "only-second", out)
}

func TestHTMLEngineResetRereads(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, root, "x.html", "v1")
	e := NewHTMLEngine([]string{root}, nil)

	out, _ := e.Render(context.Background(), "x.html", nil)
	assert.Equal(t, "v1", out)

	writeTemplate(t, root, "x.html", "v2")
	out, _ = e.Render(context.Background(), "x.html", nil)
	assert.Equal(t, "v1", out, "cached until reset")

	e.Reset()
	out, _ = e.Render(context.Background(), "x.html", nil)
	assert.Equal(t, "v2", out)
}

func TestHTMLEngineMissingAndCancelled(t *testing.T) {
	e := NewHTMLEngine([]string{t.TempDir()}, nil)

	_, err := e.Render(context.Background(), "nope.html", nil)
	assert.True(t, errors.Is(err, ErrTemplateNotFound))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Render(ctx, "nope.html", nil)
	assert.ErrorIs(t, err, context.Canceled)
}
