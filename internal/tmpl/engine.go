// Package tmpl is the file-backed template engine that renders a
// (template path, context) pair into HTML.
package tmpl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrTemplateNotFound is returned when no root holds the template.
var ErrTemplateNotFound = errors.New("template not found")

// Engine renders templates by path.
type Engine interface {
	// Exists reports whether name resolves to a template.
	Exists(name string) bool
	// Render executes name against data.
	Render(ctx context.Context, name string, data map[string]any) (string, error)
}

// HTMLEngine resolves template names against an ordered list of roots and caches
// parsed templates until Reset.
type HTMLEngine struct {
	roots  []string
	funcs  template.FuncMap
	parsed sync.Map // name -> *template.Template
}

// NewHTMLEngine creates an engine over roots; earlier roots win.
func NewHTMLEngine(roots []string, funcs template.FuncMap) *HTMLEngine {
	fm := template.FuncMap{
		"child": childFunc,
		"safe":  func(s string) template.HTML { return template.HTML(s) },
	}
	for k, v := range funcs {
		fm[k] = v
	}
	return &HTMLEngine{roots: roots, funcs: fm}
}

// childFunc returns a rendered child stored in the context, "" when absent.
func childFunc(data map[string]any, id string) template.HTML {
	switch v := data[id].(type) {
	case template.HTML:
		return v
	case string:
		return template.HTML(v)
	}
	return ""
}

// Roots returns the configured root directories.
func (e *HTMLEngine) Roots() []string {
	out := make([]string, len(e.roots))
	copy(out, e.roots)
	return out
}

func (e *HTMLEngine) resolve(name string) (string, bool) {
	clean := filepath.FromSlash(strings.TrimPrefix(name, "/"))
	if strings.Contains(clean, "..") {
		return "", false
	}
	for _, root := range e.roots {
		path := filepath.Join(root, clean)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// Exists implements Engine.
func (e *HTMLEngine) Exists(name string) bool {
	_, ok := e.resolve(name)
	return ok
}

func (e *HTMLEngine) load(name string) (*template.Template, error) {
	if t, ok := e.parsed.Load(name); ok {
		return t.(*template.Template), nil
	}
	path, ok := e.resolve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", name, err)
	}
	t, err := template.New(name).Funcs(e.funcs).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	actual, _ := e.parsed.LoadOrStore(name, t)
	return actual.(*template.Template), nil
}

// Render implements Engine.
func (e *HTMLEngine) Render(ctx context.Context, name string, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t, err := e.load(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// Reset drops every parsed template so the next render re-reads from disk.
func (e *HTMLEngine) Reset() {
	e.parsed.Range(func(key, _ any) bool {
		e.parsed.Delete(key)
		return true
	})
}
