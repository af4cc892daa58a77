package commands

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conduit-lang/composer/internal/cli/config"
	"github.com/conduit-lang/composer/internal/component"
)

func write(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// project writes a composer.yml with one component and one page.
func project(t *testing.T, pages string) string {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "composer.yml", `
paths:
  config_root: config
  template_roots: [templates]
log:
  level: error
`)
	write(t, dir, "templates/components/hero/cover/manifest.yml", "alias: hero/cover\n")
	write(t, dir, "templates/components/hero/cover/component.html", `<section>{{ .request.lang }}</section>`)
	write(t, dir, "config/core/pages.yml", pages)
	return filepath.Join(dir, "composer.yml")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(nil)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "check", "key", "scaffold", "version"}, names)
	for _, name := range []string{"config", "log-level", "dev", "no-color"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "composer version: dev")
	assert.Contains(t, out, "go version:")
}

func TestCheckPasses(t *testing.T) {
	cfg := project(t, `
pages:
  home:
    slots:
      hero: hero/cover
`)
	out, err := run(t, "check", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "1 components, no problems found")
}

func TestCheckReportsUnknownAlias(t *testing.T) {
	cfg := project(t, `
pages:
  home:
    slots:
      hero: hero/covr
`)
	out, err := run(t, "check", "-c", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check failed: 1 problems")
	assert.Contains(t, out, "home.hero")
	assert.Contains(t, out, "did you mean hero/cover?")
}

func TestKeyCommand(t *testing.T) {
	cfg := project(t, `
pages:
  home:
    slots:
      hero: hero/cover
`)
	out, err := run(t, "key", "-c", cfg, "home", "hero", "--lang", "ar", "--ab-id", "visitor-1")
	require.NoError(t, err)
	assert.Contains(t, out, "SLOT")
	assert.Contains(t, out, "hero/cover")

	_, err = run(t, "key", "-c", cfg, "home", "footer")
	assert.EqualError(t, err, "page home has no slot footer")

	_, err = run(t, "key", "-c", cfg, "home", "--device", "tablet")
	assert.ErrorContains(t, err, "invalid device")

	_, err = run(t, "key", "-c", cfg, "home", "--query", "novalue")
	assert.ErrorContains(t, err, "invalid query")
}

func TestScaffold(t *testing.T) {
	root := t.TempDir()

	out, err := run(t, "scaffold", "promo/banner", "--root", root, "--title", "Sale", "--yes")
	require.NoError(t, err)
	dir := filepath.Join(root, "components", "promo", "banner")
	assert.Contains(t, out, "created "+dir)

	manifest, err := os.ReadFile(filepath.Join(dir, "manifest.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "alias: promo/banner\n")
	assert.Contains(t, string(manifest), "title: Sale\n")
	assert.Contains(t, string(manifest), "cacheable: true\n")
	assert.FileExists(t, filepath.Join(dir, "component.html"))

	_, err = run(t, "scaffold", "promo/banner", "--root", root, "--yes")
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "scaffold", "promo/banner", "--root", root, "--ns", "ma", "--ttl", "0", "--yes")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "ma", "components", "promo", "banner", "manifest.yml"))

	_, err = run(t, "scaffold", "Bad Alias", "--root", root, "--yes")
	assert.ErrorContains(t, err, "must be lowercase")
}

func TestNamespacesFromConfigRoot(t *testing.T) {
	path := project(t, "pages:\n  home:\n    slots:\n      hero: hero/cover\n")
	dir := filepath.Dir(path)
	write(t, dir, "config/ma/pages.yml", "pages:\n  promo:\n    slots:\n      hero: hero/cover\n")
	write(t, dir, "templates/ma/components/hero/cover/manifest.yml", "alias: hero/cover\n")
	write(t, dir, "templates/ma/components/hero/cover/component.html", `<section>ma</section>`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Empty(t, cfg.Namespaces.Known)
	a, err := newApp(cfg, zap.NewNop(), nil, appOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	assert.Equal(t, []string{"core", "ma"}, a.namespaces)
	assert.True(t, a.registry.Exists("hero/cover", "ma", false))
	_, err = a.registry.Get("hero/cover", "be", true)
	assert.True(t, errors.Is(err, component.ErrInvalidNamespace))

	out, err := run(t, "key", "-c", path, "promo", "--ns", "ma")
	require.NoError(t, err)
	assert.Contains(t, out, "v:ma")
}

func TestCheckReportsDeclaredNamespaceWithoutConfig(t *testing.T) {
	path := project(t, "pages:\n  home:\n    slots:\n      hero: hero/cover\n")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("namespaces:\n  known: [be]\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := run(t, "check", "-c", path)
	require.Error(t, err)
	assert.Contains(t, out, "declared in namespaces.known but has no config directory")
}
