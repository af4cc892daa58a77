package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "composer.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, cfg.File)
	assert.Equal(t, "localhost:8080", cfg.Server.Address())
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, []string{"templates"}, cfg.Paths.TemplateRoots)
	assert.Equal(t, "fr", cfg.Render.DefaultLang)
	assert.Equal(t, "ab_id", cfg.Segments.ABCookie)
	assert.False(t, cfg.Features.Chatbot)
}

func TestLoadFileResolvesPaths(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
paths:
  config_root: site/config
  template_roots: [site/templates, /srv/shared]
namespaces:
  known: [ma, be]
  hosts:
    ma.example.com: ma
    www.shop.example.co.ma: MA
cache:
  backend: redis
  default_ttl: 90s
render:
  rtl_langs: [ar]
  rtl_stylesheet: /css/rtl.css
vendors:
  swiper:
    css: [/swiper.css]
    js: [/swiper.js]
  chart.js:
    js: [/chart.umd.js]
features:
  chatbot: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "site/config"), cfg.Paths.ConfigRoot)
	assert.Equal(t, []string{filepath.Join(dir, "site/templates"), "/srv/shared"}, cfg.Paths.TemplateRoots)
	assert.Equal(t, []string{"ma", "be"}, cfg.Namespaces.Known)
	assert.Equal(t, map[string]string{"ma.example.com": "ma", "www.shop.example.co.ma": "MA"}, cfg.Namespaces.Hosts)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Cache.DefaultTTL)
	assert.Equal(t, []string{"/swiper.css"}, cfg.Vendors["swiper"].CSS)
	assert.Equal(t, []string{"/chart.umd.js"}, cfg.Vendors["chart.js"].JS)
	assert.True(t, cfg.Features.Chatbot)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("COMPOSER_SERVER_PORT", "7000")
	t.Setenv("COMPOSER_LOG_LEVEL", "debug")
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("COMPOSER_CACHE_BACKEND", "redis")
	cfg, err = Load(writeConfig(t, "namespaces:\n  hosts:\n    ma.example.com: ma\n"))
	require.NoError(t, err)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "ma", cfg.Namespaces.Hosts["ma.example.com"])
}

func TestLoadFindsFileInParent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "composer.yml"), []byte("server:\n  port: 9100\n"), 0o644))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadValidation(t *testing.T) {
	for name, body := range map[string]string{
		"backend":        "cache:\n  backend: memcached\n",
		"log level":      "log:\n  level: loud\n",
		"driver":         "analytics:\n  driver: mysql\n",
		"dsn":            "analytics:\n  enabled: true\n",
		"rtl lang":       "render:\n  rtl_langs: [arabic]\n",
		"rtl stylesheet": "render:\n  rtl_stylesheet: css/rtl.css\n",
		"tls pair":       "server:\n  tls_cert: cert.pem\n",
		"port":           "server:\n  port: 70000\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "failed to read config file")
}
