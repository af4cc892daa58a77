package compose

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/composer/internal/assets"
	"github.com/conduit-lang/composer/internal/cache"
	"github.com/conduit-lang/composer/internal/component"
	"github.com/conduit-lang/composer/internal/contract"
	"github.com/conduit-lang/composer/internal/fragment"
	"github.com/conduit-lang/composer/internal/hydrate"
	"github.com/conduit-lang/composer/internal/impression"
	"github.com/conduit-lang/composer/internal/manifest"
	"github.com/conduit-lang/composer/internal/pageconfig"
	"github.com/conduit-lang/composer/internal/segments"
	"github.com/conduit-lang/composer/internal/tmpl"
)

type fixture struct {
	t         *testing.T
	templates string
	config    string
	hydrators *hydrate.Registry
	vendors   map[string]assets.Vendor
	recorder  *impression.Recorder

	mr       *miniredis.Miniredis
	registry *component.Registry
	disc     *manifest.Discoverer
}

func newFixture(t *testing.T) *fixture {
	root := t.TempDir()
	return &fixture{
		t:         t,
		templates: filepath.Join(root, "templates"),
		config:    filepath.Join(root, "config"),
		hydrators: hydrate.NewRegistry(),
	}
}

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// component writes a manifest and its sibling template under dir.
func (f *fixture) component(dir, manifestBody, html string) {
	writeFile(f.t, f.templates, dir+"/manifest.yml", manifestBody)
	writeFile(f.t, f.templates, dir+"/component.html", html)
}

func (f *fixture) configFile(ns, name, body string) {
	writeFile(f.t, f.config, ns+"/"+name, body)
}

func (f *fixture) pipeline(opts Options) *Pipeline {
	f.t.Helper()
	engine := tmpl.NewHTMLEngine([]string{f.templates}, nil)
	f.registry = component.NewRegistry(component.RegistryOptions{Namespaces: []string{"ma"}})
	f.disc = manifest.NewDiscoverer(manifest.Options{
		Roots:      []string{f.templates},
		Namespaces: []string{"ma"},
		Templates:  engine,
		Hydrators:  f.hydrators,
		Strict:     true,
	})
	_, err := f.disc.Load(f.registry, false)
	require.NoError(f.t, err)

	f.mr = miniredis.RunT(f.t)
	client := redis.NewClient(&redis.Options{Addr: f.mr.Addr()})
	f.t.Cleanup(func() { client.Close() })
	backend := cache.NewRedisCacheWithClient(client, cache.DefaultCacheConfig())

	return New(Deps{
		Registry: f.registry,
		Configs:  pageconfig.NewLoader(f.config, nil),
		Runner:   hydrate.NewRunner(f.hydrators, nil),
		Engine:   engine,
		Store:    fragment.NewStore(backend, nil),
		Assets:   assets.NewCollector(f.registry, f.vendors),
		Recorder: f.recorder,
	}, opts)
}

func (f *fixture) reload() {
	f.t.Helper()
	_, err := f.disc.Reload(f.registry)
	require.NoError(f.t, err)
}

func (f *fixture) backendHas(key string) bool {
	return f.mr.Exists(cache.DefaultCacheConfig().Prefix + key)
}

func request(target string, cookies ...*http.Cookie) *segments.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	return segments.FromHTTP(r, segments.DefaultOptions())
}

const heroManifest = `
alias: hero/cover
params: {title: Welcome}
assets:
  css: [/hero.css]
  vendors: [swiper]
`

func TestSmokeRenderAndBackendHit(t *testing.T) {
	f := newFixture(t)
	f.component("components/hero/cover", heroManifest, `<section class="hero">{{ .title }}</section>`)
	f.configFile("core", "pages.yml", "pages:\n  online_home:\n    slots:\n      hero: hero/cover\n")
	p := f.pipeline(Options{})

	page, err := p.Render(context.Background(), p.NewRenderContext(request("/online_home"), nil), "online_home")
	require.NoError(t, err)
	assert.Equal(t, `<section class="hero">Welcome</section>`, page.HTML("hero"))

	const key = "online_home|hero|A|fr|d|N|||v1|v:core"
	assert.True(t, f.backendHas(key))
	assert.Len(t, f.mr.Keys(), 1)

	page, err = p.Render(context.Background(), p.NewRenderContext(request("/online_home"), nil), "online_home")
	require.NoError(t, err)
	assert.True(t, page.Slots[0].Cached)
	assert.Equal(t, `<section class="hero">Welcome</section>`, page.HTML("hero"))
	assert.Equal(t, int64(1), p.Store().Stats().BackendHits)
	assert.Equal(t, int64(1), p.Store().Stats().BackendSets)
}

func splitFixture(t *testing.T, rollout int) *fixture {
	f := newFixture(t)
	f.component("components/hero/cover", heroManifest, `<p>cover</p>`)
	f.component("components/hero/video", "alias: hero/video\n", `<p>video</p>`)
	f.configFile("core", "pages.yml", `
pages:
  split:
    slots:
      hero:
        experiment: hero_v2
        variants: {A: hero/cover, B: hero/video}
`)
	f.configFile("core", "experiments.yml", fmt.Sprintf("hero_v2: {rollout: %d}\n", rollout))
	return f
}

func TestVariantSplitRollout(t *testing.T) {
	for _, tt := range []struct {
		rollout int
		want    string
	}{{0, "A"}, {100, "B"}} {
		t.Run(fmt.Sprint(tt.rollout), func(t *testing.T) {
			p := splitFixture(t, tt.rollout).pipeline(Options{})
			for i := 0; i < 100; i++ {
				req := request("/split", &http.Cookie{Name: "ab_id", Value: fmt.Sprintf("visitor-%d", i)})
				plan, err := p.BuildPage(context.Background(), p.NewRenderContext(req, nil), "split")
				require.NoError(t, err)
				assert.Equal(t, tt.want, plan.Slots[0].Variant)
			}
		})
	}

	a := splitFixture(t, 0).pipeline(Options{})
	b := splitFixture(t, 100).pipeline(Options{})
	planA, err := a.BuildPage(context.Background(), a.NewRenderContext(request("/split"), nil), "split")
	require.NoError(t, err)
	planB, err := b.BuildPage(context.Background(), b.NewRenderContext(request("/split"), nil), "split")
	require.NoError(t, err)
	assert.Equal(t, strings.Replace(planA.Slots[0].CacheKey, "|A|", "|B|", 1), planB.Slots[0].CacheKey)
	assert.Equal(t, "hero/video", planB.Slots[0].Alias)
}

func TestQAPreviewIsolation(t *testing.T) {
	f := splitFixture(t, 0)
	p := f.pipeline(Options{})

	qaCtx := p.NewRenderContext(request("/split?dwft_hero_v2=1"), nil)
	page, err := p.Render(context.Background(), qaCtx, "split")
	require.NoError(t, err)
	assert.True(t, page.QAPreview)
	assert.Equal(t, "<p>cover</p>", page.HTML("hero"), "preview keeps the variant")

	plan, err := p.BuildPage(context.Background(), qaCtx, "split")
	require.NoError(t, err)
	qaKey := plan.Slots[0].CacheKey
	require.True(t, strings.HasSuffix(qaKey, "|qa"))
	publicKey := strings.TrimSuffix(qaKey, "|qa")

	assert.True(t, f.backendHas(qaKey))
	assert.False(t, f.backendHas(publicKey), "public entry untouched")

	public, err := p.Render(context.Background(), p.NewRenderContext(request("/split"), nil), "split")
	require.NoError(t, err)
	assert.False(t, public.Slots[0].Cached, "public traffic never reads the preview entry")
	assert.True(t, f.backendHas(publicKey))
}

const headerManifest = `
alias: header/struct
compose:
  children:
    main: {alias: header/main, params: {size: %d}}
    mobile: header/mobile
`

func headerFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.component("components/header/struct", fmt.Sprintf(headerManifest, 1),
		`<header>{{ child . "main" }}{{ index . "header/struct__mobile" }}</header>`)
	f.component("components/header/main", "alias: header/main\n", `<nav id="main">{{ .size }}</nav>`)
	f.component("components/header/mobile", "alias: header/mobile\n", `<nav id="mobile"></nav>`)
	f.configFile("core", "pages.yml", "pages:\n  home:\n    slots:\n      header: header/struct\n")
	return f
}

func TestChildComposition(t *testing.T) {
	f := headerFixture(t)
	p := f.pipeline(Options{})

	page, err := p.Render(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.Equal(t, `<header><nav id="main">1</nav><nav id="mobile"></nav></header>`, page.HTML("header"))

	page, err = p.Render(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.True(t, page.Slots[0].Cached)

	before, err := p.BuildPage(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.True(t, before.Slots[0].Cacheable)
	assert.True(t, strings.HasPrefix(before.Slots[0].ContentRev, "v1+ch:"))
	assert.Equal(t, []string{"header/struct", "header/main", "header/mobile"}, before.Aliases())

	writeFile(t, f.templates, "components/header/struct/manifest.yml", fmt.Sprintf(headerManifest, 2))
	f.reload()

	after, err := p.BuildPage(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.NotEqual(t, before.Slots[0].ContentRev, after.Slots[0].ContentRev)
	assert.NotEqual(t, before.Slots[0].CacheKey, after.Slots[0].CacheKey)

	page, err = p.Render(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.False(t, page.Slots[0].Cached)
	assert.Contains(t, page.HTML("header"), `<nav id="main">2</nav>`)
}

func TestChildOptOutDisablesCaching(t *testing.T) {
	f := headerFixture(t)
	f.configFile("core", "pages.yml", `
pages:
  home:
    slots:
      header:
        component: header/struct
        children:
          mobile: {cache: false}
`)
	p := f.pipeline(Options{})
	plan, err := p.BuildPage(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.False(t, plan.Slots[0].Cacheable)
}

func promoFixture(t *testing.T) *fixture {
	f := newFixture(t)
	f.hydrators.Register("promo.load", func(_ context.Context, _ *segments.Request, params map[string]any) (map[string]any, error) {
		choice, ok := params["choice"]
		if !ok {
			return map[string]any{}, nil
		}
		return map[string]any{"ctx": map[string]any{"choice": choice}}, nil
	})
	f.component("components/promo/box", `
alias: promo/box
hydrate: promo.load
compose:
  children:
    banner:
      variants: {A: "banner/{{ ctx.choice }}"}
`, `<div>{{ child . "banner" }}</div>`)
	f.component("components/banner/alt", "alias: banner/alt\n", `<p>alt banner</p>`)
	f.configFile("core", "pages.yml", `
pages:
  promo:
    slots:
      box: {component: promo/box, params: {choice: alt}}
  bare:
    slots:
      box: promo/box
`)
	return f
}

func TestDynamicChildAlias(t *testing.T) {
	p := promoFixture(t).pipeline(Options{})

	rc := p.NewRenderContext(request("/promo"), nil)
	page, err := p.Render(context.Background(), rc, "promo")
	require.NoError(t, err)
	assert.Equal(t, `<div><p>alt banner</p></div>`, page.HTML("box"))

	plan, err := p.BuildPage(context.Background(), rc, "promo")
	require.NoError(t, err)
	assert.False(t, plan.Slots[0].Cacheable)
	assert.Equal(t, []string{"promo/box"}, plan.Aliases(), "dynamic aliases are not collected")

	page, err = p.Render(context.Background(), p.NewRenderContext(request("/bare"), nil), "bare")
	require.NoError(t, err)
	assert.Equal(t, `<div></div>`, page.HTML("box"), "unresolved child renders empty")
}

func TestNamespaceFallback(t *testing.T) {
	f := newFixture(t)
	f.component("components/test/alias", "alias: test/alias\n", `core`)
	f.configFile("core", "pages.yml", "pages:\n  p:\n    slots:\n      s: {component: test/alias, cache: false}\n")
	p := f.pipeline(Options{})

	req := request("/p")
	req.Namespace = "ma"
	page, err := p.Render(context.Background(), p.NewRenderContext(req, nil), "p")
	require.NoError(t, err)
	assert.Equal(t, "core", page.HTML("s"))

	f.component("ma/components/test/alias", "alias: test/alias\n", `ma override`)
	f.reload()

	page, err = p.Render(context.Background(), p.NewRenderContext(req, nil), "p")
	require.NoError(t, err)
	assert.Equal(t, "ma override", page.HTML("s"))
	assert.Equal(t, "ma", page.Namespace)
}

func TestMissingComponentIsolated(t *testing.T) {
	f := newFixture(t)
	f.component("components/hero/cover", heroManifest, `<p>hero</p>`)
	f.configFile("core", "pages.yml", "pages:\n  home:\n    slots:\n      ghost: nope/missing\n      hero: hero/cover\n")
	p := f.pipeline(Options{})

	page, err := p.Render(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	require.Len(t, page.Slots, 2)
	assert.Equal(t, "", page.HTML("ghost"))
	assert.Equal(t, "<p>hero</p>", page.HTML("hero"))
}

func TestAssetsAndRTL(t *testing.T) {
	f := headerFixture(t)
	f.vendors = map[string]assets.Vendor{"swiper": {CSS: []string{"/swiper.css"}, JS: []string{"/swiper.js"}}}
	f.component("components/hero/cover", heroManifest, `<p>hero</p>`)
	f.component("components/header/main", "alias: header/main\nassets: {css: [/hero.css, /main.css]}\n", `<nav></nav>`)
	f.configFile("core", "pages.yml", "pages:\n  home:\n    slots:\n      hero: hero/cover\n      header: header/struct\n")
	p := f.pipeline(Options{RTLLangs: []string{"ar"}, RTLStylesheet: "/rtl.css"})

	page, err := p.Render(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.False(t, page.RTL)
	assert.Equal(t, []string{"/swiper.css", "/hero.css", "/main.css"}, page.Assets.CSS)
	assert.Equal(t, []string{"/swiper.js"}, page.Assets.JS)

	page, err = p.Render(context.Background(), p.NewRenderContext(request("/ar/home"), nil), "home")
	require.NoError(t, err)
	assert.True(t, page.RTL)
	assert.Equal(t, []string{"/swiper.css", "/hero.css", "/main.css", "/rtl.css"}, page.Assets.CSS)
}

func TestChatbotFilter(t *testing.T) {
	f := newFixture(t)
	f.component("components/hero/cover", heroManifest, `<p>hero</p>`)
	f.component("components/chatbot/widget", "alias: chatbot/widget\n", `<p>bot</p>`)
	f.configFile("core", "pages.yml", "pages:\n  home:\n    slots:\n      hero: hero/cover\n      bot: chatbot/widget\n")

	p := f.pipeline(Options{Filters: []SlotFilter{ChatbotFilter{}}})
	plan, err := p.BuildPage(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	require.Len(t, plan.Slots, 1)
	assert.Equal(t, "hero", plan.Slots[0].SlotID)

	p = f.pipeline(Options{Filters: []SlotFilter{ChatbotFilter{Enabled: true}}})
	plan, err = p.BuildPage(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.Len(t, plan.Slots, 2)
}

func TestImpressionsOnConsent(t *testing.T) {
	f := newFixture(t)
	sink := &impression.MemorySink{}
	f.recorder = impression.NewRecorder(impression.Direct{Sink: sink}, true, nil)
	f.component("components/hero/cover", heroManifest, `<p>hero</p>`)
	f.configFile("core", "pages.yml", "pages:\n  online_home:\n    slots:\n      hero: hero/cover\n")
	p := f.pipeline(Options{})

	rc := p.NewRenderContext(request("/online_home", &http.Cookie{Name: "consent", Value: "1"}), nil)
	plan, err := p.BuildPage(context.Background(), rc, "online_home")
	require.NoError(t, err)
	first, err := p.RenderSlot(context.Background(), rc, plan.Slots[0])
	require.NoError(t, err)
	second, err := p.RenderSlot(context.Background(), rc, plan.Slots[0])
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.HTML, `<div class="composer-slot" data-page="online_home" data-slot="hero"`))
	assert.Contains(t, first.HTML, `data-cache-key="online_home|hero|A"`)
	assert.True(t, second.Cached)
	assert.Equal(t, first.HTML, second.HTML)
	require.Len(t, sink.Events(), 1, "one impression per slot, alias and variant")
	assert.Equal(t, "hero/cover", sink.Events()[0].ComponentAlias)

	stored, err := f.mr.Get(cache.DefaultCacheConfig().Prefix + plan.Slots[0].CacheKey)
	require.NoError(t, err)
	assert.Equal(t, "<p>hero</p>", stored, "cached fragments are stored unwrapped")
}

func TestDepthBound(t *testing.T) {
	f := newFixture(t)
	f.component("components/tree/node", `
alias: tree/node
params: {self: tree/node}
compose:
  children:
    next:
      variants: {A: "{{ self }}"}
`, `<i>{{ child . "next" }}</i>`)
	f.configFile("core", "pages.yml", "pages:\n  tree:\n    slots:\n      root: tree/node\n")
	p := f.pipeline(Options{MaxDepth: 2})

	page, err := p.Render(context.Background(), p.NewRenderContext(request("/tree"), nil), "tree")
	require.NoError(t, err)
	assert.Equal(t, "<i><i><i></i></i></i>", page.HTML("root"))
}

func TestRenderErrorsBubble(t *testing.T) {
	f := newFixture(t)
	f.component("components/bad/tmpl", "alias: bad/tmpl\nparams: {items: []}\n", `{{ index .items 5 }}`)
	f.component("components/hero/strict", `
alias: hero/strict
contract:
  required: {title: str}
`, `<p>{{ .title }}</p>`)
	f.configFile("core", "pages.yml", "pages:\n  bad:\n    slots:\n      s: bad/tmpl\n  strict:\n    slots:\n      s: hero/strict\n")

	p := f.pipeline(Options{})
	_, err := p.Render(context.Background(), p.NewRenderContext(request("/bad"), nil), "bad")
	var rerr *RenderError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "bad/tmpl", rerr.Alias)

	page, err := p.Render(context.Background(), p.NewRenderContext(request("/strict"), nil), "strict")
	require.NoError(t, err, "contract violations only warn outside debug")
	assert.Equal(t, "<p></p>", page.HTML("s"))

	debug := f.pipeline(Options{Debug: true})
	_, err = debug.Render(context.Background(), debug.NewRenderContext(request("/strict"), nil), "strict")
	var violation *contract.Violation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "required", violation.Fields["title"])
}

func TestUnknownPageAndNamespace(t *testing.T) {
	f := newFixture(t)
	f.component("components/hero/cover", heroManifest, `<p>hero</p>`)
	p := f.pipeline(Options{})

	_, err := p.Render(context.Background(), p.NewRenderContext(request("/nope"), nil), "nope")
	assert.ErrorIs(t, err, pageconfig.ErrPageNotFound)

	req := request("/home")
	req.Namespace = "zz"
	_, err = p.BuildPage(context.Background(), p.NewRenderContext(req, nil), "home")
	assert.ErrorIs(t, err, component.ErrInvalidNamespace)
}

func TestCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.component("components/hero/cover", heroManifest, `<p>hero</p>`)
	f.configFile("core", "pages.yml", "pages:\n  home:\n    slots:\n      hero: hero/cover\n")
	p := f.pipeline(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Render(ctx, p.NewRenderContext(request("/home"), nil), "home")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.mr.Keys(), "nothing is cached for an aborted render")
}

func TestVaryFieldsFromRequest(t *testing.T) {
	f := newFixture(t)
	f.component("components/geo/banner", "alias: geo/banner\nrender: {vary_on: [country]}\n", `<p>banner</p>`)
	f.component("components/geo/strip", "alias: geo/strip\n", `<p>strip</p>`)
	f.configFile("core", "pages.yml", "pages:\n  home:\n    slots:\n      banner: geo/banner\n      strip: geo/strip\n")
	f.configFile("core", "cache.yml", "vary_fields: [region]\n")
	p := f.pipeline(Options{})

	keys := func(req *segments.Request) (banner, strip string) {
		plan, err := p.BuildPage(context.Background(), p.NewRenderContext(req, nil), "home")
		require.NoError(t, err)
		require.Len(t, plan.Slots, 2)
		return plan.Slots[0].CacheKey, plan.Slots[1].CacheKey
	}

	frBanner, frStrip := keys(request("/home?country=fr&region=north"))
	maBanner, maStrip := keys(request("/home?country=ma&region=north"))
	assert.NotEqual(t, frBanner, maBanner)
	assert.Contains(t, frBanner, "country=fr")
	assert.Contains(t, maBanner, "country=ma")
	assert.Equal(t, frStrip, maStrip, "strip does not vary on country")
	assert.Contains(t, frStrip, "region=north")

	cookieBanner, _ := keys(request("/home", &http.Cookie{Name: "country", Value: "ma"}))
	assert.Equal(t, strings.Replace(maBanner, "|region=north", "|region=", 1), cookieBanner)

	_, southStrip := keys(request("/home?region=south"))
	assert.NotEqual(t, frStrip, southStrip)
}

func TestQAIsolatedComponentNotCached(t *testing.T) {
	f := newFixture(t)
	f.component("components/promo/box", "alias: promo/box\nrender: {qa_isolation: true}\n", `<p>promo</p>`)
	f.configFile("core", "pages.yml", "pages:\n  home:\n    slots:\n      promo: promo/box\n")
	p := f.pipeline(Options{})

	qa, err := p.BuildPage(context.Background(), p.NewRenderContext(request("/home?qa=1"), nil), "home")
	require.NoError(t, err)
	assert.False(t, qa.Slots[0].Cacheable)

	public, err := p.BuildPage(context.Background(), p.NewRenderContext(request("/home"), nil), "home")
	require.NoError(t, err)
	assert.True(t, public.Slots[0].Cacheable)
	assert.False(t, strings.HasSuffix(public.Slots[0].CacheKey, "|qa"))
}
