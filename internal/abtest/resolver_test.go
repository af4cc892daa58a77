package abtest

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/conduit-lang/composer/internal/component"
)

var ab = component.Variants{{Key: "A", Alias: "hero/cover"}, {Key: "B", Alias: "hero/video"}}

func TestIdentitySeedPriority(t *testing.T) {
	assert.Equal(t, "u1", Identity{UserID: "u1", ABCookie: "c", RemoteAddr: "ip"}.Seed())
	assert.Equal(t, "c", Identity{ABCookie: "c", RemoteAddr: "ip"}.Seed())
	assert.Equal(t, "ip", Identity{RemoteAddr: "ip"}.Seed())
}

func TestBucketRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := Bucket(rapid.String().Draw(t, "seed"))
		if b < 0 || b > 99 {
			t.Fatalf("bucket %d out of range", b)
		}
	})
}

func TestResolveRolloutBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := Identity{ABCookie: fmt.Sprintf("cookie-%d", i)}
		assert.Equal(t, "A", Resolve("hero_v2", ab, 0, id).Key)
		got := Resolve("hero_v2", ab, 100, id)
		assert.Equal(t, "B", got.Key)
		assert.Equal(t, "hero/video", got.Alias)
	}
}

func TestResolveFallbacks(t *testing.T) {
	id := Identity{RemoteAddr: "10.0.0.1"}
	assert.Equal(t, Choice{Key: "A"}, Resolve("x", nil, 50, id))

	onlyB := component.Variants{{Key: "C", Alias: "c"}, {Key: "B", Alias: "b"}}
	got := Resolve("x", onlyB, 0, id)
	assert.Equal(t, "C", got.Key, "first declared when A is absent")

	got = Resolve("x", component.Variants{{Key: "A", Alias: "a"}}, 100, id)
	assert.Equal(t, "A", got.Key, "rollout without B stays on A")
}

func TestResolveStableProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := Identity{ABCookie: rapid.StringN(1, 32, -1).Draw(t, "cookie")}
		rollout := rapid.IntRange(0, 100).Draw(t, "rollout")
		first := Resolve("exp", ab, rollout, id)
		for i := 0; i < 5; i++ {
			if got := Resolve("exp", ab, rollout, id); got != first {
				t.Fatalf("unstable: %v then %v", first, got)
			}
		}
	})
}

func TestResolveRolloutShare(t *testing.T) {
	const n = 20000
	for _, rollout := range []int{10, 50, 90} {
		hits := 0
		for i := 0; i < n; i++ {
			if Resolve("exp", ab, rollout, Identity{ABCookie: fmt.Sprintf("seed-%d", i)}).Key == "B" {
				hits++
			}
		}
		share := float64(hits) / n * 100
		assert.InDelta(t, float64(rollout), share, 3, "rollout %d", rollout)
	}
}

func TestQAPreview(t *testing.T) {
	q := url.Values{"dwft_hero_v2": {"1"}, "dwft_other": {"0"}}
	assert.True(t, QAPreview(q, "dwft_", "hero_v2"))
	assert.False(t, QAPreview(q, "dwft_", "other"))
	assert.False(t, QAPreview(q, "qa_", "hero_v2"))
}

func TestBucketForScopesSeedByExperiment(t *testing.T) {
	id := Identity{ABCookie: "visitor-1"}
	assert.Equal(t, Bucket("hero_v2:visitor-1"), BucketFor("hero_v2", id))
	assert.Equal(t, BucketFor("hero_v2", id), BucketFor("hero_v2", Identity{UserID: "visitor-1"}))

	differs := false
	for i := 0; i < 50 && !differs; i++ {
		id := Identity{ABCookie: fmt.Sprintf("seed-%d", i)}
		differs = BucketFor("hero_v2", id) != BucketFor("footer", id)
	}
	assert.True(t, differs, "experiments share buckets")
}
