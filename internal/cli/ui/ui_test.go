package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableRender(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTable(&buf, true, "ALIAS", "NS", "STATUS")
	tbl.AddRow("hero/cover", "core", "ok")
	tbl.AddRow("promo", "ma")
	tbl.Render()

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, ""+
		"ALIAS       NS    STATUS\n"+
		"──────────  ────  ──────\n"+
		"hero/cover  core  ok\n"+
		"promo       ma    \n", buf.String())
}

func TestTableWithoutHeaders(t *testing.T) {
	var buf bytes.Buffer
	NewTable(&buf, true).Render()
	assert.Empty(t, buf.String())
}

func TestFindSimilar(t *testing.T) {
	candidates := []string{"hero/cover", "hero/video", "footer", "header"}
	assert.Equal(t, []string{"hero/cover"}, FindSimilar("hero/covr", candidates))
	assert.Equal(t, []string{"header", "footer"}, FindSimilar("heater", candidates))
	assert.Empty(t, FindSimilar("completely-different", candidates))
	assert.Equal(t, []string{"header"}, FindSimilar("HEADR", candidates))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 3, Levenshtein("kitten", "sitting"))
	assert.Equal(t, 3, Levenshtein("saturday", "sunday"))
	assert.Equal(t, 4, Levenshtein("", "abcd"))
	assert.Equal(t, 1, Levenshtein("café", "cafe"))
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := Printer{W: &buf, NoColor: true}
	p.Success("%d components", 3)
	p.Warn("slot %s empty", "hero")
	p.Error("boom")
	assert.Equal(t, "✓ 3 components\n! slot hero empty\n✗ boom\n", buf.String())

	assert.Equal(t, "did you mean a, b?", DidYouMean([]string{"a", "b"}))
	assert.Empty(t, DidYouMean(nil))
}
