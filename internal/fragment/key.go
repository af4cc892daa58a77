// Package fragment builds canonical fragment cache keys and serves rendered
// fragments from a request-local L1 over a shared L2 backend.
package fragment

import (
	"sort"
	"strings"

	"github.com/conduit-lang/composer/internal/segments"
)

// qaSuffix forks QA traffic away from public entries.
const qaSuffix = "|qa"

var sanitizer = strings.NewReplacer("|", "", "\r", "", "\n", "")

// Sanitize strips the key delimiter and line breaks.
func Sanitize(s string) string {
	return sanitizer.Replace(s)
}

// KeyParts are the inputs of a fragment key.
type KeyParts struct {
	PageID     string
	SlotID     string
	Variant    string
	Segments   segments.Segments
	ContentRev string
	Namespace  string
	QA         bool
	// Vary lists extra vary fields whose values come from Segments.Extra.
	Vary []string
}

// Key builds
//
//	page|slot|variant|lang|device|consent|source|campaign|content_rev|v:<ns>[|name=value...][|qa]
//
// Every component is sanitized and missing ones become empty tokens.
func Key(p KeyParts) string {
	seg := p.Segments
	parts := []string{
		p.PageID, p.SlotID, p.Variant,
		seg.Lang, seg.Device, seg.Consent, seg.Source, seg.Campaign,
		p.ContentRev,
	}
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(Sanitize(part))
		b.WriteByte('|')
	}
	b.WriteString("v:")
	b.WriteString(Sanitize(p.Namespace))

	vary := append([]string(nil), p.Vary...)
	sort.Strings(vary)
	for i, name := range vary {
		if i > 0 && vary[i-1] == name {
			continue
		}
		b.WriteByte('|')
		b.WriteString(Sanitize(name))
		b.WriteByte('=')
		b.WriteString(Sanitize(seg.Extra[name]))
	}
	if p.QA {
		b.WriteString(qaSuffix)
	}
	return b.String()
}

// IsQA reports whether key is QA-isolated.
func IsQA(key string) bool {
	return strings.HasSuffix(key, qaSuffix)
}

// Revision salts a base content revision with enabled feature flags and the
// children fingerprint. With neither it is the base revision unchanged.
func Revision(base string, flags []string, childHash string) string {
	parts := []string{base}
	if len(flags) > 0 {
		sorted := append([]string(nil), flags...)
		sort.Strings(sorted)
		parts = append(parts, strings.Join(sorted, ","))
	}
	if childHash != "" {
		parts = append(parts, "ch:"+childHash)
	}
	return strings.Join(parts, "+")
}

// Prefix returns the page|slot|variant head of a key, used to label fragments.
func Prefix(key string) string {
	n := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			n++
			if n == 3 {
				return key[:i]
			}
		}
	}
	return key
}
