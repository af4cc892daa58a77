// Package segments derives the normalized per-request tuple that cache keys
// and impressions vary on.
package segments

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/conduit-lang/composer/internal/abtest"
	"github.com/conduit-lang/composer/internal/component"
)

// Device values.
const (
	Desktop = "d"
	Mobile  = "m"
)

// Consent values.
const (
	ConsentYes = "Y"
	ConsentNo  = "N"
)

// Segments is the normalized request tuple.
type Segments struct {
	Lang     string            `json:"lang"`
	Device   string            `json:"device"`
	Consent  string            `json:"consent"`
	Source   string            `json:"source"`
	Campaign string            `json:"campaign"`
	QA       bool              `json:"qa"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Consented reports consent "Y".
func (s Segments) Consented() bool { return s.Consent == ConsentYes }

// Request is what the pipeline knows about the incoming request.
type Request struct {
	HTTP       *http.Request
	Namespace  string
	Segments   Segments
	UserID     string
	ABCookie   string
	RemoteAddr string
	RequestID  string
	Query      url.Values
	Path       string
	Referer    string
}

// Identity returns the A/B seed candidates.
func (r *Request) Identity() abtest.Identity {
	return abtest.Identity{UserID: r.UserID, ABCookie: r.ABCookie, RemoteAddr: r.RemoteAddr}
}

// VaryValues returns Segments with Extra filled for every name in fields.
// Values already derived keep precedence; the rest are read from the query,
// then from a cookie of the same name. The receiver is not modified.
func (r *Request) VaryValues(fields []string) Segments {
	seg := r.Segments
	var extra map[string]string
	for _, name := range fields {
		if _, ok := seg.Extra[name]; ok {
			continue
		}
		v := r.Query.Get(name)
		if v == "" && r.HTTP != nil {
			v = cookie(r.HTTP, name)
		}
		if v == "" {
			continue
		}
		if extra == nil {
			extra = make(map[string]string, len(seg.Extra)+1)
			for k, old := range seg.Extra {
				extra[k] = old
			}
		}
		extra[name] = v
	}
	if extra != nil {
		seg.Extra = extra
	}
	return seg
}

// Options names the cookies and parameters segments are read from.
type Options struct {
	DefaultLang string
	// Languages is the supported set; empty accepts any two-letter code.
	Languages      []string
	ConsentCookie  string
	ABCookie       string
	LangCookie     string
	SourceCookie   string
	CampaignCookie string
	QAParam        string
	// ExtraFields are additional vary fields read from query, then cookie.
	ExtraFields []string
	// HostNamespaces maps request hosts to namespaces.
	HostNamespaces map[string]string
	UserID         func(*http.Request) string
	RequestID      func(*http.Request) string
}

// DefaultOptions returns the stock cookie names.
func DefaultOptions() Options {
	return Options{
		DefaultLang:    "fr",
		ConsentCookie:  "consent",
		ABCookie:       "ab_id",
		LangCookie:     "lang",
		SourceCookie:   "mkt_source",
		CampaignCookie: "mkt_campaign",
		QAParam:        "qa",
	}
}

var mobileMarkers = []string{"mobi", "android", "iphone", "ipod", "blackberry", "opera mini", "windows phone"}

// DeviceFor classifies a user agent by substring match.
func DeviceFor(ua string) string {
	ua = strings.ToLower(ua)
	for _, marker := range mobileMarkers {
		if strings.Contains(ua, marker) {
			return Mobile
		}
	}
	return Desktop
}

// FromHTTP derives the request model once per request.
func FromHTTP(r *http.Request, opts Options) *Request {
	query := r.URL.Query()
	req := &Request{
		HTTP:       r,
		Namespace:  namespaceFor(r, opts),
		ABCookie:   cookie(r, opts.ABCookie),
		RemoteAddr: remoteAddr(r),
		Query:      query,
		Path:       r.URL.Path,
		Referer:    r.Referer(),
	}
	if opts.UserID != nil {
		req.UserID = opts.UserID(r)
	}
	if opts.RequestID != nil {
		req.RequestID = opts.RequestID(r)
	}

	seg := Segments{
		Lang:     langFor(r, opts),
		Device:   DeviceFor(r.UserAgent()),
		Consent:  ConsentNo,
		Source:   firstOf(query.Get("utm_source"), cookie(r, opts.SourceCookie)),
		Campaign: firstOf(query.Get("utm_campaign"), cookie(r, opts.CampaignCookie)),
	}
	if truthy(cookie(r, opts.ConsentCookie)) {
		seg.Consent = ConsentYes
	}
	if opts.QAParam != "" {
		seg.QA = truthy(query.Get(opts.QAParam)) || truthy(cookie(r, opts.QAParam))
	}
	for _, field := range opts.ExtraFields {
		if v := firstOf(query.Get(field), cookie(r, field)); v != "" {
			if seg.Extra == nil {
				seg.Extra = map[string]string{}
			}
			seg.Extra[field] = v
		}
	}
	req.Segments = seg
	return req
}

func namespaceFor(r *http.Request, opts Options) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ns, ok := opts.HostNamespaces[strings.ToLower(host)]; ok {
		return component.NormalizeNamespace(ns)
	}
	return component.DefaultNamespace
}

// langFor reads the URL prefix, then the cookie, then Accept-Language.
func langFor(r *http.Request, opts Options) string {
	prefix, _, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if lang, ok := normalizeLang(prefix, opts); ok {
		return lang
	}
	if lang, ok := normalizeLang(cookie(r, opts.LangCookie), opts); ok {
		return lang
	}
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		base, _, _ := strings.Cut(tag, "-")
		if lang, ok := normalizeLang(base, opts); ok {
			return lang
		}
	}
	if opts.DefaultLang != "" {
		return strings.ToLower(opts.DefaultLang)
	}
	return "fr"
}

// LangPrefix reports whether the first path segment is a supported language.
func LangPrefix(path string, opts Options) (string, bool) {
	prefix, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return normalizeLang(prefix, opts)
}

func normalizeLang(s string, opts Options) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'z' || s[1] < 'a' || s[1] > 'z' {
		return "", false
	}
	if len(opts.Languages) == 0 {
		return s, true
	}
	for _, l := range opts.Languages {
		if strings.EqualFold(l, s) {
			return s, true
		}
	}
	return "", false
}

func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func cookie(r *http.Request, name string) string {
	if name == "" {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	if v, err := url.QueryUnescape(c.Value); err == nil {
		return v
	}
	return c.Value
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "true", "on":
		return true
	}
	return false
}
