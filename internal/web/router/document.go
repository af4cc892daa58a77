package router

import (
	"html/template"
	"io"

	"github.com/conduit-lang/composer/internal/compose"
	"github.com/conduit-lang/composer/internal/values"
)

const defaultLayout = `<!doctype html>
<html lang="{{ .Lang }}"{{ if .RTL }} dir="rtl"{{ end }}>
<head>
<meta charset="utf-8">
<title>{{ .Title }}</title>
{{ range .CSS }}<link rel="stylesheet" href="{{ . }}">
{{ end }}{{ range .Head }}{{ . }}
{{ end }}</head>
<body data-page="{{ .PageID }}">
{{ range .Slots }}{{ . }}
{{ end }}{{ range .JS }}<script src="{{ . }}" defer></script>
{{ end }}{{ if .ReloadURL }}<script>new WebSocket((location.protocol==="https:"?"wss://":"ws://")+location.host+"{{ .ReloadURL }}").onmessage=function(e){if(JSON.parse(e.data).type==="reload"){location.reload()}}</script>
{{ end }}</body>
</html>
`

// Layout renders a composed page into a full document.
type Layout struct {
	tmpl *template.Template
	// ReloadURL, when set, injects the dev reload client.
	ReloadURL string
}

// DefaultLayout returns the built-in layout.
func DefaultLayout() *Layout {
	return &Layout{tmpl: template.Must(template.New("layout").Parse(defaultLayout))}
}

// NewLayout parses a custom layout. It receives the same fields as the default.
func NewLayout(src string) (*Layout, error) {
	t, err := template.New("layout").Parse(src)
	if err != nil {
		return nil, err
	}
	return &Layout{tmpl: t}, nil
}

type document struct {
	PageID    string
	Lang      string
	RTL       bool
	Title     string
	CSS       []string
	JS        []string
	Head      []template.HTML
	Slots     []template.HTML
	ReloadURL string
}

// Render writes page to w. Slot fragments and head insertions are trusted HTML.
func (l *Layout) Render(w io.Writer, page *compose.Page) error {
	doc := document{
		PageID:    page.ID,
		Lang:      page.Lang,
		RTL:       page.RTL,
		Title:     values.ToString(page.Meta["title"]),
		CSS:       page.Assets.CSS,
		JS:        page.Assets.JS,
		ReloadURL: l.ReloadURL,
	}
	for _, h := range page.Assets.Head {
		doc.Head = append(doc.Head, template.HTML(h))
	}
	for _, s := range page.Slots {
		doc.Slots = append(doc.Slots, template.HTML(s.HTML))
	}
	return l.tmpl.Execute(w, doc)
}
