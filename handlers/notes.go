package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/microcosm-cc/bluemonday"
	"github.com/niklasfasching/go-org/org"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"mediapreview/storage"
)

var errNoNotes = errors.New("no sidecar notes")

// maxNotesBytes caps how much of a sidecar is read.
const maxNotesBytes = 512 * 1024

// sidecarExts are tried in order next to the media file.
var sidecarExts = []string{".md", ".markdown", ".org"}

// notesTheme is the Chroma style used for code blocks inside notes.
var notesTheme = "catppuccin-mocha"

var notesPolicy = buildNotesPolicy()

// InitRenderOptions sets the code highlighting theme. Call once at startup.
func InitRenderOptions(theme string) {
	if theme != "" {
		notesTheme = theme
	}
}

// buildNotesPolicy is the allowlist applied to every rendered note. Notes sit
// inside the preview page, so scripts, forms, frames and styles are dropped.
func buildNotesPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"blockquote", "br", "dd", "del", "details", "div", "dl", "dt",
		"h1", "h2", "h3", "h4", "h5", "h6", "hr", "li", "ol", "p", "pre",
		"summary", "table", "tbody", "td", "th", "thead", "tr", "ul",
		"b", "code", "em", "i", "kbd", "mark", "s", "small", "span",
		"strong", "sub", "sup", "u",
	)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.AllowAttrs("src", "alt", "title", "width", "height").OnElements("img")
	// Heading anchors and Chroma's class names.
	p.AllowAttrs("id", "class").Globally()
	p.AllowAttrs("align", "colspan", "rowspan").OnElements("td", "th")
	p.AllowAttrs("start").OnElements("ol")
	return p
}

// loadNotes returns the rendered sidecar for the media file at p, or
// errNoNotes when there is none.
func loadNotes(ctx context.Context, backend storage.Backend, p string) (template.HTML, error) {
	base := strings.TrimSuffix(p, path.Ext(p))
	key := backend.Name() + ":" + base
	if loc, ok := backend.(storage.Locator); ok {
		fsPath, err := loc.LocalPath(p)
		if err != nil {
			return "", err
		}
		key = sidecarBase(fsPath)
	}

	out, err := notesCache.get(key, "html", func() ([]byte, error) {
		for _, ext := range sidecarExts {
			src, err := readSidecar(ctx, backend, base+ext)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			html, err := renderNotes(src, ext)
			if err != nil {
				return nil, err
			}
			return []byte(html), nil
		}
		return nil, errNoNotes
	})
	if err != nil {
		return "", err
	}
	return template.HTML(out), nil
}

func readSidecar(ctx context.Context, backend storage.Backend, p string) (string, error) {
	rc, err := backend.Open(ctx, p)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, maxNotesBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(b), nil
}

// renderNotes turns Markdown or Org source into sanitised HTML.
func renderNotes(src, ext string) (template.HTML, error) {
	var out string
	switch ext {
	case ".org":
		doc := org.New().Parse(strings.NewReader(src), "")
		w := org.NewHTMLWriter()
		w.HighlightCodeBlock = func(source, lang string, _ bool, _ map[string]string) string {
			return highlightBlock(source, lang)
		}
		s, err := doc.Write(w)
		if err != nil {
			return "", fmt.Errorf("org render: %w", err)
		}
		out = s
	default:
		md := goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Footnote,
				highlighting.NewHighlighting(
					highlighting.WithStyle(notesTheme),
					highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
				),
			),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
			// Raw HTML passes the renderer and is cleaned by the policy below.
			goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
		)
		var buf bytes.Buffer
		if err := md.Convert([]byte(src), &buf); err != nil {
			return "", fmt.Errorf("markdown render: %w", err)
		}
		out = buf.String()
	}
	return template.HTML(notesPolicy.Sanitize(out)), nil
}

// highlightBlock renders an Org source block with Chroma classes. An empty
// result makes go-org fall back to a plain <pre>.
func highlightBlock(source, lang string) string {
	l := lexers.Get(lang)
	if l == nil {
		l = lexers.Fallback
	}
	it, err := chroma.Coalesce(l).Tokenise(nil, source)
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).Format(&buf, chromaStyle(notesTheme), it); err != nil {
		return ""
	}
	return buf.String()
}

func chromaStyle(name string) *chroma.Style {
	if s := styles.Get(name); s != nil {
		return s
	}
	return styles.Fallback
}

// HighlightCSSHandler serves the stylesheet for the code highlighting theme,
// generated once.
func HighlightCSSHandler(theme string) http.HandlerFunc {
	var buf bytes.Buffer
	if err := chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&buf, chromaStyle(theme)); err != nil {
		buf.Reset()
	}
	css := buf.Bytes()
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Write(css)
	}
}
