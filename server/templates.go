// Package server contains the HTTP server setup and template management.
package server

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"mediapreview/models"
)

// Templates wraps compiled per-page template sets.
type Templates struct {
	preview *template.Template
}

var tmplFuncs = template.FuncMap{
	"humanSize": func(n int64) string {
		if n < 0 {
			return ""
		}
		return humanize.IBytes(uint64(n))
	},
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return humanize.Time(t)
	},
	"stamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}

// LoadTemplates parses the page templates from the templates/ directory of
// tfs. Each page is cloned from base so {{define "content"}} blocks do not
// collide.
func LoadTemplates(tfs fs.FS) (*Templates, error) {
	sub, err := fs.Sub(tfs, "templates")
	if err != nil {
		return nil, fmt.Errorf("sub fs: %w", err)
	}
	base, err := template.New("").Funcs(tmplFuncs).ParseFS(sub, "base.html")
	if err != nil {
		return nil, fmt.Errorf("parse base: %w", err)
	}
	prev, err := cloneAndParse(base, sub, "preview.html")
	if err != nil {
		return nil, fmt.Errorf("parse preview template: %w", err)
	}
	return &Templates{preview: prev}, nil
}

// cloneAndParse clones a base template set and adds one more file from an fs.FS.
func cloneAndParse(base *template.Template, fsys fs.FS, name string) (*template.Template, error) {
	t, err := base.Clone()
	if err != nil {
		return nil, err
	}
	return t.ParseFS(fsys, name)
}

// ExecutePreview renders the media preview page.
func (t *Templates) ExecutePreview(w http.ResponseWriter, data *models.PreviewPage) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return t.preview.ExecuteTemplate(w, "base", data)
}
