package handlers

import (
	"bytes"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// FaviconHandler serves override when set, read on every request so it can
// be replaced without a restart, and the embedded static/favicon.svg
// otherwise.
func FaviconHandler(embedded fs.FS, override string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		if override != "" {
			info, err := os.Stat(override)
			if err != nil {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			data, err := os.ReadFile(override)
			if err != nil {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", iconType(override))
			http.ServeContent(w, r, "", info.ModTime(), bytes.NewReader(data))
			return
		}
		data, err := fs.ReadFile(embedded, "static/favicon.svg")
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}
}

func iconType(name string) string {
	switch filepath.Ext(name) {
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	}
	return "image/x-icon"
}
