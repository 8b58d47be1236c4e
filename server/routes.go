package server

import (
	"io/fs"
	"log"
	"net/http"

	"mediapreview/handlers"
)

// registerRoutes attaches all handlers to the given mux.
func registerRoutes(mux *http.ServeMux, d *deps) {
	// Static assets
	static, err := fs.Sub(d.assets, "static")
	if err != nil {
		log.Fatalf("static sub fs: %v", err)
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	mux.HandleFunc("GET /favicon.ico", handlers.FaviconHandler(d.assets, d.cfg.FaviconPath))

	// Chroma stylesheet for code blocks in notes (generated once at startup)
	mux.HandleFunc("GET /highlight.css", handlers.HighlightCSSHandler(d.cfg.Theme))

	// Preview page; opens a session per load
	mux.HandleFunc("GET /preview/", handlers.PreviewHandler(d.sessions, d.backend, d.tokens, d.prober, d.cfg.Title, d.cfg.Notes, d.tmpl))

	// Raw media (bandwidth-limited, full transfers counted in stats)
	mux.Handle("GET /api/raw", d.bw.Wrap(handlers.RawHandler(d.backend, d.tokens)))
	mux.HandleFunc("GET /api/thumbnail", handlers.ThumbnailHandler(d.backend, d.tokens, d.grab))

	// Session lifecycle, media events and transcoded output
	mux.HandleFunc("GET /api/session/{id}", handlers.SessionHandler(d.sessions))
	mux.HandleFunc("DELETE /api/session/{id}", handlers.SessionHandler(d.sessions))
	mux.HandleFunc("POST /api/session/{id}/events", handlers.EventsHandler(d.sessions))
	mux.HandleFunc("POST /api/session/{id}/navigate", handlers.NavigateHandler(d.sessions, d.backend, d.tokens))
	mux.HandleFunc("POST /api/session/{id}/export", handlers.ExportHandler(d.sessions))
	mux.Handle("GET /api/session/{id}/stream", d.bw.Wrap(handlers.StreamHandler(d.sessions)))
	mux.HandleFunc("GET /api/session/{id}/captions", handlers.CaptionsHandler(d.sessions))

	// Links
	mux.HandleFunc("GET /api/link", handlers.LinkHandler(d.links, d.tokens, d.cfg.Origin))
	mux.HandleFunc("POST /api/link/custom", handlers.CustomLinkHandler(d.links, d.backend, d.tokens, d.cfg.Origin))
	mux.HandleFunc("DELETE /api/link/custom/{slug}", handlers.CustomLinkDeleteHandler(d.links, d.tokens))
	serveLink := d.bw.Wrap(handlers.CustomLinkServeHandler(d.links, d.backend, d.tokens))
	mux.Handle("GET /l/{slug}", serveLink)
	mux.Handle("GET /l/{slug}/{name}", serveLink)
}
