package handlers

import (
	"errors"
	"log"
	"net/http"
	"path"

	"mediapreview/links"
	"mediapreview/resource"
	"mediapreview/storage"
)

// requestOrigin is the configured origin, or the one the request arrived on.
func requestOrigin(r *http.Request, configured string) string {
	if configured != "" {
		return configured
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

type linkResponse struct {
	resource.Set
	DirectLink string       `json:"directLink"`
	Custom     []links.Link `json:"custom,omitempty"`
}

// LinkHandler serves /api/link?path=&odpt=: the resolved URLs for a file,
// the absolute direct link and any custom links already minted for it.
func LinkHandler(store *links.Store, tokens *TokenVerifier, origin string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, token, ok := authorize(w, r, tokens)
		if !ok {
			return
		}
		set := resource.Resolve(resource.EscapePath(p), token)
		resp := linkResponse{Set: set, DirectLink: resource.Absolute(requestOrigin(r, origin), set.Raw)}
		if store != nil {
			custom, err := store.List(r.Context(), p)
			if err != nil {
				log.Printf("link list       err=%v  file=%s", err, p)
			}
			resp.Custom = custom
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type customLinkRequest struct {
	Path     string `json:"path"`
	FileName string `json:"fileName"`
}

type customLinkResponse struct {
	links.Link
	URL string `json:"url"`
}

// CustomLinkHandler creates a stored link from a JSON body. The request's
// token must cover the path and is stored with the link.
func CustomLinkHandler(store *links.Store, backend storage.Backend, tokens *TokenVerifier, origin string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req customLinkRequest
		if err := decodeJSON(r, &req); err != nil || req.Path == "" {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		p := path.Clean("/" + req.Path)
		token, ok := verifyPath(w, r, tokens, p)
		if !ok {
			return
		}
		if _, err := backend.Stat(r.Context(), p); err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		l, err := store.Create(r.Context(), p, token, req.FileName)
		if err != nil {
			log.Printf("link create     err=%v  file=%s", err, p)
			http.Error(w, "Could not create link", http.StatusInternalServerError)
			return
		}
		log.Printf("link create     ip=%-15s  slug=%s  file=%s", clientIP(r), l.Slug, p)
		writeJSON(w, http.StatusCreated, customLinkResponse{Link: l, URL: resource.Absolute(requestOrigin(r, origin), l.URL())})
	}
}

// CustomLinkServeHandler serves /l/{slug} and /l/{slug}/{name}. A link stops
// working once the token it was created with no longer verifies.
func CustomLinkServeHandler(store *links.Store, backend storage.Backend, tokens *TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := store.Get(r.Context(), r.PathValue("slug"))
		if err != nil {
			if !errors.Is(err, links.ErrNotFound) {
				log.Printf("link lookup     err=%v", err)
			}
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if err := tokens.Verify(l.Token, l.Path); err != nil {
			http.Error(w, "Link expired", http.StatusGone)
			return
		}
		if err := store.Hit(r.Context(), l.Slug); err != nil {
			log.Printf("link hit        err=%v  slug=%s", err, l.Slug)
		}
		name := ""
		if l.FileName != "" {
			name = l.DownloadName()
		}
		serveFile(w, r, backend, l.Path, name)
	}
}

// CustomLinkDeleteHandler revokes a stored link. The request's token must
// cover the linked path.
func CustomLinkDeleteHandler(store *links.Store, tokens *TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := store.Get(r.Context(), r.PathValue("slug"))
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if _, ok := verifyPath(w, r, tokens, l.Path); !ok {
			return
		}
		if err := store.Delete(r.Context(), l.Slug); err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Printf("link delete     ip=%-15s  slug=%s  file=%s", clientIP(r), l.Slug, l.Path)
		w.WriteHeader(http.StatusNoContent)
	}
}
