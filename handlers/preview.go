package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"mediapreview/models"
	"mediapreview/session"
	"mediapreview/storage"
	"mediapreview/strategy"
)

const probeTimeout = 5 * time.Second

// PreviewRenderer executes the preview page template.
type PreviewRenderer interface {
	ExecutePreview(w http.ResponseWriter, page *models.PreviewPage) error
}

// PreviewHandler serves /preview/{path}: it opens a session for the file and
// renders the page that plays it. prober may be nil.
func PreviewHandler(mgr *session.Manager, backend storage.Backend, tokens *TokenVerifier, prober strategy.Prober, siteName string, notes bool, tmpl PreviewRenderer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		urlPath := path.Clean("/" + strings.TrimPrefix(r.URL.Path, "/preview"))
		token, ok := verifyPath(w, r, tokens, urlPath)
		if !ok {
			return
		}

		fd, err := backend.Stat(r.Context(), urlPath)
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if !storage.IsMedia(fd.MIMEType) {
			http.Error(w, "Not a media file", http.StatusUnsupportedMediaType)
			return
		}
		if prober != nil && fd.IsVideo() && fd.Video == nil {
			fd.Video = probeVideo(r.Context(), backend, prober, urlPath)
		}

		s, err := mgr.Open(r.Context(), fd, urlPath, token)
		if err != nil {
			http.Error(w, "Could not open preview", http.StatusServiceUnavailable)
			return
		}

		page := buildPreviewPage(s.Snapshot(), s.Panel().DirectLink(), siteName)
		if notes {
			html, err := loadNotes(r.Context(), backend, urlPath)
			switch {
			case err == nil:
				page.Notes = html
			case !errors.Is(err, errNoNotes):
				log.Printf("notes failed    err=%v  file=%s", err, urlPath)
			}
		}

		if err := tmpl.ExecutePreview(w, page); err != nil {
			log.Printf("preview: template: %v", err)
			mgr.Close(s.ID)
			http.Error(w, "Template error", http.StatusInternalServerError)
		}
	}
}

func buildPreviewPage(snap session.Snapshot, directLink, siteName string) *models.PreviewPage {
	page := &models.PreviewPage{
		Title:        snap.File.Name,
		SiteName:     siteName,
		FilePath:     snap.Path,
		File:         snap.File,
		IsAudio:      snap.File.IsAudio(),
		SessionID:    snap.ID,
		View:         string(snap.View.Kind),
		ViewError:    snap.View.Error,
		Sources:      snap.Playback.Sources,
		MIMEType:     snap.Playback.MIMEType,
		ThumbnailURL: snap.URLs.Thumbnail,
		DownloadURL:  snap.URLs.Raw + "&dl=1",
		DirectLink:   directLink,
		Breadcrumbs:  buildBreadcrumbs(path.Dir(snap.Path)),
	}
	page.IsVideo = !page.IsAudio
	if snap.Playback.Kind == strategy.Transcode {
		page.StreamURL = "/api/session/" + snap.ID + "/stream"
	}
	if page.IsVideo && snap.URLs.Subtitle != "" {
		page.CaptionsURL = "/api/session/" + snap.ID + "/captions"
	}
	return page
}

// probeVideo reads the frame size, or returns nil when it cannot.
func probeVideo(ctx context.Context, backend storage.Backend, prober strategy.Prober, p string) *models.VideoInfo {
	input, _, err := grabInput(ctx, backend, p)
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	vi, err := prober.Probe(ctx, input)
	if err != nil {
		log.Printf("probe failed    err=%v  file=%s", err, p)
		return nil
	}
	return vi
}

// buildBreadcrumbs splits dir into clickable segments.
func buildBreadcrumbs(dir string) []models.Breadcrumb {
	crumbs := []models.Breadcrumb{{Name: "root", Path: "/"}}
	current := ""
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		current += "/" + seg
		crumbs = append(crumbs, models.Breadcrumb{Name: seg, Path: current})
	}
	return crumbs
}
