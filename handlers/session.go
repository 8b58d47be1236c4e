package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"

	"mediapreview/export"
	"mediapreview/session"
	"mediapreview/storage"
)

// maxEventBody bounds JSON bodies posted by the page.
const maxEventBody = 4 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxEventBody)).Decode(v)
}

// sessionError maps session errors to responses.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrSessionClosed):
		http.Error(w, "Session closed", http.StatusGone)
	case errors.Is(err, session.ErrUnknownEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrStreamTaken):
		http.Error(w, "Stream already taken", http.StatusConflict)
	case errors.Is(err, session.ErrNoStream):
		http.Error(w, "No stream", http.StatusNotFound)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

// SessionHandler serves GET (snapshot) and DELETE (close) on
// /api/session/{id}.
func SessionHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		switch r.Method {
		case http.MethodDelete:
			if err := mgr.Close(id); err != nil {
				sessionError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			s, err := mgr.Get(id)
			if err != nil {
				sessionError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, s.Snapshot())
		}
	}
}

type eventRequest struct {
	Event  string  `json:"event"`
	Volume float64 `json:"volume"`
}

// EventsHandler accepts media-element events posted by the page, one per
// request, and answers with the resulting snapshot.
func EventsHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := mgr.Get(r.PathValue("id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		var req eventRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		if err := s.Dispatch(req.Event, req.Volume); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// StreamHandler hands the transcoded stream to the one request that claims
// it.
func StreamHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := mgr.Get(r.PathValue("id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		stream, err := s.Stream()
		if err != nil {
			sessionError(w, err)
			return
		}
		defer stream.Close()

		w.Header().Set("Content-Type", s.Playback().MIMEType)
		w.Header().Set("Cache-Control", "no-store")
		rc := http.NewResponseController(w)
		buf := make([]byte, 64*1024)
		var sent int64
		for {
			n, rerr := stream.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					log.Printf("stream aborted  ip=%-15s  sent=%-10d  id=%s", clientIP(r), sent, s.ID)
					return
				}
				sent += int64(n)
				_ = rc.Flush()
			}
			if rerr != nil {
				if rerr != io.EOF && !errors.Is(rerr, io.ErrClosedPipe) {
					log.Printf("stream failed   ip=%-15s  err=%v  id=%s", clientIP(r), rerr, s.ID)
				}
				return
			}
		}
	}
}

// CaptionsHandler serves the caption track attached to the session.
func CaptionsHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := mgr.Get(r.PathValue("id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		tr := s.Captions()
		if tr == nil {
			http.Error(w, "No captions", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/vtt; charset=utf-8")
		io.WriteString(w, tr.Text)
	}
}

type exportRequest struct {
	Action   string `json:"action"`
	FileName string `json:"fileName"`
	// ClipboardError is the page's report that writing the copied link to
	// the browser clipboard failed.
	ClipboardError string `json:"clipboardError"`
}

type exportResponse struct {
	Text         string               `json:"text,omitempty"`
	Link         string               `json:"link,omitempty"`
	Notification *export.Notification `json:"notification,omitempty"`
	State        export.State         `json:"state"`
	Error        string               `json:"error,omitempty"`
}

// ExportHandler runs an action on the session's export panel. "copy" is
// posted after the page tried the browser clipboard: it returns the direct
// link together with the single notification the copy produced, a failure
// when the page reported clipboardError.
func ExportHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := mgr.Get(r.PathValue("id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		var req exportRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		panel := s.Panel()

		switch strings.ToLower(req.Action) {
		case "copy":
			cb := &export.MemoryClipboard{}
			if req.ClipboardError != "" {
				cb.Err = fmt.Errorf("%w: %s", export.ErrNoClipboard, req.ClipboardError)
			}
			var note *export.Notification
			err := panel.With(cb, export.NotifyFunc(func(n export.Notification) { note = &n })).CopyDirectLink(r.Context())
			if err == nil {
				RecordLinkCopied()
			}
			writeJSON(w, http.StatusOK, exportResponse{Text: cb.Text(), Notification: note, State: panel.State()})

		case "customize", "customise":
			link, err := panel.OpenCustomize(r.Context(), req.FileName)
			resp := exportResponse{Link: link, State: panel.State()}
			status := http.StatusOK
			if err != nil {
				resp.Error = err.Error()
				status = http.StatusServiceUnavailable
				if !errors.Is(err, export.ErrNoCustomizer) {
					status = http.StatusInternalServerError
					log.Printf("export failed   id=%s  err=%v", s.ID, err)
				}
			}
			writeJSON(w, status, resp)

		case "close":
			panel.CloseCustomize()
			writeJSON(w, http.StatusOK, exportResponse{State: panel.State()})

		default:
			http.Error(w, "Unknown action", http.StatusBadRequest)
		}
	}
}

type navigateRequest struct {
	Path string `json:"path"`
}

// NavigateHandler moves a session to another file. The request's token must
// cover the new path.
func NavigateHandler(mgr *session.Manager, backend storage.Backend, tokens *TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := mgr.Get(r.PathValue("id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		var req navigateRequest
		if err := decodeJSON(r, &req); err != nil || req.Path == "" {
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}
		p := path.Clean("/" + req.Path)
		if _, ok := verifyPath(w, r, tokens, p); !ok {
			return
		}
		fd, err := backend.Stat(r.Context(), p)
		if err != nil || !storage.IsMedia(fd.MIMEType) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if err := s.Navigate(r.Context(), fd, p); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}
