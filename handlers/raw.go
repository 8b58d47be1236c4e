package handlers

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"mediapreview/storage"
)

// presignExpiry bounds how long a redirect to the object store stays valid.
const presignExpiry = 15 * time.Minute

// RawHandler serves /api/raw?path=&odpt=: the file bytes, range capable.
// Object-store backends redirect to a presigned URL instead. dl=1 asks for
// an attachment.
func RawHandler(backend storage.Backend, tokens *TokenVerifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _, ok := authorize(w, r, tokens)
		if !ok {
			return
		}
		name := ""
		if r.URL.Query().Get("dl") != "" {
			name = baseName(p)
		}
		serveFile(w, r, backend, p, name)
	}
}

// serveFile writes the file at p. A non-empty downloadName sends it as an
// attachment under that name. Full (non-range) transfers are recorded in
// the download statistics.
func serveFile(w http.ResponseWriter, r *http.Request, backend storage.Backend, p, downloadName string) {
	ctx := r.Context()
	ip := clientIP(r)

	if ps, ok := backend.(storage.Presigner); ok {
		u, err := ps.PresignGet(ctx, p, downloadName, presignExpiry)
		if err != nil {
			log.Printf("raw presign     ip=%-15s  err=%v  file=%s", ip, err, p)
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		log.Printf("raw redirect    ip=%-15s  file=%s", ip, p)
		http.Redirect(w, r, u, http.StatusFound)
		return
	}

	fd, err := backend.Stat(ctx, p)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrIsDir) {
			log.Printf("raw stat        ip=%-15s  err=%v  file=%s", ip, err, p)
		}
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	full := r.Header.Get("Range") == ""
	if full {
		log.Printf("raw download    ip=%-15s  size=%-10s  file=%s", ip, humanize.IBytes(uint64(fd.Size)), p)
	}
	start := time.Now()

	w.Header().Set("Content-Type", fd.MIMEType)
	if downloadName != "" {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(downloadName))
	}

	if loc, ok := backend.(storage.Locator); ok {
		fsPath, err := loc.LocalPath(p)
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		f, err := os.Open(fsPath)
		if err != nil {
			http.Error(w, "Could not open file", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		// ServeContent handles Range, If-Modified-Since and Content-Length.
		http.ServeContent(w, r, fd.Name, fd.LastModified, f)
	} else {
		rc, err := backend.Open(ctx, p)
		if err != nil {
			http.Error(w, "Could not open file", http.StatusInternalServerError)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Length", strconv.FormatInt(fd.Size, 10))
		if _, err := io.Copy(w, rc); err != nil {
			log.Printf("raw aborted     ip=%-15s  err=%v  file=%s", ip, err, p)
			return
		}
	}

	if full {
		RecordDownload(fd.Size)
		log.Printf("raw complete    ip=%-15s  size=%-10s  duration=%s  file=%s",
			ip, humanize.IBytes(uint64(fd.Size)), time.Since(start).Round(time.Millisecond), p)
	}
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
