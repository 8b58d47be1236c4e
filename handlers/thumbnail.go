package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"os/exec"
	"time"

	"github.com/nfnt/resize"

	"mediapreview/resource"
	"mediapreview/storage"
)

var ErrNoThumbnail = errors.New("no thumbnail available")

// thumbWidths maps each size tier to its output width in pixels.
var thumbWidths = map[resource.Size]uint{
	resource.Small:  96,
	resource.Medium: 176,
	resource.Large:  320,
}

const (
	thumbQuality = 80
	thumbTimeout = 20 * time.Second
	// videoSeek skips black lead-in frames.
	videoSeek = "3"
)

// FrameGrabber returns one encoded image taken from input, a local path or
// URL. For audio it returns the embedded cover art.
type FrameGrabber func(ctx context.Context, input string, audio bool) ([]byte, error)

// FFmpegFrameGrabber extracts frames with the ffmpeg binary at bin.
func FFmpegFrameGrabber(bin string) FrameGrabber {
	if bin == "" {
		bin = "ffmpeg"
	}
	return func(ctx context.Context, input string, audio bool) ([]byte, error) {
		args := []string{"-hide_banner", "-loglevel", "error"}
		if !audio {
			args = append(args, "-ss", videoSeek)
		}
		args = append(args, "-i", input, "-an", "-frames:v", "1", "-f", "image2pipe", "-vcodec", "mjpeg", "pipe:1")

		var out, stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, bin, args...)
		cmd.Stdout = &out
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
		}
		if out.Len() == 0 {
			return nil, ErrNoThumbnail
		}
		return out.Bytes(), nil
	}
}

// makeThumbnail decodes frame and scales it to width, keeping the aspect
// ratio. Frames narrower than width are not enlarged.
func makeThumbnail(frame []byte, width uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if uint(img.Bounds().Dx()) > width {
		img = resize.Resize(width, 0, img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: thumbQuality}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// grabInput finds something ffmpeg can read for p, along with the cache key
// it is stored under. Local files are keyed by their filesystem path so the
// watcher can invalidate them.
func grabInput(ctx context.Context, backend storage.Backend, p string) (input, key string, err error) {
	if loc, ok := backend.(storage.Locator); ok {
		fsPath, err := loc.LocalPath(p)
		if err != nil {
			return "", "", err
		}
		return fsPath, fsPath, nil
	}
	if ps, ok := backend.(storage.Presigner); ok {
		u, err := ps.PresignGet(ctx, p, "", thumbTimeout*2)
		if err != nil {
			return "", "", err
		}
		return u, backend.Name() + ":" + p, nil
	}
	return "", "", ErrNoThumbnail
}

// ThumbnailHandler serves /api/thumbnail?path=&size=&odpt= as JPEG. Anything
// that prevents a thumbnail answers 404 so the page shows its static icon.
func ThumbnailHandler(backend storage.Backend, tokens *TokenVerifier, grab FrameGrabber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _, ok := authorize(w, r, tokens)
		if !ok {
			return
		}
		size := resource.ParseSize(r.URL.Query().Get("size"))

		fd, err := backend.Stat(r.Context(), p)
		if err != nil || !(fd.IsVideo() || fd.IsAudio()) {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		input, key, err := grabInput(r.Context(), backend, p)
		if err != nil {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}

		data, err := thumbCache.get(key, string(size), func() ([]byte, error) {
			// Detached from the request: other callers may be waiting on it.
			ctx, cancel := context.WithTimeout(context.Background(), thumbTimeout)
			defer cancel()
			frame, err := grab(ctx, input, fd.IsAudio())
			if err != nil {
				return nil, err
			}
			return makeThumbnail(frame, thumbWidths[size])
		})
		if err != nil {
			log.Printf("thumbnail miss  ip=%-15s  size=%-6s  err=%v  file=%s", clientIP(r), size, err, p)
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "private, max-age=300")
		http.ServeContent(w, r, "", fd.LastModified, bytes.NewReader(data))
	}
}
