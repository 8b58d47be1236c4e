package handlers

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestThumbnailResizesAndCaches(t *testing.T) {
	dir, backend := newMediaDir(t, map[string]string{"clip.mp4": "ftyp"})
	frame := pngFrame(t, 640, 360)
	var calls atomic.Int32
	var gotInput string
	grab := func(_ context.Context, input string, audio bool) ([]byte, error) {
		calls.Add(1)
		gotInput = input
		if audio {
			t.Error("video grabbed as audio")
		}
		return frame, nil
	}
	h := ThumbnailHandler(backend, nil, grab)

	rec := get(t, h, "/api/thumbnail?path=/media/clip.mp4&size=small")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 54 {
		t.Errorf("size = %dx%d, want 96x54", b.Dx(), b.Dy())
	}
	fsPath := filepath.Join(dir, "clip.mp4")
	if gotInput != fsPath {
		t.Errorf("input = %q, want %q", gotInput, fsPath)
	}

	get(t, h, "/api/thumbnail?path=/media/clip.mp4&size=small")
	if calls.Load() != 1 {
		t.Errorf("grabs = %d, want a cache hit", calls.Load())
	}
	get(t, h, "/api/thumbnail?path=/media/clip.mp4&size=large")
	if calls.Load() != 2 {
		t.Errorf("grabs = %d, each size is its own entry", calls.Load())
	}

	invalidateFile(fsPath, false)
	get(t, h, "/api/thumbnail?path=/media/clip.mp4&size=small")
	if calls.Load() != 3 {
		t.Errorf("grabs = %d after invalidation", calls.Load())
	}
}

func TestThumbnailUnknownSizeIsMedium(t *testing.T) {
	_, backend := newMediaDir(t, map[string]string{"clip.mp4": "ftyp"})
	frame := pngFrame(t, 640, 360)
	h := ThumbnailHandler(backend, nil, func(context.Context, string, bool) ([]byte, error) { return frame, nil })
	rec := get(t, h, "/api/thumbnail?path=/media/clip.mp4&size=gigantic")
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 176 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
}

func TestThumbnailSmallFrameNotEnlarged(t *testing.T) {
	_, backend := newMediaDir(t, map[string]string{"song.mp3": "ID3"})
	frame := pngFrame(t, 50, 50)
	var audio bool
	h := ThumbnailHandler(backend, nil, func(_ context.Context, _ string, a bool) ([]byte, error) {
		audio = a
		return frame, nil
	})
	rec := get(t, h, "/api/thumbnail?path=/media/song.mp3&size=large")
	img, err := jpeg.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 50 {
		t.Errorf("width = %d", img.Bounds().Dx())
	}
	if !audio {
		t.Error("audio file should ask for cover art")
	}
}

func TestThumbnailFailuresAre404(t *testing.T) {
	_, backend := newMediaDir(t, map[string]string{"clip.mp4": "ftyp", "notes.txt": "x"})
	var calls atomic.Int32
	h := ThumbnailHandler(backend, nil, func(context.Context, string, bool) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("no video stream")
	})
	for _, target := range []string{
		"/api/thumbnail?path=/media/clip.mp4",
		"/api/thumbnail?path=/media/clip.mp4",
		"/api/thumbnail?path=/media/notes.txt",
		"/api/thumbnail?path=/media/missing.mp4",
	} {
		if rec := get(t, h, target); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("grabs = %d, failure should be remembered", calls.Load())
	}
}

func TestThumbnailGarbageFrame(t *testing.T) {
	_, backend := newMediaDir(t, map[string]string{"clip.mp4": "ftyp"})
	h := ThumbnailHandler(backend, nil, func(context.Context, string, bool) ([]byte, error) {
		return []byte("not an image"), nil
	})
	if rec := get(t, h, "/api/thumbnail?path=/media/clip.mp4"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestFileCacheInvalidateTree(t *testing.T) {
	c := newFileCache("test")
	build := func() ([]byte, error) { return []byte("x"), nil }
	c.get("/srv/media/a/1.mp4", "small", build)
	c.get("/srv/media/a/2.mp4", "small", build)
	c.get("/srv/media/ab.mp4", "small", build)

	if n := c.invalidateTree("/srv/media/a"); n != 2 {
		t.Errorf("dropped %d, want 2", n)
	}
	if c.len() != 1 {
		t.Errorf("left %d entries", c.len())
	}
}

func TestFileCacheBuildPanicIsContained(t *testing.T) {
	c := newFileCache("test")
	_, err := c.get("k", "v", func() ([]byte, error) { panic("boom") })
	if !errors.Is(err, errBuildPanic) {
		t.Errorf("err = %v", err)
	}
}

func TestSidecarChangeInvalidatesNotes(t *testing.T) {
	c := notesCache
	key := sidecarBase("/srv/media/clip.mp4")
	c.get(key, "html", func() ([]byte, error) { return []byte("old"), nil })

	invalidateFile("/srv/media/clip.md", false)

	got, _ := c.get(key, "html", func() ([]byte, error) { return []byte("new"), nil })
	if string(got) != "new" {
		t.Errorf("notes = %q, want rebuilt", got)
	}
	c.invalidate(key)
}
