package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediapreview/storage"
)

// newMediaDir creates a root directory named "media" holding files.
func newMediaDir(t *testing.T, files map[string]string) (string, *storage.Local) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "media")
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	backend, err := storage.NewLocal([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	return dir, backend
}

func get(t *testing.T, h http.Handler, target string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRawServesFileAndCountsFullDownloads(t *testing.T) {
	InitStats("")
	_, backend := newMediaDir(t, map[string]string{"song.mp3": "ID3-audio-bytes"})
	h := RawHandler(backend, NewTokenVerifier(""))

	rec := get(t, h, "/api/raw?path=/media/song.mp3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "ID3-audio-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("content type = %q", ct)
	}
	if got := GetStats().RawDownloads; got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}

	rec = get(t, h, "/api/raw?path=/media/song.mp3", "Range", "bytes=0-2")
	if rec.Code != http.StatusPartialContent || rec.Body.String() != "ID3" {
		t.Errorf("range: status=%d body=%q", rec.Code, rec.Body.String())
	}
	if got := GetStats().RawDownloads; got != 1 {
		t.Errorf("range request counted as a download: %d", got)
	}
}

func TestRawPathWithoutLeadingSlash(t *testing.T) {
	InitStats("")
	_, backend := newMediaDir(t, map[string]string{"song.mp3": "x"})
	rec := get(t, RawHandler(backend, nil), "/api/raw?path=media/song.mp3")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRawDownloadDisposition(t *testing.T) {
	InitStats("")
	_, backend := newMediaDir(t, map[string]string{"clip.mp4": "ftyp"})
	rec := get(t, RawHandler(backend, nil), "/api/raw?path=/media/clip.mp4&dl=1")
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="clip.mp4"` {
		t.Errorf("disposition = %q", cd)
	}
}

func TestRawErrors(t *testing.T) {
	_, backend := newMediaDir(t, map[string]string{"song.mp3": "x"})
	h := RawHandler(backend, nil)
	tests := []struct {
		target string
		want   int
	}{
		{"/api/raw", http.StatusBadRequest},
		{"/api/raw?path=/media/missing.mp3", http.StatusNotFound},
		{"/api/raw?path=/media", http.StatusNotFound},
		{"/api/raw?path=/media/../../etc/passwd", http.StatusNotFound},
		{"/api/raw?path=/nope/song.mp3", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := get(t, h, tt.target); rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestRawTokenScopes(t *testing.T) {
	InitStats("")
	_, backend := newMediaDir(t, map[string]string{"a/song.mp3": "x", "b/song.mp3": "y"})
	tokens := NewTokenVerifier("s3cret")
	h := RawHandler(backend, tokens)

	scoped, err := tokens.Issue("/media/a", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired, err := tokens.Issue("/media", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, err := NewTokenVerifier("other").Issue("/", 0)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"no token", "/api/raw?path=/media/a/song.mp3", http.StatusForbidden},
		{"covered", "/api/raw?path=/media/a/song.mp3&odpt=" + scoped, http.StatusOK},
		{"sibling", "/api/raw?path=/media/b/song.mp3&odpt=" + scoped, http.StatusForbidden},
		{"dot-dot out of scope", "/api/raw?path=/media/a/../b/song.mp3&odpt=" + scoped, http.StatusForbidden},
		{"dot-dot within scope", "/api/raw?path=/media/a/x/../song.mp3&odpt=" + scoped, http.StatusOK},
		{"expired", "/api/raw?path=/media/a/song.mp3&odpt=" + expired, http.StatusForbidden},
		{"wrong key", "/api/raw?path=/media/a/song.mp3&odpt=" + forged, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := get(t, h, tt.target); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// The cookie works as well as the query parameter.
	req := httptest.NewRequest(http.MethodGet, "/api/raw?path=/media/a/song.mp3", nil)
	req.AddCookie(&http.Cookie{Name: tokenParam, Value: scoped})
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("cookie token: status = %d", rec.Code)
	}
}

func TestPathCovers(t *testing.T) {
	tests := []struct {
		scope, p string
		want     bool
	}{
		{"/", "/media/x.mp4", true},
		{"/media", "/media/x.mp4", true},
		{"/media/", "/media/x.mp4", true},
		{"/media/x.mp4", "/media/x.mp4", true},
		{"/med", "/media/x.mp4", false},
		{"", "/media/x.mp4", false},
	}
	for _, tt := range tests {
		if got := pathCovers(tt.scope, tt.p); got != tt.want {
			t.Errorf("pathCovers(%q, %q) = %v", tt.scope, tt.p, got)
		}
	}
}

func TestStatsPersist(t *testing.T) {
	dir := t.TempDir()
	InitStats(dir)
	t.Cleanup(func() { InitStats("") })

	RecordDownload(100)
	RecordLinkCopied()

	file := filepath.Join(dir, statsFileName)
	deadline := time.Now().Add(2 * time.Second)
	for {
		raw, _ := os.ReadFile(file)
		if strings.Contains(string(raw), `"links_copied":1`) && strings.Contains(string(raw), `"raw_bytes":100`) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats file = %s", raw)
		}
		time.Sleep(10 * time.Millisecond)
	}
	FlushStats()

	InitStats(dir)
	if s := GetStats(); s.RawDownloads != 1 || s.RawBytes != 100 || s.LinksCopied != 1 {
		t.Errorf("reloaded stats = %+v", s)
	}
}

func TestBandwidthWrapReleasesShare(t *testing.T) {
	bm := NewBandwidthManager(1 << 20)
	payload := strings.Repeat("x", 4096)
	h := bm.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bm.Clients() != 1 {
			t.Errorf("clients during transfer = %d", bm.Clients())
		}
		io.Copy(w, strings.NewReader(payload))
	}))
	rec := get(t, h, "/api/raw?path=/x")
	if rec.Body.String() != payload {
		t.Errorf("body length = %d", rec.Body.Len())
	}
	if bm.Clients() != 0 {
		t.Errorf("clients after transfer = %d", bm.Clients())
	}
}

func TestBandwidthUnlimitedIsPassThrough(t *testing.T) {
	h := http.NotFoundHandler()
	bm := NewBandwidthManager(0)
	if bm.Limited() {
		t.Fatal("zero cap should be unlimited")
	}
	if rec := get(t, bm.Wrap(h), "/"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestHighlightCSS(t *testing.T) {
	rec := get(t, HighlightCSSHandler("no-such-theme"), "/highlight.css")
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/css") || rec.Body.Len() == 0 {
		t.Errorf("content type %q, %d bytes", rec.Header().Get("Content-Type"), rec.Body.Len())
	}
}
