package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) (*Local, string) {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "My Movies")
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "clip.mp4"), []byte("not really mp4"), 0o644); err != nil {
		t.Fatal(err)
	}
	l, err := NewLocal([]string{dir})
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l, dir
}

func TestRootName(t *testing.T) {
	cases := map[string]string{
		"/srv/My Movies":  "my-movies",
		"/srv/music/":     "music",
		"relative/Photos": "photos",
	}
	for in, want := range cases {
		if got := RootName(in); got != want {
			t.Errorf("RootName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLocalStat(t *testing.T) {
	l, _ := newTestLocal(t)
	fd, err := l.Stat(context.Background(), "/my-movies/sub/clip.mp4")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if fd.Name != "clip.mp4" || fd.MIMEType != "video/mp4" || fd.Size != 14 {
		t.Errorf("unexpected descriptor %+v", fd)
	}
}

func TestLocalStatErrors(t *testing.T) {
	l, _ := newTestLocal(t)
	ctx := context.Background()

	if _, err := l.Stat(ctx, "/my-movies/missing.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing file err = %v", err)
	}
	if _, err := l.Stat(ctx, "/my-movies/sub"); !errors.Is(err, ErrIsDir) {
		t.Errorf("directory err = %v", err)
	}
	if _, err := l.Stat(ctx, "/nope/clip.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown root err = %v", err)
	}
}

func TestLocalPathRejectsTraversal(t *testing.T) {
	l, dir := newTestLocal(t)
	for _, p := range []string{"/my-movies/../../etc/passwd", "my-movies/sub/clip.mp4", "relative"} {
		if _, err := l.LocalPath(p); !errors.Is(err, ErrNotFound) {
			t.Errorf("LocalPath(%q) err = %v, want ErrNotFound", p, err)
		}
	}
	got, err := l.LocalPath("/my-movies/sub/../sub/clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "sub", "clip.mp4") {
		t.Errorf("LocalPath = %q", got)
	}
}

func TestLocalOpen(t *testing.T) {
	l, _ := newTestLocal(t)
	rc, err := l.Open(context.Background(), "/my-movies/sub/clip.mp4")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "not really mp4" {
		t.Errorf("read %q", b)
	}
}

func TestDuplicateRootNames(t *testing.T) {
	base := t.TempDir()
	a := filepath.Join(base, "a", "media")
	b := filepath.Join(base, "b", "Media")
	os.MkdirAll(a, 0o755)
	os.MkdirAll(b, 0o755)
	if _, err := NewLocal([]string{a, b}); err == nil {
		t.Error("expected duplicate root name error")
	}
}

func TestMIMETypeForName(t *testing.T) {
	cases := map[string]string{
		"a.FLV":     "video/x-flv",
		"b.mkv":     "video/x-matroska",
		"c.mp3":     "audio/mpeg",
		"d.vtt":     "text/vtt",
		"noext":     "application/octet-stream",
		"e.unknown": "application/octet-stream",
	}
	for in, want := range cases {
		if got := MIMETypeForName(in); got != want {
			t.Errorf("MIMETypeForName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsMedia(t *testing.T) {
	if !IsMedia("video/mp4") || !IsMedia("audio/ogg; codecs=opus") || IsMedia("text/vtt") {
		t.Error("IsMedia misclassified a type")
	}
}

func TestS3Key(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Endpoint:  "http://localhost:9000",
		Bucket:    "media",
		AccessKey: "test",
		SecretKey: "test",
		Prefix:    "/previews/",
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	key, err := s.Key("/movies/../movies/a.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if key != "previews/movies/a.mp4" {
		t.Errorf("key = %q", key)
	}
	if _, err := s.Key("/"); !errors.Is(err, ErrIsDir) {
		t.Errorf("root key err = %v", err)
	}
}

func TestS3PresignUsesPublicEndpoint(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Endpoint:       "http://minio:9000",
		PublicEndpoint: "https://cdn.example.com",
		Bucket:         "media",
		AccessKey:      "test",
		SecretKey:      "test",
	})
	if err != nil {
		t.Fatal(err)
	}
	u, err := s.PresignGet(context.Background(), "/a/b.mp4", `we"ird.mp4`, time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if want := "https://cdn.example.com/media/a/b.mp4?"; len(u) < len(want) || u[:len(want)] != want {
		t.Errorf("url = %q, want prefix %q", u, want)
	}
}

func TestS3RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), S3Config{}); err == nil {
		t.Error("expected error without a bucket")
	}
}
