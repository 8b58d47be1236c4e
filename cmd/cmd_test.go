package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"mediapreview/config"
	"mediapreview/models"
	"mediapreview/storage"
)

func localBackend(t *testing.T, files ...string) (*storage.Local, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "films")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("WEBVTT\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	b, err := storage.NewLocal([]string{dir})
	if err != nil {
		t.Fatal(err)
	}
	return b, dir
}

func TestCaptionsFileLocal(t *testing.T) {
	cfg = config.Default()
	backend, dir := localBackend(t, "movie.mp4", "movie.vtt", "song.mp3", "song.vtt")
	video := models.FileDescriptor{Name: "movie.mp4", MIMEType: "video/mp4"}

	got, cleanup := captionsFile(context.Background(), backend, video, "/films/movie.mp4", "")
	defer cleanup()
	if want := filepath.Join(dir, "movie.vtt"); got != want {
		t.Errorf("captions = %q, want %q", got, want)
	}

	audio := models.FileDescriptor{Name: "song.mp3", MIMEType: "audio/mpeg"}
	if got, _ := captionsFile(context.Background(), backend, audio, "/films/song.mp3", ""); got != "" {
		t.Errorf("audio got captions %q", got)
	}
	if got, _ := captionsFile(context.Background(), backend, video, "/films/other.mp4", ""); got != "" {
		t.Errorf("missing sidecar gave %q", got)
	}
}

func TestPlaySourceLocal(t *testing.T) {
	cfg = config.Default()
	backend, dir := localBackend(t, "movie.mp4")
	got, err := playSource(context.Background(), backend, "/films/movie.mp4", nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "movie.mp4"); got != want {
		t.Errorf("source = %q, want %q", got, want)
	}
	if _, err := playSource(context.Background(), backend, "/films/../../etc/passwd", nil); err == nil {
		t.Error("expected traversal to fail")
	}
}

func TestSubcommandLoadsConfig(t *testing.T) {
	dir := t.TempDir()
	cfg = nil
	rootCmd.SetArgs([]string{"stats", "--dir", dir, "--stats-dir", dir, "--port", "9123"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if cfg == nil || cfg.Port != 9123 || cfg.StatsDir != dir {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Dirs) != 1 || cfg.Dirs[0] != dir {
		t.Errorf("dirs = %v", cfg.Dirs)
	}
	if _, err := os.Stat(filepath.Join(dir, "mediapreview.json")); err != nil {
		t.Errorf("stats file: %v", err)
	}
}
