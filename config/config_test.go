package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) (*pflag.FlagSet, []string) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return fs, fs.Args()
}

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs, rest := newFlags(t, args...)
	return Load(fs, rest)
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	cfg, err := load(t, "--dir", dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 7887 || cfg.Origin != "http://localhost:7887" {
		t.Errorf("port=%d origin=%q", cfg.Port, cfg.Origin)
	}
	if cfg.BandwidthLimit != 0 || !cfg.Notes || cfg.SessionTTL.Duration != 30*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.LinksDB != filepath.Join(cfg.StatsDir, "links.db") {
		t.Errorf("links db = %q", cfg.LinksDB)
	}
	if strings.Join(cfg.Transcode, ",") != "flv,f4v" {
		t.Errorf("transcode = %v", cfg.Transcode)
	}
}

func TestPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "preview.toml")
	body := `
port = 9000
title = "From file"
bandwidth = "8kbps"
session_ttl = "5m"
stats_dir = "` + filepath.ToSlash(dir) + `"
dirs = ["` + filepath.ToSlash(dir) + `"]
`
	if err := os.WriteFile(file, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PREVIEW_CONFIG", file)
	t.Setenv("PREVIEW_TITLE", "From env")
	t.Setenv("PREVIEW_PORT", "9100")

	cfg, err := load(t, "--port", "9200")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != 9200 {
		t.Errorf("port = %d, flag should win", cfg.Port)
	}
	if cfg.Title != "From env" {
		t.Errorf("title = %q, env should beat the file", cfg.Title)
	}
	if cfg.BandwidthLimit != 1000 {
		t.Errorf("bandwidth = %v, want 1000 B/s from the file", cfg.BandwidthLimit)
	}
	if cfg.SessionTTL.Duration != 5*time.Minute {
		t.Errorf("ttl = %s", cfg.SessionTTL)
	}
}

func TestDirsFromEnvFlagsAndArgs(t *testing.T) {
	a, b, c := t.TempDir(), t.TempDir(), t.TempDir()
	t.Setenv("PREVIEW_STATS_DIR", a)
	t.Setenv("PREVIEW_DIRS", a+":"+b)

	cfg, err := load(t)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Dirs) != 2 {
		t.Errorf("env dirs = %v", cfg.Dirs)
	}

	cfg, err = load(t, "--dir", c, b)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Dirs) != 2 || cfg.Dirs[0] != c || cfg.Dirs[1] != b {
		t.Errorf("flag dirs = %v", cfg.Dirs)
	}
}

func TestS3NeedsNoDirs(t *testing.T) {
	t.Setenv("PREVIEW_STATS_DIR", t.TempDir())
	cfg, err := load(t, "--s3-bucket", "media", "--s3-region", "")
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.UsesS3() || cfg.S3.Region != "us-east-1" {
		t.Errorf("s3 = %+v", cfg.S3)
	}
	if _, err := load(t, "--s3-bucket", "media", "--s3-access-key", "only-half"); err == nil {
		t.Error("expected error for access key without secret")
	}
}

func TestValidation(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	os.WriteFile(file, []byte("x"), 0o644)
	t.Setenv("PREVIEW_STATS_DIR", dir)

	tests := []struct {
		name string
		args []string
	}{
		{"no dirs", nil},
		{"missing dir", []string{"--dir", filepath.Join(dir, "nope")}},
		{"file as dir", []string{"--dir", file}},
		{"bad port", []string{"--dir", dir, "--port", "70000"}},
		{"port not a number", []string{"--dir", dir, "--port", "http"}},
		{"bad origin", []string{"--dir", dir, "--origin", "ftp://x"}},
		{"bad bandwidth", []string{"--dir", dir, "--bandwidth", "10 furlongs"}},
		{"bad notes", []string{"--dir", dir, "--notes", "maybe"}},
		{"bad ttl", []string{"--dir", dir, "--session-ttl", "soon"}},
		{"favicon dir", []string{"--dir", dir, "--favicon", dir}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := load(t, "--config", filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for an explicit missing config file")
	}
}

func TestParseBandwidth(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"0", 0},
		{"8", 1},
		{"8bps", 1},
		{"10mbps", 1_250_000},
		{"500 kbps", 62_500},
		{"1Gbps", 125_000_000},
	}
	for _, tt := range tests {
		got, err := parseBandwidth(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseBandwidth(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	for _, bad := range []string{"mbps", "10 parsecs", "-5mbps"} {
		if _, err := parseBandwidth(bad); err == nil {
			t.Errorf("parseBandwidth(%q) succeeded", bad)
		}
	}
}

func TestTranscodeExtensionsNormalised(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PREVIEW_STATS_DIR", dir)
	cfg, err := load(t, "--dir", dir, "--transcode", ".FLV, mkv ,")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(cfg.Transcode, ",") != "flv,mkv" {
		t.Errorf("transcode = %v", cfg.Transcode)
	}
}
