// Package config handles all server configuration.
// CLI flags take precedence over environment variables, which take
// precedence over the TOML config file, which overrides the defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
)

// envPrefix is prepended to every environment variable name.
const envPrefix = "PREVIEW_"

// Config holds the complete server configuration.
type Config struct {
	// Port is the TCP port the HTTP server listens on.
	Port int `toml:"port"`
	// Dirs are the local root directories served. Ignored when S3.Bucket
	// is set.
	Dirs []string `toml:"dirs"`
	// Origin is the absolute base URL used for direct links and for the
	// transcoder to read raw media back. Empty means http://localhost:{Port}.
	Origin string `toml:"origin"`
	// Title is the branding shown in page titles.
	Title string `toml:"title"`
	// Theme is the Chroma style for code blocks in rendered notes.
	Theme string `toml:"highlight_theme"`
	// FaviconPath optionally replaces the embedded favicon.
	FaviconPath string `toml:"favicon"`
	// Bandwidth is the raw cap as written, e.g. "10mbps".
	Bandwidth string `toml:"bandwidth"`
	// BandwidthLimit is Bandwidth in bytes per second. 0 means unlimited.
	BandwidthLimit float64 `toml:"-"`
	// StatsDir holds mediapreview.json.
	StatsDir string `toml:"stats_dir"`
	// LinksDB is the SQLite file for custom links. Defaults to
	// links.db inside StatsDir.
	LinksDB string `toml:"links_db"`
	// TokenSecret enables path-scoped access tokens when non-empty.
	TokenSecret string `toml:"token_secret"`

	FFmpegPath  string `toml:"ffmpeg"`
	FFprobePath string `toml:"ffprobe"`
	// Transcode lists the extensions played through the transcoder.
	Transcode []string `toml:"transcode_extensions"`

	SubtitleTimeout Duration `toml:"subtitle_timeout"`
	// SessionTTL closes sessions idle for longer. 0 disables reaping.
	SessionTTL Duration `toml:"session_ttl"`
	// Notes renders a Markdown or Org sidecar next to the media file.
	Notes bool `toml:"notes"`

	S3 S3 `toml:"s3"`
}

// S3 configures the object-store backend.
type S3 struct {
	Endpoint       string `toml:"endpoint"`
	PublicEndpoint string `toml:"public_endpoint"`
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	Prefix         string `toml:"prefix"`
}

// Duration reads "30s"-style values from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:            7887,
		Title:           "Media Preview",
		Theme:           "catppuccin-mocha",
		FFmpegPath:      "ffmpeg",
		FFprobePath:     "ffprobe",
		Transcode:       []string{"flv", "f4v"},
		SubtitleTimeout: Duration{10 * time.Second},
		SessionTTL:      Duration{30 * time.Minute},
		Notes:           true,
		S3:              S3{Region: "us-east-1"},
	}
}

// UsesS3 reports whether media is read from the object store.
func (c *Config) UsesS3() bool {
	return c.S3.Bucket != ""
}

// option is one setting reachable from both a flag and an environment
// variable. The variable is PREVIEW_ followed by the flag name upper-cased
// with dashes turned into underscores.
type option struct {
	name  string
	usage string
	set   func(c *Config, v string) error
}

func (o option) env() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(o.name, "-", "_"))
}

func setString(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func setDuration(dst func(c *Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		dst(c).Duration = d
		return nil
	}
}

var options = []option{
	{"port", "HTTP port to listen on (default 7887)", func(c *Config, v string) error {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		c.Port = p
		return nil
	}},
	{"origin", "Absolute base URL for direct links (default http://localhost:{port})", setString(func(c *Config) *string { return &c.Origin })},
	{"title", "Site title (default Media Preview)", setString(func(c *Config) *string { return &c.Title })},
	{"highlight-theme", "Chroma theme for code in notes (default catppuccin-mocha)", setString(func(c *Config) *string { return &c.Theme })},
	{"favicon", "Path to a custom favicon file", setString(func(c *Config) *string { return &c.FaviconPath })},
	{"bandwidth", "Total media bandwidth cap, e.g. 10mbps, 500kbps (default unlimited)", setString(func(c *Config) *string { return &c.Bandwidth })},
	{"stats-dir", "Directory holding mediapreview.json (default current directory)", setString(func(c *Config) *string { return &c.StatsDir })},
	{"links-db", "SQLite file for custom links (default {stats-dir}/links.db)", setString(func(c *Config) *string { return &c.LinksDB })},
	{"token-secret", "HMAC secret enabling path-scoped access tokens", setString(func(c *Config) *string { return &c.TokenSecret })},
	{"ffmpeg", "ffmpeg binary (default ffmpeg)", setString(func(c *Config) *string { return &c.FFmpegPath })},
	{"ffprobe", "ffprobe binary, empty to skip probing (default ffprobe)", setString(func(c *Config) *string { return &c.FFprobePath })},
	{"transcode", "Comma-separated extensions played through the transcoder (default flv,f4v)", func(c *Config, v string) error {
		c.Transcode = splitList(v, ",")
		return nil
	}},
	{"subtitle-timeout", "Timeout for fetching a caption track (default 10s)", setDuration(func(c *Config) *Duration { return &c.SubtitleTimeout })},
	{"session-ttl", "Close sessions idle for longer than this, 0 to keep them (default 30m)", setDuration(func(c *Config) *Duration { return &c.SessionTTL })},
	{"notes", "Render Markdown/Org sidecar notes: true or false (default true)", func(c *Config, v string) error {
		b, ok := parseBoolString(v)
		if !ok {
			return fmt.Errorf("not a boolean")
		}
		c.Notes = b
		return nil
	}},
	{"s3-endpoint", "S3-compatible endpoint URL", setString(func(c *Config) *string { return &c.S3.Endpoint })},
	{"s3-public-endpoint", "Endpoint used in presigned URLs handed to browsers", setString(func(c *Config) *string { return &c.S3.PublicEndpoint })},
	{"s3-bucket", "Bucket to serve media from; enables the S3 backend", setString(func(c *Config) *string { return &c.S3.Bucket })},
	{"s3-region", "Bucket region (default us-east-1)", setString(func(c *Config) *string { return &c.S3.Region })},
	{"s3-access-key", "S3 access key (default: AWS credential chain)", setString(func(c *Config) *string { return &c.S3.AccessKey })},
	{"s3-secret-key", "S3 secret key", setString(func(c *Config) *string { return &c.S3.SecretKey })},
	{"s3-prefix", "Key prefix prepended to every path", setString(func(c *Config) *string { return &c.S3.Prefix })},
}

// AddFlags registers every option on fs. String-typed flags with empty
// defaults let Load tell "not given" apart from an explicit value.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "TOML config file (env: "+envPrefix+"CONFIG)")
	fs.StringArray("dir", nil, "Root directory to serve (repeatable; env: "+envPrefix+"DIRS, colon-separated)")
	for _, o := range options {
		fs.String(o.name, "", fmt.Sprintf("%s (env: %s)", o.usage, o.env()))
	}
}

// Load resolves the configuration from fs (registered with AddFlags), the
// environment, the config file and the defaults. args are extra root
// directories given positionally.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	cfg := Default()

	// --- config file ---
	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// --- environment ---
	if v := os.Getenv(envPrefix + "DIRS"); v != "" {
		cfg.Dirs = splitList(v, ":")
	}
	for _, o := range options {
		if v := os.Getenv(o.env()); v != "" {
			if err := o.set(cfg, v); err != nil {
				return nil, fmt.Errorf("invalid %s value %q: %w", o.env(), v, err)
			}
		}
	}

	// --- flags ---
	if fs.Changed("dir") {
		dirs, _ := fs.GetStringArray("dir")
		cfg.Dirs = dirs
	}
	cfg.Dirs = append(cfg.Dirs, args...)
	for _, o := range options {
		if !fs.Changed(o.name) {
			continue
		}
		v, _ := fs.GetString(o.name)
		if err := o.set(cfg, v); err != nil {
			return nil, fmt.Errorf("invalid --%s %q: %w", o.name, v, err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// finish fills derived fields and validates.
func (c *Config) finish() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}

	if c.Origin == "" {
		c.Origin = fmt.Sprintf("http://localhost:%d", c.Port)
	}
	u, err := url.Parse(c.Origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid origin %q: must be an absolute http(s) URL", c.Origin)
	}
	c.Origin = strings.TrimSuffix(c.Origin, "/")

	if c.FaviconPath != "" {
		info, err := os.Stat(c.FaviconPath)
		if err != nil {
			return fmt.Errorf("favicon %q: %w", c.FaviconPath, err)
		}
		if info.IsDir() {
			return fmt.Errorf("favicon %q is a directory, not a file", c.FaviconPath)
		}
	}

	if c.UsesS3() {
		if c.S3.Region == "" {
			c.S3.Region = "us-east-1"
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return fmt.Errorf("s3 access key and secret key must be set together")
		}
	} else {
		if len(c.Dirs) == 0 {
			return fmt.Errorf("at least one root directory must be specified via --dir, %sDIRS, positional argument, or an s3 bucket", envPrefix)
		}
		for _, d := range c.Dirs {
			info, err := os.Stat(d)
			if err != nil {
				return fmt.Errorf("directory %q: %w", d, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%q is not a directory", d)
			}
		}
	}

	bps, err := parseBandwidth(c.Bandwidth)
	if err != nil {
		return fmt.Errorf("invalid bandwidth %q: %w", c.Bandwidth, err)
	}
	c.BandwidthLimit = bps

	if c.SubtitleTimeout.Duration <= 0 {
		return fmt.Errorf("subtitle timeout must be positive, got %s", c.SubtitleTimeout)
	}
	if c.SessionTTL.Duration < 0 {
		return fmt.Errorf("session ttl must not be negative, got %s", c.SessionTTL)
	}

	for i, ext := range c.Transcode {
		c.Transcode[i] = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	}

	if c.StatsDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not determine current working directory: %w", err)
		}
		c.StatsDir = cwd
	}
	if c.LinksDB == "" {
		c.LinksDB = filepath.Join(c.StatsDir, "links.db")
	}
	return nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseBoolString converts a human-readable boolean string to a bool.
func parseBoolString(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "on":
		return true, true
	case "0", "f", "false", "no", "off":
		return false, true
	}
	return false, false
}

// parseBandwidth converts a human-readable bandwidth string to bytes per
// second. Accepted units (case-insensitive): bps, kbps, mbps, gbps.
// A bare number is bits per second.
//
// Examples: "10mbps", "500 kbps", "1gbps"
func parseBandwidth(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("no numeric value found")
	}
	numStr := s[:i]
	unit := strings.ToLower(strings.TrimFunc(s[i:], unicode.IsSpace))

	val, err := strconv.ParseFloat(numStr, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid number %q", numStr)
	}

	switch unit {
	case "", "bps":
		return val / 8, nil
	case "kbps":
		return val * 1_000 / 8, nil
	case "mbps":
		return val * 1_000_000 / 8, nil
	case "gbps":
		return val * 1_000_000_000 / 8, nil
	default:
		return 0, fmt.Errorf("unknown unit %q (accepted: bps, kbps, mbps, gbps)", unit)
	}
}
