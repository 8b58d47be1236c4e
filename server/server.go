package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"mediapreview/config"
	"mediapreview/handlers"
	"mediapreview/links"
	"mediapreview/session"
	"mediapreview/storage"
	"mediapreview/strategy"
	"mediapreview/subtitle"
)

// shutdownGrace bounds how long in-flight requests get after a signal.
const shutdownGrace = 10 * time.Second

// deps is everything the routes need, built once by Run.
type deps struct {
	cfg      *config.Config
	assets   fs.FS
	backend  storage.Backend
	tokens   *handlers.TokenVerifier
	links    *links.Store
	sessions *session.Manager
	prober   strategy.Prober
	grab     handlers.FrameGrabber
	bw       *handlers.BandwidthManager
	tmpl     *Templates
}

// OpenBackend returns the S3 backend when a bucket is configured and the
// local directories otherwise.
func OpenBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.UsesS3() {
		return storage.NewS3(ctx, storage.S3Config{
			Endpoint:       cfg.S3.Endpoint,
			PublicEndpoint: cfg.S3.PublicEndpoint,
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
		})
	}
	return storage.NewLocal(cfg.Dirs)
}

// Loopback is the address the server's own fetchers (subtitles, the
// transcoder) use to read media back.
func Loopback(cfg *config.Config) string {
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Port)
}

// SessionOptions builds the options every preview session shares.
func SessionOptions(cfg *config.Config, store *links.Store) session.Options {
	return session.Options{
		Registry:     strategy.Default(strategy.FFmpegModule{Path: cfg.FFmpegPath}, cfg.Transcode),
		Subtitles:    subtitle.NewHTTPFetcher(Loopback(cfg), cfg.SubtitleTimeout.Duration),
		Origin:       cfg.Origin,
		SourceOrigin: Loopback(cfg),
		Customizer:   links.Customizer{Store: store, Origin: cfg.Origin},
	}
}

// Run starts the HTTP server and blocks until it fails or the process is
// signalled, then drains requests and closes every session.
func Run(cfg *config.Config, assets fs.FS) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tmpl, err := LoadTemplates(assets)
	if err != nil {
		return fmt.Errorf("loading templates: %w", err)
	}

	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}

	store, err := links.Open(cfg.LinksDB)
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := session.NewManager(SessionOptions(cfg, store), cfg.SessionTTL.Duration)
	defer mgr.CloseAll()

	d := &deps{
		cfg:      cfg,
		assets:   assets,
		backend:  backend,
		tokens:   handlers.NewTokenVerifier(cfg.TokenSecret),
		links:    store,
		sessions: mgr,
		grab:     handlers.FFmpegFrameGrabber(cfg.FFmpegPath),
		bw:       handlers.NewBandwidthManager(cfg.BandwidthLimit),
		tmpl:     tmpl,
	}
	if cfg.FFprobePath != "" {
		d.prober = strategy.FFprobe{Path: cfg.FFprobePath}
	}

	// Load persisted counters before any handler runs.
	handlers.InitStats(cfg.StatsDir)
	defer handlers.FlushStats()

	// The notes renderer must know the Chroma theme before the first
	// preview is served.
	handlers.InitRenderOptions(cfg.Theme)

	mux := http.NewServeMux()
	registerRoutes(mux, d)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logStartup(cfg, backend, addr)

	// Local roots are watched so cached thumbnails and notes follow edits.
	if local, ok := backend.(*storage.Local); ok {
		stopWatch, err := handlers.StartWatcher(local.Roots())
		if err != nil {
			log.Printf("watcher: could not start filesystem watcher: %v", err)
		} else {
			defer stopWatch()
		}
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: securityHeaders(mux, mediaSources(cfg)),

		// Slowloris defence: clients must finish their headers in time.
		ReadHeaderTimeout: 20 * time.Second,
		IdleTimeout:       120 * time.Second,

		// No WriteTimeout: streams and downloads may run for hours.
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down  sessions=%d", mgr.Len())
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// mediaSources lists the extra origins media may load from: presigned URLs
// point at the bucket endpoint rather than at us.
func mediaSources(cfg *config.Config) []string {
	if !cfg.UsesS3() {
		return nil
	}
	var out []string
	for _, ep := range []string{cfg.S3.PublicEndpoint, cfg.S3.Endpoint} {
		if ep == "" {
			continue
		}
		if u, err := url.Parse(ep); err == nil && u.Host != "" {
			out = append(out, u.Scheme+"://"+u.Host)
		}
	}
	if len(out) == 0 {
		out = append(out, "https://*.amazonaws.com")
	}
	return out
}

// securityHeaders sets the response headers every page carries.
func securityHeaders(next http.Handler, mediaOrigins []string) http.Handler {
	extra := strings.Join(mediaOrigins, " ")
	if extra != "" {
		extra = " " + extra
	}
	csp := "default-src 'self'; " +
		"img-src 'self' data: blob:" + extra + "; " +
		"media-src 'self' blob:" + extra + "; " +
		"style-src 'self'; script-src 'self'; " +
		"frame-ancestors 'none'; base-uri 'none'; form-action 'self'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", csp)
		next.ServeHTTP(w, r)
	})
}

// logStartup prints a structured summary of the active configuration.
func logStartup(cfg *config.Config, backend storage.Backend, addr string) {
	sep := "-------------------------------------------"
	log.Println(sep)
	log.Printf("  %s", cfg.Title)
	log.Println(sep)
	log.Printf("  %-18s %s", "Address:", "http://"+addr)
	log.Printf("  %-18s %s", "Origin:", cfg.Origin)
	log.Printf("  %-18s %s", "Highlight theme:", cfg.Theme)

	if cfg.FaviconPath != "" {
		log.Printf("  %-18s %s", "Favicon:", cfg.FaviconPath)
	} else {
		log.Printf("  %-18s %s", "Favicon:", "(embedded default)")
	}

	if cfg.BandwidthLimit > 0 {
		log.Printf("  %-18s %s", "Bandwidth limit:", humanize.SIWithDigits(cfg.BandwidthLimit*8, 2, "bps"))
	} else {
		log.Printf("  %-18s %s", "Bandwidth limit:", "unlimited")
	}

	log.Printf("  %-18s %s", "Tokens:", enabledStr(cfg.TokenSecret != ""))
	log.Printf("  %-18s %s", "Notes:", enabledStr(cfg.Notes))
	log.Printf("  %-18s %s", "Transcode:", strings.Join(cfg.Transcode, ", "))
	if cfg.SessionTTL.Duration > 0 {
		log.Printf("  %-18s %s", "Session TTL:", cfg.SessionTTL)
	} else {
		log.Printf("  %-18s %s", "Session TTL:", "never")
	}

	switch b := backend.(type) {
	case *storage.Local:
		roots := b.Roots()
		log.Printf("  %-18s %d director%s", "Serving:", len(roots), map[bool]string{true: "y", false: "ies"}[len(roots) == 1])
		for _, name := range b.RootNames() {
			log.Printf("    /%-16s %s", name, roots[name])
		}
	default:
		log.Printf("  %-18s s3://%s/%s", "Serving:", cfg.S3.Bucket, cfg.S3.Prefix)
	}
	log.Println(sep)
}

// enabledStr returns "on" or "off" for use in startup log lines.
func enabledStr(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
