// Package subtitle fetches caption tracks that sit next to a media file.
// Captions are best-effort: a missing or broken track is logged and
// otherwise ignored.
package subtitle

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// maxTrackBytes caps a caption download.
const maxTrackBytes = 10 * 1024 * 1024

var (
	ErrNotFound = errors.New("subtitle not found")
	ErrNotVTT   = errors.New("subtitle is not WebVTT")
)

// Track is a caption track ready to attach to a surface.
type Track struct {
	Kind  string `json:"kind"`
	Label string `json:"label"`
	Lang  string `json:"srclang"`
	Src   string `json:"src"`
	Text  string `json:"-"`
}

// NewTrack validates text as WebVTT and wraps it in an English captions
// track.
func NewTrack(src string, text []byte) (*Track, error) {
	body := bytes.TrimPrefix(text, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(body, []byte("WEBVTT")) {
		return nil, ErrNotVTT
	}
	return &Track{
		Kind:  "captions",
		Label: "English",
		Lang:  "en",
		Src:   src,
		Text:  string(body),
	}, nil
}

// Fetcher retrieves the track at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Track, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, url string) (*Track, error)

func (f FetchFunc) Fetch(ctx context.Context, url string) (*Track, error) { return f(ctx, url) }

// HTTPFetcher fetches tracks over HTTP. Relative URLs are resolved against
// Base.
type HTTPFetcher struct {
	Client *http.Client
	Base   string
}

// NewHTTPFetcher returns a fetcher with a hardened client.
func NewHTTPFetcher(base string, timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		Base: base,
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				ForceAttemptHTTP2:   true,
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 5,
			},
		},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Track, error) {
	full := url
	if strings.HasPrefix(url, "/") {
		full = strings.TrimRight(f.Base, "/") + url
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/vtt, text/plain;q=0.5")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading subtitle: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("subtitle download returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackBytes))
	if err != nil {
		return nil, fmt.Errorf("reading subtitle: %w", err)
	}
	return NewTrack(url, body)
}

// Loader runs fetches in the background. Each Load supersedes the previous
// one: a response that arrives after a newer Load or a Cancel is dropped.
type Loader struct {
	fetcher Fetcher

	mu  sync.Mutex
	gen uint64
}

func NewLoader(f Fetcher) *Loader {
	return &Loader{fetcher: f}
}

// Load fetches url and calls attach with the track, or with nil when the
// fetch failed. attach is only called while this request is the current
// one. Load never blocks.
func (l *Loader) Load(ctx context.Context, url string, attach func(*Track)) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	go func() {
		track, err := l.fetch(ctx, url)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Printf("subtitle: none at %s", url)
			} else {
				log.Printf("subtitle: %s: %v", url, err)
			}
			track = nil
		}

		if !l.current(gen) {
			return
		}
		attach(track)
	}()
}

// Cancel drops whatever is in flight.
func (l *Loader) Cancel() {
	l.mu.Lock()
	l.gen++
	l.mu.Unlock()
}

func (l *Loader) fetch(ctx context.Context, url string) (track *Track, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.fetcher.Fetch(ctx, url)
}

func (l *Loader) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.gen
}
