// Package session ties a previewed file to everything playing it: resolved
// URLs, the selected strategy, the player state machine, captions, the
// decoder for transcoded playback and the export panel.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"mediapreview/export"
	"mediapreview/models"
	"mediapreview/player"
	"mediapreview/resource"
	"mediapreview/strategy"
	"mediapreview/subtitle"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrStreamTaken     = errors.New("stream already taken")
	ErrNoStream        = errors.New("no transcoded stream")
	ErrUnknownEvent    = errors.New("unknown media event")
)

// ViewKind is what the page should render in place of the player.
type ViewKind string

const (
	ViewLoading ViewKind = "loading"
	ViewPlayer  ViewKind = "player"
	ViewFailed  ViewKind = "failed"
)

type View struct {
	Kind  ViewKind `json:"kind"`
	Error string   `json:"error,omitempty"`
}

// Options are shared by every session a Manager opens.
type Options struct {
	Registry *strategy.Registry
	// Subtitles fetches caption tracks. Nil disables captions.
	Subtitles subtitle.Fetcher
	// Origin is the absolute base URL of direct links.
	Origin string
	// SourceOrigin is where decoders read the raw URL from. Defaults to
	// Origin.
	SourceOrigin string

	Clipboard  export.Clipboard
	Notifier   export.Notifier
	Customizer export.Customizer
}

// Snapshot is the JSON view of a session.
type Snapshot struct {
	ID       string                `json:"id"`
	Path     string                `json:"path"`
	File     models.FileDescriptor `json:"file"`
	URLs     resource.Set          `json:"urls"`
	Strategy string                `json:"strategy"`
	Playback strategy.Playback     `json:"playback"`
	View     View                  `json:"view"`
	Player   player.Snapshot       `json:"player"`
	Captions bool                  `json:"captions"`
	Export   export.State          `json:"export"`
}

// Session is one preview. All mutation happens under mu; background work
// reports back through callbacks stamped with the generation current when
// it was started, so results that outlive a navigation are dropped.
type Session struct {
	ID string

	opts    *Options
	machine *player.Machine
	feed    *player.Feed
	subs    *subtitle.Loader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	gen      uint64
	closed   bool
	lastSeen time.Time

	file     models.FileDescriptor
	path     string
	token    string
	urls     resource.Set
	strat    strategy.Strategy
	playback strategy.Playback
	view     View
	captions *subtitle.Track
	panel    *export.Panel

	stream      io.ReadCloser
	streamTaken bool

	// release holds the teardown for everything acquired for the current
	// file, run last-in first-out.
	release []func()
}

func newSession(ctx context.Context, id string, opts *Options) *Session {
	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		ID:       id,
		opts:     opts,
		machine:  player.NewMachine(),
		feed:     player.NewFeed(),
		ctx:      sctx,
		cancel:   cancel,
		lastSeen: time.Now(),
	}
	if opts.Subtitles != nil {
		s.subs = subtitle.NewLoader(opts.Subtitles)
	}
	return s
}

// startLocked builds the pipeline for file. Must be called with s.mu held and
// with the previous pipeline already released.
func (s *Session) startLocked(file models.FileDescriptor, p string) {
	s.gen++
	gen := s.gen

	s.file, s.path = file, p
	s.urls = resource.Resolve(resource.EscapePath(p), s.token)
	s.strat = s.opts.Registry.Select(file)
	s.playback = s.strat.Prepare(file, s.urls)
	s.captions = nil
	s.stream, s.streamTaken = nil, false
	s.panel = &export.Panel{
		Origin:     s.opts.Origin,
		Path:       p,
		Token:      s.token,
		Clipboard:  s.opts.Clipboard,
		Notifier:   s.opts.Notifier,
		Customizer: s.opts.Customizer,
	}

	s.machine.Reset()
	s.push(s.machine.Attach(s.feed))

	if s.subs != nil && file.IsVideo() {
		s.subs.Load(s.ctx, s.urls.Subtitle, func(tr *subtitle.Track) { s.attachCaptions(gen, tr) })
		s.push(s.subs.Cancel)
	}

	ds, ok := s.strat.(strategy.DecoderStrategy)
	if !ok {
		s.view = View{Kind: ViewPlayer}
		return
	}

	s.view = View{Kind: ViewLoading}
	loader := strategy.NewLoader(ds.DecoderModule())
	s.push(loader.Reset)
	loader.Start(s.ctx, func(f strategy.Factory, err error) { s.decoderLoaded(gen, f, err) })
}

func (s *Session) attachCaptions(gen uint64, tr *subtitle.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	s.captions = tr
}

// decoderLoaded builds the bare surface once the module is available and
// attaches a fresh decoder to it.
func (s *Session) decoderLoaded(gen uint64, f strategy.Factory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return
	}
	if err != nil {
		log.Printf("session failed  id=%s  strategy=%-9s  err=%v", s.ID, s.strat.Name(), err)
		s.view = View{Kind: ViewFailed, Error: err.Error()}
		return
	}

	pr, pw := io.Pipe()
	dec := f()
	base := s.opts.SourceOrigin
	if base == "" {
		base = s.opts.Origin
	}
	src := resource.Absolute(base, s.urls.Raw)
	if err := dec.Attach(pw, src); err != nil {
		pw.CloseWithError(err)
		log.Printf("session failed  id=%s  strategy=%-9s  err=%v", s.ID, s.strat.Name(), err)
		s.view = View{Kind: ViewFailed, Error: err.Error()}
		return
	}
	s.stream = pr
	s.push(func() {
		if err := dec.Detach(); err != nil {
			log.Printf("session: detach decoder: %v", err)
		}
		pr.Close()
	})
	s.view = View{Kind: ViewPlayer}
}

func (s *Session) push(fn func()) {
	s.release = append(s.release, fn)
}

// releaseLocked unwinds everything acquired for the current file and
// advances the generation so callbacks still in flight are ignored.
func (s *Session) releaseLocked() {
	s.gen++
	for i := len(s.release) - 1; i >= 0; i-- {
		s.release[i]()
	}
	s.release = nil
}

// Navigate switches the session to another file. The token is kept.
func (s *Session) Navigate(_ context.Context, file models.FileDescriptor, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.releaseLocked()
	s.startLocked(file, p)
	s.lastSeen = time.Now()
	log.Printf("session nav     id=%s  strategy=%-9s  file=%s", s.ID, s.strat.Name(), p)
	return nil
}

// Close releases the decoder and every listener. Safe to call more than
// once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.releaseLocked()
	s.mu.Unlock()

	s.machine.Close()
	s.cancel()
}

// View reports what the page should show right now.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) State() player.State { return s.machine.State() }

func (s *Session) Machine() *player.Machine { return s.machine }

// AttachSource makes src the session's event source in place of the
// HTTP feed until the next navigation.
func (s *Session) AttachSource(src player.Source) (detach func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	detach = s.machine.Attach(src)
	s.push(detach)
	return detach
}

// Listeners is the number of sources subscribed to the session's event
// feed: one while open, zero once closed.
func (s *Session) Listeners() int { return s.feed.Listeners() }

// Dispatch publishes a media-element event by its DOM name.
func (s *Session) Dispatch(name string, volume float64) error {
	ev, ok := player.ParseEvent(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	s.mu.Lock()
	closed := s.closed
	s.lastSeen = time.Now()
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.feed.Publish(player.Signal{Event: ev, Volume: volume})
	return nil
}

// Stream hands out the transcoded stream. Only one caller ever gets it.
func (s *Session) Stream() (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return nil, ErrSessionClosed
	case s.stream == nil:
		return nil, ErrNoStream
	case s.streamTaken:
		return nil, ErrStreamTaken
	}
	s.streamTaken = true
	s.lastSeen = time.Now()
	return s.stream, nil
}

// Captions returns the attached caption track, or nil.
func (s *Session) Captions() *subtitle.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captions
}

// Panel returns the export panel for the current file.
func (s *Session) Panel() *export.Panel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panel
}

func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Session) Playback() strategy.Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		ID:       s.ID,
		Path:     s.path,
		File:     s.file,
		URLs:     s.urls,
		Strategy: s.strat.Name(),
		Playback: s.playback,
		View:     s.view,
		Captions: s.captions != nil,
	}
	panel := s.panel
	s.mu.Unlock()

	snap.Player = s.machine.Snapshot()
	if panel != nil {
		snap.Export = panel.State()
	}
	return snap
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}
