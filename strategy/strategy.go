// Package strategy decides how a media file is played: handed to the
// surface as a plain source, or fed through a runtime decoder for
// containers the browser cannot decode.
package strategy

import (
	"strings"
	"sync"

	"mediapreview/models"
	"mediapreview/resource"
)

// Kind names a playback path.
type Kind string

const (
	Native    Kind = "native"
	Transcode Kind = "transcode"
)

// Playback describes what a surface has to be given. Transcoded playback
// carries no sources; the decoder feeds a bare surface instead.
type Playback struct {
	Kind     Kind                    `json:"kind"`
	Sources  []models.PlaybackSource `json:"sources,omitempty"`
	MIMEType string                  `json:"mimeType"`
	Title    string                  `json:"title"`
}

// Strategy prepares playback for one family of containers.
type Strategy interface {
	Name() string
	Kind() Kind
	Prepare(file models.FileDescriptor, urls resource.Set) Playback
}

// DecoderStrategy is a strategy whose playback needs a decoder module.
type DecoderStrategy interface {
	Strategy
	DecoderModule() Module
}

// audioExts are containers that default to audio/mpeg when the file has no
// usable MIME type.
var audioExts = map[string]bool{
	"mp3": true, "m4a": true, "aac": true, "flac": true, "ogg": true,
	"oga": true, "opus": true, "wav": true, "weba": true,
}

// defaultMIME is audio/mpeg for audio files and video/mp4 for everything
// else.
func defaultMIME(file models.FileDescriptor) string {
	if file.IsAudio() || audioExts[file.Ext()] {
		return "audio/mpeg"
	}
	return "video/mp4"
}

// NativeStrategy hands the raw URL to a standard player as its only source.
type NativeStrategy struct{}

func (NativeStrategy) Name() string { return "html5" }
func (NativeStrategy) Kind() Kind   { return Native }

func (NativeStrategy) Prepare(file models.FileDescriptor, urls resource.Set) Playback {
	mime := file.MIMEType
	if mime == "" || mime == "application/octet-stream" {
		mime = defaultMIME(file)
	}
	return Playback{
		Kind:     Native,
		Sources:  []models.PlaybackSource{{Src: urls.Raw, Type: mime}},
		MIMEType: mime,
		Title:    file.Name,
	}
}

// TranscodeStrategy routes playback through a decoder loaded from Module.
type TranscodeStrategy struct {
	Module Module
	// OutputType is the MIME type the decoder produces.
	OutputType string
}

func (t TranscodeStrategy) Name() string          { return t.Module.Name() }
func (TranscodeStrategy) Kind() Kind              { return Transcode }
func (t TranscodeStrategy) DecoderModule() Module { return t.Module }

func (t TranscodeStrategy) Prepare(file models.FileDescriptor, _ resource.Set) Playback {
	out := t.OutputType
	if out == "" {
		out = "video/mp4"
	}
	return Playback{Kind: Transcode, MIMEType: out, Title: file.Name}
}

// Registry maps container extensions and MIME types to strategies.
// Anything unregistered plays natively.
type Registry struct {
	mu       sync.RWMutex
	byExt    map[string]Strategy
	byMIME   map[string]Strategy
	fallback Strategy
}

func NewRegistry() *Registry {
	return &Registry{
		byExt:    make(map[string]Strategy),
		byMIME:   make(map[string]Strategy),
		fallback: NativeStrategy{},
	}
}

// Default registers module as the decoder for every extension in exts and
// for the FLV MIME type.
func Default(module Module, exts []string) *Registry {
	r := NewRegistry()
	ts := TranscodeStrategy{Module: module, OutputType: "video/mp4"}
	for _, ext := range exts {
		r.Register(ext, ts)
	}
	r.RegisterMIME("video/x-flv", ts)
	return r
}

// Register binds ext (with or without the leading dot) to s.
func (r *Registry) Register(ext string, s Strategy) {
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	r.mu.Lock()
	r.byExt[ext] = s
	r.mu.Unlock()
}

// RegisterMIME binds a declared MIME type to s.
func (r *Registry) RegisterMIME(mime string, s Strategy) {
	r.mu.Lock()
	r.byMIME[strings.ToLower(mime)] = s
	r.mu.Unlock()
}

// Select returns the strategy for file: by extension first, then by
// declared MIME type, then the native fallback.
func (r *Registry) Select(file models.FileDescriptor) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byExt[file.Ext()]; ok {
		return s
	}
	mime := strings.TrimSpace(strings.SplitN(strings.ToLower(file.MIMEType), ";", 2)[0])
	if s, ok := r.byMIME[mime]; ok {
		return s
	}
	return r.fallback
}

// Extensions lists the extensions that route away from native playback.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byExt))
	for ext, s := range r.byExt {
		if s.Kind() != Native {
			out = append(out, ext)
		}
	}
	return out
}
