// Package models defines data structures used throughout the server.
package models

import (
	"html/template"
	"path"
	"strings"
	"time"
)

// FileDescriptor describes the media file a preview is about. It is
// produced by the storage backend and never modified afterwards.
type FileDescriptor struct {
	Name         string     `json:"name"`
	MIMEType     string     `json:"mimeType,omitempty"`
	LastModified time.Time  `json:"lastModifiedDateTime"`
	Size         int64      `json:"size"`
	Video        *VideoInfo `json:"video,omitempty"`
}

// VideoInfo holds the frame size of a video file, when known.
type VideoInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Ext returns the lower-cased extension of the file name without the dot.
func (f FileDescriptor) Ext() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(f.Name)), ".")
}

// IsVideo reports whether the descriptor names a video file.
func (f FileDescriptor) IsVideo() bool {
	return f.Video != nil || strings.HasPrefix(f.MIMEType, "video/")
}

// IsAudio reports whether the descriptor names an audio file.
func (f FileDescriptor) IsAudio() bool {
	return strings.HasPrefix(f.MIMEType, "audio/")
}

// Breadcrumb is one segment of the path shown in the navigation bar.
type Breadcrumb struct {
	Name string
	Path string // URL path for this breadcrumb
}

// PreviewPage holds everything the preview template needs.
type PreviewPage struct {
	Title    string
	SiteName string
	FilePath string
	File     FileDescriptor

	// IsAudio / IsVideo select the player markup. Exactly one is true.
	IsAudio bool
	IsVideo bool

	// SessionID identifies the preview session the page script reports
	// media-element events to.
	SessionID string
	// View is "loading", "player" or "failed".
	View      string
	ViewError string

	// Sources is empty for transcoded playback, which reads StreamURL.
	Sources   []PlaybackSource
	StreamURL string
	MIMEType  string

	ThumbnailURL string
	CaptionsURL  string
	DownloadURL  string
	DirectLink   string

	// Notes is the rendered sidecar description (movie.md next to
	// movie.mp4), when one exists.
	Notes template.HTML

	Breadcrumbs []Breadcrumb
}

// PlaybackSource is one <source> element of a native player.
type PlaybackSource struct {
	Src  string `json:"src"`
	Type string `json:"type"`
}

// Stats is the public view of the persisted counters.
type Stats struct {
	RawDownloads int64 `json:"raw_downloads"`
	RawBytes     int64 `json:"raw_bytes"`
	LinksCopied  int64 `json:"links_copied"`
}
