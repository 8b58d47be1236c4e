// Package resource builds the URLs a preview uses to fetch raw media,
// thumbnails and subtitles.
//
// Paths are placed into the query verbatim. Callers that hold a path with
// reserved characters escape it first with EscapePath; nothing here encodes
// a second time.
package resource

import (
	"net/url"
	"path"
	"strings"
)

// Size is a thumbnail size tier.
type Size string

const (
	Small  Size = "small"
	Medium Size = "medium"
	Large  Size = "large"
)

// ParseSize returns the tier named by s, or Medium for anything unknown.
func ParseSize(s string) Size {
	switch Size(strings.ToLower(strings.TrimSpace(s))) {
	case Small:
		return Small
	case Large:
		return Large
	}
	return Medium
}

// Set is the group of URLs resolved for one (path, token) pair.
type Set struct {
	Raw       string `json:"raw"`
	Thumbnail string `json:"thumbnail"`
	Subtitle  string `json:"subtitle,omitempty"`
}

// Raw returns /api/raw?path={path}[&odpt={token}].
func Raw(p, token string) string {
	return build("raw", p, "", token)
}

// Thumbnail returns /api/thumbnail?path={path}&size={size}[&odpt={token}].
func Thumbnail(p, token string, size Size) string {
	return build("thumbnail", p, ParseSize(string(size)), token)
}

// Subtitle returns the raw URL of the .vtt sibling of p.
func Subtitle(p, token string) string {
	return Raw(SubtitlePath(p), token)
}

// Resolve returns every URL for p. Thumbnails use the medium tier.
func Resolve(p, token string) Set {
	return Set{
		Raw:       Raw(p, token),
		Thumbnail: Thumbnail(p, token, Medium),
		Subtitle:  Subtitle(p, token),
	}
}

// SubtitlePath swaps the extension of p for .vtt. A path without an
// extension gets .vtt appended.
func SubtitlePath(p string) string {
	ext := path.Ext(p)
	if ext == "" || strings.HasSuffix(p, "/") {
		return p + ".vtt"
	}
	return strings.TrimSuffix(p, ext) + ".vtt"
}

// Absolute prefixes a relative resource URL with origin.
func Absolute(origin, rel string) string {
	return strings.TrimRight(origin, "/") + rel
}

// queryUnsafe covers what url.PathEscape leaves alone but a query value
// would misread.
var queryUnsafe = strings.NewReplacer("&", "%26", "+", "%2B", "=", "%3D")

// EscapePath escapes every segment of p so that reserved characters such
// as '&', '#', '?', '+' and '%' survive inside a query value. Slashes are
// kept.
func EscapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = queryUnsafe.Replace(url.PathEscape(s))
	}
	return strings.Join(segs, "/")
}

func build(kind, p string, size Size, token string) string {
	var b strings.Builder
	b.Grow(len(kind) + len(p) + len(token) + 32)
	b.WriteString("/api/")
	b.WriteString(kind)
	b.WriteString("?path=")
	b.WriteString(p)
	if size != "" {
		b.WriteString("&size=")
		b.WriteString(string(size))
	}
	if token != "" {
		b.WriteString("&odpt=")
		b.WriteString(token)
	}
	return b.String()
}
