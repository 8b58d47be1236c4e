package storage

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// mediaExtensions is checked before the OS MIME registry. Many systems
// either lack entries for these containers or map them to types browsers
// do not recognise (e.g. .mkv missing, .ts -> text/vnd.trolltech.linguist).
var mediaExtensions = map[string]string{
	// --- video ---
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".ogv":  "video/ogg",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".f4v":  "video/x-f4v",
	".ts":   "video/mp2t",
	".m2ts": "video/mp2t",
	".mpg":  "video/mpeg",
	".mpeg": "video/mpeg",
	".3gp":  "video/3gpp",
	".rm":   "application/vnd.rn-realmedia",
	".rmvb": "application/vnd.rn-realmedia-vbr",

	// --- audio ---
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".weba": "audio/webm",
	".wma":  "audio/x-ms-wma",
	".aiff": "audio/aiff",
	".aif":  "audio/aiff",

	// --- sidecars ---
	".vtt": "text/vtt",
	".srt": "application/x-subrip",
	".md":  "text/markdown",
	".org": "text/x-org",

	// --- cover art ---
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// MIMETypeForName resolves a type from the file name alone: the media table
// first, then the OS registry, then application/octet-stream.
func MIMETypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "application/octet-stream"
	}
	if t, ok := mediaExtensions[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// MIMETypeForFile is MIMETypeForName with content sniffing for files the
// name does not identify.
func MIMETypeForFile(fsPath string) string {
	if t := MIMETypeForName(fsPath); t != "application/octet-stream" {
		return t
	}
	return sniffMIME(fsPath)
}

// sniffMIME reads up to 512 bytes and defers to http.DetectContentType,
// which recognises the common audio/video signatures (MP4, WebM, Ogg,
// WAV, MP3 with ID3).
func sniffMIME(fsPath string) string {
	f, err := os.Open(fsPath)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	if n == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(buf[:n])
}

// IsMedia reports whether the type is audio or video.
func IsMedia(mimeType string) bool {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	return strings.HasPrefix(base, "video/") || strings.HasPrefix(base, "audio/") ||
		strings.HasPrefix(base, "application/vnd.rn-realmedia")
}
