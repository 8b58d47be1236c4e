package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"mediapreview/models"
)

// Local serves files from a set of named directories. The first path
// segment selects the root: "/movies/a.mp4" is a.mp4 inside the directory
// registered as "movies".
type Local struct {
	roots map[string]string
}

// NewLocal registers each directory under its root name.
func NewLocal(dirs []string) (*Local, error) {
	roots := make(map[string]string, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", d, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("directory %s: %w", d, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", d)
		}
		name := RootName(abs)
		if prev, dup := roots[name]; dup {
			return nil, fmt.Errorf("directories %s and %s share the root name %q", prev, abs, name)
		}
		roots[name] = abs
	}
	return &Local{roots: roots}, nil
}

// RootName derives a URL-safe root name from a directory path: its base
// name, lowercased, with spaces replaced by hyphens.
func RootName(dir string) string {
	base := filepath.Base(filepath.Clean(dir))
	base = strings.ToLower(base)
	return strings.ReplaceAll(base, " ", "-")
}

func (l *Local) Name() string { return "local" }

// Roots returns a copy of the root name to directory map.
func (l *Local) Roots() map[string]string {
	out := make(map[string]string, len(l.roots))
	for k, v := range l.roots {
		out[k] = v
	}
	return out
}

// RootNames returns the registered root names in order.
func (l *Local) RootNames() []string {
	names := make([]string, 0, len(l.roots))
	for n := range l.roots {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LocalPath translates p into an absolute filesystem path and rejects
// anything that would escape its root.
func (l *Local) LocalPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid path %q: %w", p, ErrNotFound)
	}

	parts := strings.SplitN(strings.TrimPrefix(path.Clean(p), "/"), "/", 2)
	rootFS, ok := l.roots[parts[0]]
	if !ok {
		return "", fmt.Errorf("unknown root %q: %w", parts[0], ErrNotFound)
	}

	var rel string
	if len(parts) > 1 {
		rel = parts[1]
	}
	fsPath := filepath.Clean(filepath.Join(rootFS, filepath.FromSlash(rel)))

	cleanRoot := filepath.Clean(rootFS)
	if fsPath != cleanRoot && !strings.HasPrefix(fsPath, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %w", ErrNotFound)
	}
	return fsPath, nil
}

func (l *Local) Stat(_ context.Context, p string) (models.FileDescriptor, error) {
	fsPath, err := l.LocalPath(p)
	if err != nil {
		return models.FileDescriptor{}, err
	}
	info, err := os.Stat(fsPath)
	if os.IsNotExist(err) {
		return models.FileDescriptor{}, ErrNotFound
	}
	if err != nil {
		return models.FileDescriptor{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if info.IsDir() {
		return models.FileDescriptor{}, ErrIsDir
	}
	return models.FileDescriptor{
		Name:         info.Name(),
		MIMEType:     MIMETypeForFile(fsPath),
		LastModified: info.ModTime(),
		Size:         info.Size(),
	}, nil
}

func (l *Local) Open(_ context.Context, p string) (io.ReadCloser, error) {
	fsPath, err := l.LocalPath(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fsPath)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}
