// Package storage resolves preview paths to files. A path always starts with
// "/"; how the rest is interpreted depends on the backend.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"mediapreview/models"
)

var (
	ErrNotFound = errors.New("file not found")
	ErrIsDir    = errors.New("path is a directory")
)

// Backend is a source of previewable files.
type Backend interface {
	Name() string
	Stat(ctx context.Context, p string) (models.FileDescriptor, error)
	Open(ctx context.Context, p string) (io.ReadCloser, error)
}

// Locator is implemented by backends whose files live on the local disk.
type Locator interface {
	LocalPath(p string) (string, error)
}

// Presigner is implemented by backends that can hand out a time-limited
// direct URL instead of proxying bytes.
type Presigner interface {
	PresignGet(ctx context.Context, p, downloadName string, expiry time.Duration) (string, error)
}
