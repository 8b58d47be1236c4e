package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
)

// BareSurface is a playback surface without a source element. A decoder
// writes the stream it produces into it; *io.PipeWriter satisfies it.
type BareSurface interface {
	io.Writer
	CloseWithError(err error) error
}

// Decoder is a runtime transcoder attached to exactly one surface.
type Decoder interface {
	Attach(surface BareSurface, sourceURL string) error
	Detach() error
}

// Factory builds a fresh Decoder from a loaded module.
type Factory func() Decoder

// Module is a decoder implementation that has to be loaded before use.
type Module interface {
	Name() string
	Load(ctx context.Context) (Factory, error)
}

var (
	ErrAttached    = errors.New("decoder already attached")
	ErrNotStarted  = errors.New("decoder module load not started")
	ErrLoadDropped = errors.New("decoder module load superseded")
)

// Status is the observable state of a module load.
type Status int

const (
	Idle Status = iota
	Pending
	Ready
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Loader loads a Module in the background. Every Start stamps the load with
// a generation; a result arriving after Reset or a newer Start is dropped.
type Loader struct {
	module Module

	mu      sync.Mutex
	gen     uint64
	status  Status
	factory Factory
	err     error
	done    chan struct{}
}

func NewLoader(m Module) *Loader {
	return &Loader{module: m}
}

// Start begins loading. onDone, when non-nil, runs once with the result if
// this load is still current when it finishes.
func (l *Loader) Start(ctx context.Context, onDone func(Factory, error)) {
	l.mu.Lock()
	l.closeDoneLocked()
	l.gen++
	gen := l.gen
	l.status = Pending
	l.factory, l.err = nil, nil
	l.done = make(chan struct{})
	l.mu.Unlock()

	go func() {
		var (
			f   Factory
			err error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("load %s: panic: %v", l.module.Name(), r)
				}
			}()
			f, err = l.module.Load(ctx)
		}()

		l.mu.Lock()
		if gen != l.gen {
			l.mu.Unlock()
			log.Printf("decoder: dropped stale %s load (generation %d)", l.module.Name(), gen)
			return
		}
		if err != nil {
			l.status, l.err = Failed, err
		} else {
			l.status, l.factory = Ready, f
		}
		l.closeDoneLocked()
		l.mu.Unlock()

		if onDone != nil {
			onDone(f, err)
		}
	}()
}

// Status reports the current load state and, when Failed, its error.
func (l *Loader) Status() (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status, l.err
}

// Wait blocks until the current load resolves or ctx ends.
func (l *Loader) Wait(ctx context.Context) (Factory, error) {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()
	if done == nil {
		return nil, ErrNotStarted
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.status {
	case Ready:
		return l.factory, nil
	case Failed:
		return nil, l.err
	}
	return nil, ErrLoadDropped
}

// Reset abandons any in-flight load and returns to Idle.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.gen++
	l.status, l.factory, l.err = Idle, nil, nil
	l.closeDoneLocked()
	l.done = nil
	l.mu.Unlock()
}

func (l *Loader) closeDoneLocked() {
	if l.done == nil {
		return
	}
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
