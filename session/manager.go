package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediapreview/models"
)

// Manager owns every open session and reaps the ones nobody has touched
// for longer than the TTL.
type Manager struct {
	opts Options
	ttl  time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	stop chan struct{}
	done chan struct{}
}

// NewManager starts the reaper when ttl is positive.
func NewManager(opts Options, ttl time.Duration) *Manager {
	m := &Manager{
		opts:     opts,
		ttl:      ttl,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go m.reap()
	} else {
		close(m.done)
	}
	return m
}

// Open starts a session for file at path p.
func (m *Manager) Open(ctx context.Context, file models.FileDescriptor, p, token string) (*Session, error) {
	if m.opts.Registry == nil {
		return nil, errors.New("session: no strategy registry configured")
	}

	s := newSession(ctx, uuid.NewString(), &m.opts)
	s.mu.Lock()
	s.token = token
	s.startLocked(file, p)
	name := s.strat.Name()
	s.mu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return nil, ErrSessionClosed
	}
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	log.Printf("session open    id=%s  strategy=%-9s  open=%-3d  file=%s", s.ID, name, n, p)
	return s, nil
}

// Get returns the session and marks it as in use.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch()
	return s, nil
}

// Close closes and forgets one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	log.Printf("session close   id=%s  open=%-3d", id, n)
	return nil
}

// CloseAll stops the reaper and closes every session. Open fails
// afterwards.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	close(m.stop)
	<-m.done
	for _, s := range all {
		s.Close()
	}
	if len(all) > 0 {
		log.Printf("session: closed %d open session(s)", len(all))
	}
}

// Len reports how many sessions are open.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) reap() {
	defer close(m.done)
	interval := m.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-t.C:
			m.reapIdle(now)
		}
	}
}

func (m *Manager) reapIdle(now time.Time) {
	m.mu.Lock()
	var idle []*Session
	for id, s := range m.sessions {
		if now.Sub(s.idleSince()) > m.ttl {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Close()
		log.Printf("session expire  id=%s  file=%s", s.ID, s.Path())
	}
}
