package player

import (
	"sync"
)

// Signal is one event reported by a surface. Volume is only read for
// VolumeChange.
type Signal struct {
	Event  Event
	Volume float64
}

// Source is anything that reports media-element events.
// Subscribe registers fn and returns the function that removes it.
type Source interface {
	Subscribe(fn func(Signal)) (cancel func())
}

// Snapshot is a point-in-time view of a Machine.
type Snapshot struct {
	State  State   `json:"state"`
	Volume float64 `json:"volume"`
	// Failed is set when the last transition into Paused came from an
	// element error.
	Failed bool `json:"failed"`
}

// Machine reduces the signals of at most one attached Source.
type Machine struct {
	attachMu sync.Mutex

	mu       sync.Mutex
	state    State
	volume   float64
	failed   bool
	gen      uint64
	detach   func()
	watchers map[int]func(Snapshot)
	nextID   int
}

// NewMachine returns a machine in Loading at full volume.
func NewMachine() *Machine {
	return &Machine{
		state:    Loading,
		volume:   1,
		watchers: make(map[int]func(Snapshot)),
	}
}

// Attach subscribes to src and returns the detach function. A previously
// attached source is detached first. Signals delivered by a source after it
// has been detached are ignored.
func (m *Machine) Attach(src Source) (detach func()) {
	m.attachMu.Lock()
	defer m.attachMu.Unlock()

	m.mu.Lock()
	prev := m.detach
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if prev != nil {
		prev()
	}

	cancel := src.Subscribe(func(sig Signal) { m.dispatch(gen, sig) })

	var once sync.Once
	detach = func() {
		once.Do(func() {
			cancel()
			m.mu.Lock()
			if m.gen == gen {
				m.gen++
				m.detach = nil
			}
			m.mu.Unlock()
		})
	}

	m.mu.Lock()
	m.detach = detach
	m.mu.Unlock()
	return detach
}

// Close detaches the current source, if any.
func (m *Machine) Close() {
	m.mu.Lock()
	d := m.detach
	m.mu.Unlock()
	if d != nil {
		d()
	}
}

// Reset returns the machine to Loading without touching the volume. Used
// when the surface starts over with a different file.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.state = Loading
	m.failed = false
	snap, watchers := m.snapshotLocked(), m.watcherList()
	m.mu.Unlock()
	notify(watchers, snap)
}

// Watch registers fn to be called after every state or volume change.
func (m *Machine) Watch(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Volume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Dispatch feeds a signal directly, bypassing any attached source.
func (m *Machine) Dispatch(sig Signal) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.dispatch(gen, sig)
}

func (m *Machine) dispatch(gen uint64, sig Signal) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	before := m.snapshotLocked()

	switch sig.Event {
	case VolumeChange:
		m.volume = clamp(sig.Volume)
	case Error:
		m.failed = true
	case CanPlay, Play, PlayingEvent:
		m.failed = false
	}
	m.state = Reduce(m.state, sig.Event)

	after := m.snapshotLocked()
	var watchers []func(Snapshot)
	if after != before {
		watchers = m.watcherList()
	}
	m.mu.Unlock()

	notify(watchers, after)
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{State: m.state, Volume: m.volume, Failed: m.failed}
}

func (m *Machine) watcherList() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w)
	}
	return out
}

func notify(watchers []func(Snapshot), snap Snapshot) {
	for _, w := range watchers {
		w(snap)
	}
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
