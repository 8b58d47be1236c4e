package player

import (
	"sync"
	"testing"
)

var allStates = []State{Loading, Ready, Playing, Paused}

func TestReduceTable(t *testing.T) {
	tests := []struct {
		event Event
		want  State
	}{
		{CanPlay, Ready},
		{Play, Playing},
		{PlayingEvent, Playing},
		{Pause, Paused},
		{Ended, Paused},
		{Seeking, Loading},
		{Waiting, Loading},
		{Stalled, Loading},
		{Error, Paused},
	}
	for _, tt := range tests {
		for _, from := range allStates {
			if got := Reduce(from, tt.event); got != tt.want {
				t.Errorf("Reduce(%v, %v) = %v, want %v", from, tt.event, got, tt.want)
			}
		}
	}
}

func TestReduceVolumeChangeKeepsState(t *testing.T) {
	for _, from := range allStates {
		if got := Reduce(from, VolumeChange); got != from {
			t.Errorf("Reduce(%v, volumechange) = %v", from, got)
		}
	}
}

func TestReduceSequenceFromAnyState(t *testing.T) {
	seq := []Event{CanPlay, Play, Pause}
	want := []State{Ready, Playing, Paused}
	for _, from := range allStates {
		s := from
		for i, e := range seq {
			s = Reduce(s, e)
			if s != want[i] {
				t.Fatalf("from %v step %d: got %v, want %v", from, i, s, want[i])
			}
		}
	}
}

func TestParseEvent(t *testing.T) {
	tests := map[string]Event{
		"canplay":      CanPlay,
		"onwaiting":    Waiting,
		"Seeking":      Seeking,
		"volumechange": VolumeChange,
		" ended ":      Ended,
	}
	for in, want := range tests {
		got, ok := ParseEvent(in)
		if !ok || got != want {
			t.Errorf("ParseEvent(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParseEvent("timeupdate"); ok {
		t.Error("timeupdate should not be recognised")
	}
}

func TestMachineInitialState(t *testing.T) {
	m := NewMachine()
	snap := m.Snapshot()
	if snap.State != Loading || snap.Volume != 1 || snap.Failed {
		t.Errorf("unexpected initial snapshot %+v", snap)
	}
}

func TestMachineFollowsAttachedSource(t *testing.T) {
	feed := NewFeed()
	m := NewMachine()
	detach := m.Attach(feed)
	defer detach()

	feed.Publish(Signal{Event: CanPlay})
	if m.State() != Ready {
		t.Fatalf("state = %v, want ready", m.State())
	}
	feed.Publish(Signal{Event: Play})
	feed.Publish(Signal{Event: Seeking})
	if m.State() != Loading {
		t.Fatalf("seeking from playing: state = %v, want loading", m.State())
	}
	feed.Publish(Signal{Event: PlayingEvent})
	feed.Publish(Signal{Event: VolumeChange, Volume: 0.25})
	if m.State() != Playing || m.Volume() != 0.25 {
		t.Fatalf("got %v at %v, want playing at 0.25", m.State(), m.Volume())
	}
}

func TestMachineVolumeIsClamped(t *testing.T) {
	m := NewMachine()
	m.Dispatch(Signal{Event: VolumeChange, Volume: 3})
	if m.Volume() != 1 {
		t.Errorf("volume = %v, want 1", m.Volume())
	}
	m.Dispatch(Signal{Event: VolumeChange, Volume: -0.5})
	if m.Volume() != 0 {
		t.Errorf("volume = %v, want 0", m.Volume())
	}
}

func TestMachineErrorSetsFailedUntilPlayback(t *testing.T) {
	m := NewMachine()
	m.Dispatch(Signal{Event: Error})
	snap := m.Snapshot()
	if snap.State != Paused || !snap.Failed {
		t.Fatalf("after error: %+v", snap)
	}
	m.Dispatch(Signal{Event: Pause})
	if !m.Snapshot().Failed {
		t.Error("pause after error should keep failed")
	}
	m.Dispatch(Signal{Event: Play})
	if m.Snapshot().Failed {
		t.Error("play should clear failed")
	}
}

func TestDetachRemovesListener(t *testing.T) {
	feed := NewFeed()
	m := NewMachine()
	detach := m.Attach(feed)
	if feed.Listeners() != 1 {
		t.Fatalf("listeners = %d, want 1", feed.Listeners())
	}
	detach()
	detach() // idempotent
	if feed.Listeners() != 0 {
		t.Fatalf("listeners = %d after detach, want 0", feed.Listeners())
	}
	feed.Publish(Signal{Event: CanPlay})
	if m.State() != Loading {
		t.Errorf("detached machine moved to %v", m.State())
	}
}

func TestAttachReplacesPreviousSource(t *testing.T) {
	first, second := NewFeed(), NewFeed()
	m := NewMachine()
	m.Attach(first)
	m.Attach(second)

	if first.Listeners() != 0 {
		t.Errorf("first feed still has %d listeners", first.Listeners())
	}
	if second.Listeners() != 1 {
		t.Errorf("second feed has %d listeners, want 1", second.Listeners())
	}

	first.Publish(Signal{Event: Play})
	if m.State() != Loading {
		t.Errorf("old source changed state to %v", m.State())
	}
	second.Publish(Signal{Event: CanPlay})
	if m.State() != Ready {
		t.Errorf("state = %v, want ready", m.State())
	}

	m.Close()
	if second.Listeners() != 0 {
		t.Errorf("close left %d listeners", second.Listeners())
	}
}

func TestWatchReportsChangesOnly(t *testing.T) {
	m := NewMachine()
	var mu sync.Mutex
	var seen []State
	cancel := m.Watch(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s.State)
		mu.Unlock()
	})

	m.Dispatch(Signal{Event: CanPlay})
	m.Dispatch(Signal{Event: CanPlay})
	m.Dispatch(Signal{Event: Play})
	cancel()
	m.Dispatch(Signal{Event: Pause})

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != Ready || seen[1] != Playing {
		t.Errorf("seen = %v, want [ready playing]", seen)
	}
}

func TestResetReturnsToLoading(t *testing.T) {
	m := NewMachine()
	m.Dispatch(Signal{Event: VolumeChange, Volume: 0.4})
	m.Dispatch(Signal{Event: Error})
	m.Reset()
	snap := m.Snapshot()
	if snap.State != Loading || snap.Failed || snap.Volume != 0.4 {
		t.Errorf("after reset: %+v", snap)
	}
}
