// Package player turns media-element lifecycle events into a small player
// state.
//
// The state machine never talks to a platform API. Surfaces (a browser page
// posting events, an mpv IPC socket, a test) implement Source and push
// Signals; the Machine reduces them.
package player

import "strings"

// State is the coarse lifecycle of a playback surface.
type State int

const (
	Loading State = iota
	Ready
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// MarshalText lets snapshots carry the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is a native media-element callback.
type Event int

const (
	CanPlay Event = iota + 1
	Play
	PlayingEvent
	Pause
	Ended
	Seeking
	Waiting
	Stalled
	Error
	VolumeChange
)

var eventNames = map[string]Event{
	"canplay":      CanPlay,
	"play":         Play,
	"playing":      PlayingEvent,
	"pause":        Pause,
	"ended":        Ended,
	"seeking":      Seeking,
	"waiting":      Waiting,
	"stalled":      Stalled,
	"error":        Error,
	"volumechange": VolumeChange,
}

// ParseEvent maps a DOM event name ("canplay", "onwaiting", ...) to an Event.
func ParseEvent(name string) (Event, bool) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "on")
	e, ok := eventNames[name]
	return e, ok
}

func (e Event) String() string {
	for name, ev := range eventNames {
		if ev == e {
			return name
		}
	}
	return "unknown"
}

// Reduce returns the state that follows s after e.
//
// Loading is re-entered on every suspension point. Pause, end of media and
// element errors all land in Paused.
func Reduce(s State, e Event) State {
	switch e {
	case CanPlay:
		return Ready
	case Play, PlayingEvent:
		return Playing
	case Pause, Ended, Error:
		return Paused
	case Seeking, Waiting, Stalled:
		return Loading
	}
	return s
}
