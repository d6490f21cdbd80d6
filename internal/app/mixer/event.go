package mixer

import "github.com/osa030/audiofeed/internal/domain/audio"

// EventType represents a mixer event type.
type EventType int

const (
	EventStateChanged EventType = iota // Track state changed
	EventError                         // Loading or playback failed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents a mixer event.
type Event struct {
	Type  EventType
	ID    audio.MsgID
	State audio.State // State after the change
	Err   error       // Set for EventError
}
