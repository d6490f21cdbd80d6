package loaders

import "github.com/osa030/audiofeed/internal/domain/audio"

// EventType represents a loaders event type.
type EventType int

const (
	EventError       EventType = iota // Loading failed for ID
	EventNeedToCheck                  // Playback (re)started, device state should be polled
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventError:
		return "error"
	case EventNeedToCheck:
		return "need_to_check"
	default:
		return "unknown"
	}
}

// Event represents a loaders event.
type Event struct {
	Type EventType
	ID   audio.MsgID // Empty for EventNeedToCheck
	Err  error
}
