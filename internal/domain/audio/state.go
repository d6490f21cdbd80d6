package audio

// State represents the playback state of a track.
type State int

const (
	StateStopped        State = iota // Nothing is playing
	StateStarting                    // Playback requested, first buffers loading
	StatePlaying                     // Device is playing
	StatePaused                      // Paused by the user
	StateResuming                    // Resume requested
	StateStoppedAtStart              // Failed before any sample was produced
	StateStoppedAtError              // Failed after playback started
	StateFinished                    // Played to the end
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateResuming:
		return "resuming"
	case StateStoppedAtStart:
		return "stopped_at_start"
	case StateStoppedAtError:
		return "stopped_at_error"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// IsStopped reports whether s is one of the terminal states.
func IsStopped(s State) bool {
	switch s {
	case StateStopped, StateStoppedAtStart, StateStoppedAtError, StateFinished:
		return true
	}
	return false
}

// IsActive reports whether the device is expected to be playing in state s.
func IsActive(s State) bool {
	switch s {
	case StateStarting, StateResuming, StatePlaying:
		return true
	}
	return false
}
