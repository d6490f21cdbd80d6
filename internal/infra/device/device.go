// Package device provides the audio output capability: a process-wide device
// handing out per-track streams, each with a fixed ring of buffer slots.
package device

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

// Errors
var (
	ErrDisconnected      = errors.New("output device disconnected")
	ErrClosed            = errors.New("stream closed")
	ErrBadSlot           = errors.New("invalid buffer slot")
	ErrSlotQueued        = errors.New("buffer slot already queued")
	ErrUnsupportedFormat = errors.New("unsupported sample format")
)

// SourceState represents the state the device reports for a stream.
type SourceState int

const (
	SourceInitial SourceState = iota // Never played since the last reset
	SourcePlaying                    // Consuming queued slots
	SourcePaused                     // Paused, keeps its position
	SourceStopped                    // Stopped, or ran out of queued data
)

// String returns the string representation of the source state.
func (s SourceState) String() string {
	switch s {
	case SourceInitial:
		return "initial"
	case SourcePlaying:
		return "playing"
	case SourcePaused:
		return "paused"
	case SourceStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stream is one playback source with a fixed number of buffer slots.
// Every method may fail and callers must check the error.
type Stream interface {
	// Slots returns the size of the buffer ring.
	Slots() int
	// FreeSlot returns the index of a slot that is not queued, or -1 when all are.
	FreeSlot() (int, error)
	// Submit copies samples into slot.
	Submit(slot int, format audio.Format, samples []byte, frequency int) error
	// Queue appends slot to the play queue.
	Queue(slot int) error
	// UnqueueProcessed removes the slots that have been played completely and returns them in play order.
	UnqueueProcessed() ([]int, error)
	// SampleOffset returns the play position in sample frames from the start of the first queued slot.
	SampleOffset() (int64, error)
	State() (SourceState, error)
	SetGain(gain float64) error
	// SeekSample moves the play position, relative to the first queued slot.
	SeekSample(offset int64) error
	Play() error
	Pause() error
	// Stop stops playback; every queued slot counts as processed afterwards.
	Stop() error
	// Reset stops playback and unqueues every slot.
	Reset() error
	Close() error
}

// OutputDevice is the audio device shared by every track.
type OutputDevice interface {
	// Attach opens the device if needed.
	Attach() error
	// Connected reports whether the device is still available.
	Connected() bool
	// NewStream creates a stream for one track.
	NewStream() (Stream, error)
}
