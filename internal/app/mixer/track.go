package mixer

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
)

// TrackState is the externally visible part of a track.
type TrackState struct {
	ID        audio.MsgID
	State     audio.State
	Position  int64 // sample frames
	Length    int64 // sample frames
	Frequency int
}

// Track is the shared playback state of one track slot.
// Every field is guarded by the mixer lock.
type Track struct {
	State TrackState
	Media audio.Media

	Loading bool
	Loaded  bool
	// LoadRequested is set while a Load for the current id is queued.
	LoadRequested bool

	Format    audio.Format
	Frequency int

	BufferedPosition  int64
	BufferedLength    int64
	FadeStartPosition int64

	// Per buffer slot bookkeeping, indexed like the stream's slots.
	BufferSamples [][]byte
	SamplesCount  []int64

	Stream device.Stream
}

// Started resets buffering for a fresh start of the current id.
func (t *Track) Started() {
	t.resetStream()
	t.BufferedPosition = 0
	t.BufferedLength = 0
	t.Loaded = false
	t.FadeStartPosition = 0
	t.Format = audio.Format{}
	t.Frequency = 0
	t.clearSlots()
}

// Clear forgets everything about the current id. The stream is kept for reuse.
func (t *Track) Clear() {
	t.resetStream()
	t.State = TrackState{}
	t.Media = audio.Media{}
	t.Loading = false
	t.Loaded = false
	t.LoadRequested = false
	t.Format = audio.Format{}
	t.Frequency = 0
	t.BufferedPosition = 0
	t.BufferedLength = 0
	t.FadeStartPosition = 0
	t.clearSlots()
}

func (t *Track) resetStream() {
	if t.Stream != nil {
		_ = t.Stream.Reset()
	}
}

func (t *Track) clearSlots() {
	for i := range t.SamplesCount {
		t.BufferSamples[i] = nil
		t.SamplesCount[i] = 0
	}
}

// EnsureStreamCreated creates the device stream on first use.
func (t *Track) EnsureStreamCreated(dev device.OutputDevice) error {
	if t.Stream != nil {
		return nil
	}
	stream, err := dev.NewStream()
	if err != nil {
		return errors.Wrap(err, "failed to create stream")
	}
	t.Stream = stream
	t.BufferSamples = make([][]byte, stream.Slots())
	t.SamplesCount = make([]int64, stream.Slots())
	return nil
}

// unqueueProcessed takes played slots off the stream and moves the buffered
// window forward. It returns the number of freed slots.
func (t *Track) unqueueProcessed() (int, error) {
	if t.Stream == nil {
		return 0, nil
	}
	slots, err := t.Stream.UnqueueProcessed()
	if err != nil {
		return 0, err
	}
	for _, slot := range slots {
		t.BufferedPosition += t.SamplesCount[slot]
		t.BufferedLength -= t.SamplesCount[slot]
		t.BufferSamples[slot] = nil
		t.SamplesCount[slot] = 0
	}
	return len(slots), nil
}

// NotQueuedBufferIndex returns a slot that can receive samples, or -1 when all are queued.
func (t *Track) NotQueuedBufferIndex() (int, error) {
	if t.Stream == nil {
		return -1, errors.New("track has no stream")
	}
	if _, err := t.unqueueProcessed(); err != nil {
		return -1, err
	}
	return t.Stream.FreeSlot()
}

// Snapshot returns a copy of the visible state.
func (t *Track) Snapshot() TrackState {
	return t.State
}
