package device

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

type ringSlot struct {
	data      []byte
	frames    int64
	frequency int
	queued    bool
}

// RingStream is an in-memory Stream. Queued slots are consumed through Read,
// which makes it usable as the io.Reader of a pull-based audio backend.
type RingStream struct {
	mu sync.Mutex

	slots []ringSlot
	order []int // queued slots in play order
	head  int   // entries of order already played
	pos   int   // byte offset into order[head]

	format audio.Format
	state  SourceState
	gain   float64
	seeked bool
	closed bool
}

var _ Stream = (*RingStream)(nil)

// NewRingStream creates a stream with the given number of slots.
func NewRingStream(slots int) *RingStream {
	if slots < 1 {
		slots = 1
	}
	return &RingStream{
		slots: make([]ringSlot, slots),
		order: make([]int, 0, slots),
		state: SourceInitial,
		gain:  1,
	}
}

func (r *RingStream) Slots() int {
	return len(r.slots)
}

func (r *RingStream) FreeSlot() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return -1, ErrClosed
	}
	for i := range r.slots {
		if !r.slots[i].queued {
			return i, nil
		}
	}
	return -1, nil
}

func (r *RingStream) Submit(slot int, format audio.Format, samples []byte, frequency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if slot < 0 || slot >= len(r.slots) {
		return errors.Wrapf(ErrBadSlot, "slot %d", slot)
	}
	if r.slots[slot].queued {
		return errors.Wrapf(ErrSlotQueued, "slot %d", slot)
	}
	if !format.Valid() || frequency <= 0 {
		return errors.Wrapf(ErrUnsupportedFormat, "%+v at %d Hz", format, frequency)
	}
	if len(samples)%format.FrameSize() != 0 {
		return errors.Newf("sample data of %d bytes is not a whole number of frames", len(samples))
	}
	if len(r.order) > 0 && r.format != format {
		return errors.Wrapf(ErrUnsupportedFormat, "format %+v differs from queued %+v", format, r.format)
	}

	r.format = format
	r.slots[slot] = ringSlot{
		data:      append(r.slots[slot].data[:0], samples...),
		frames:    int64(len(samples) / format.FrameSize()),
		frequency: frequency,
	}
	return nil
}

func (r *RingStream) Queue(slot int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if slot < 0 || slot >= len(r.slots) {
		return errors.Wrapf(ErrBadSlot, "slot %d", slot)
	}
	if r.slots[slot].queued {
		return errors.Wrapf(ErrSlotQueued, "slot %d", slot)
	}
	r.slots[slot].queued = true
	r.order = append(r.order, slot)
	return nil
}

func (r *RingStream) UnqueueProcessed() ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if r.head == 0 {
		return nil, nil
	}
	processed := append([]int(nil), r.order[:r.head]...)
	for _, slot := range processed {
		r.slots[slot].queued = false
	}
	r.order = append(r.order[:0], r.order[r.head:]...)
	r.head = 0
	return processed, nil
}

func (r *RingStream) SampleOffset() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, ErrClosed
	}
	var offset int64
	for _, slot := range r.order[:r.head] {
		offset += r.slots[slot].frames
	}
	if r.head < len(r.order) && r.format.Valid() {
		offset += int64(r.pos / r.format.FrameSize())
	}
	return offset, nil
}

func (r *RingStream) State() (SourceState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return SourceStopped, ErrClosed
	}
	return r.state, nil
}

func (r *RingStream) SetGain(gain float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if gain < 0 {
		gain = 0
	}
	r.gain = gain
	return nil
}

// Gain returns the last gain set on the stream.
func (r *RingStream) Gain() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gain
}

func (r *RingStream) SeekSample(offset int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if offset < 0 {
		offset = 0
	}
	r.head, r.pos = 0, 0
	for r.head < len(r.order) && offset >= r.slots[r.order[r.head]].frames {
		offset -= r.slots[r.order[r.head]].frames
		r.head++
	}
	if r.head < len(r.order) {
		r.pos = int(offset) * r.format.FrameSize()
	}
	r.seeked = true
	return nil
}

func (r *RingStream) Play() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.state == SourceStopped && !r.seeked {
		r.head, r.pos = 0, 0
	}
	r.seeked = false
	r.state = SourcePlaying
	return nil
}

func (r *RingStream) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.state == SourcePlaying {
		r.state = SourcePaused
	}
	return nil
}

func (r *RingStream) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.stopLocked()
	return nil
}

func (r *RingStream) stopLocked() {
	r.state = SourceStopped
	r.head, r.pos = len(r.order), 0
	r.seeked = false
}

func (r *RingStream) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	for i := range r.slots {
		r.slots[i].queued = false
		r.slots[i].frames = 0
	}
	r.order = r.order[:0]
	r.head, r.pos = 0, 0
	r.state = SourceInitial
	r.seeked = false
	return nil
}

func (r *RingStream) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.state = SourceStopped
	return nil
}

// Read fills p with queued PCM. It never blocks: silence is produced while
// the stream is not playing, and running out of data stops the stream.
func (r *RingStream) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, io.EOF
	}

	n := 0
	for r.state == SourcePlaying && n < len(p) {
		if r.head >= len(r.order) {
			r.state = SourceStopped
			break
		}
		data := r.slots[r.order[r.head]].data
		copied := copy(p[n:], data[r.pos:])
		n += copied
		r.pos += copied
		if r.pos >= len(data) {
			r.head++
			r.pos = 0
		}
	}
	clear(p[n:])
	return len(p), nil
}

// Queued returns the number of slots in the play queue, processed or not.
func (r *RingStream) Queued() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
