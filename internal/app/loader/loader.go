// Package loader provides the per-track decoders that turn compressed audio
// into PCM sample chunks for the output device.
package loader

import (
	"github.com/osa030/audiofeed/internal/domain/audio"
)

// ReadResult is the outcome of one ReadMore call.
type ReadResult int

const (
	ReadOk        ReadResult = iota // Samples were appended
	ReadEndOfFile                   // Stream exhausted
	ReadError                       // Decoding failed
	ReadWait                        // No input available right now, try again later
)

// String returns the string representation of the result.
func (r ReadResult) String() string {
	switch r {
	case ReadOk:
		return "ok"
	case ReadEndOfFile:
		return "end_of_file"
	case ReadError:
		return "error"
	case ReadWait:
		return "wait"
	default:
		return "unknown"
	}
}

// Samples is decoded interleaved PCM. Count is the number of sample frames in Data.
type Samples struct {
	Data  []byte
	Count int64
}

// Len returns the size of the decoded data in bytes.
func (s *Samples) Len() int {
	return len(s.Data)
}

// Append adds samples after the existing ones.
func (s *Samples) Append(o Samples) {
	s.Data = append(s.Data, o.Data...)
	s.Count += o.Count
}

// Split cuts s after limit bytes, rounded down to a whole frame, and returns the remainder.
func (s *Samples) Split(limit, frameSize int) Samples {
	if frameSize <= 0 || len(s.Data) <= limit {
		return Samples{}
	}
	cut := limit - limit%frameSize
	rest := Samples{
		Data:  append([]byte(nil), s.Data[cut:]...),
		Count: int64((len(s.Data) - cut) / frameSize),
	}
	s.Data = s.Data[:cut]
	s.Count = int64(cut / frameSize)
	return rest
}

// Loader owns the codec state of one track.
type Loader interface {
	// Open prepares decoding from positionMs.
	Open(positionMs int64) error
	// Check reports whether the loader still decodes src.
	Check(src audio.Source) bool
	Format() audio.Format
	// SamplesCount returns the total length in sample frames.
	SamplesCount() int64
	SamplesFrequency() int
	// ReadMore appends the next decoded chunk to samples.
	ReadMore(samples *Samples) ReadResult

	HoldsSavedDecodedSamples() bool
	SaveDecodedSamples(samples Samples)
	TakeSavedDecodedSamples() Samples
	SetForceToBuffer(force bool)
	ForceToBuffer() bool

	Close() error
}

// PacketConsumer is implemented by loaders fed with demuxed packets.
type PacketConsumer interface {
	// EnqueuePackets takes ownership of packets, in playback order.
	EnqueuePackets(packets []audio.Packet)
}

// Factory creates loaders for new playback.
type Factory interface {
	NewFileLoader(src audio.Source) Loader
	NewVideoLoader(sound *audio.VideoSound) Loader
}

// DefaultFactory creates the beep-backed file loader and the codec-registry video loader.
type DefaultFactory struct{}

func (DefaultFactory) NewFileLoader(src audio.Source) Loader {
	return NewFileLoader(src)
}

func (DefaultFactory) NewVideoLoader(sound *audio.VideoSound) Loader {
	return NewVideoLoader(sound)
}

// saved keeps decoded samples that could not be handed to the device yet.
type saved struct {
	samples Samples
	holds   bool
	force   bool
}

func (s *saved) HoldsSavedDecodedSamples() bool {
	return s.holds
}

func (s *saved) SaveDecodedSamples(samples Samples) {
	s.samples.Append(samples)
	s.holds = true
}

func (s *saved) TakeSavedDecodedSamples() Samples {
	taken := s.samples
	s.samples = Samples{}
	s.holds = false
	return taken
}

func (s *saved) SetForceToBuffer(force bool) {
	s.force = force
}

func (s *saved) ForceToBuffer() bool {
	return s.force
}
