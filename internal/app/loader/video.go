package loader

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

// VideoLoader decodes the audio packets a video demuxer feeds in.
type VideoLoader struct {
	saved

	sound   *audio.VideoSound
	decoder PacketDecoder
	queue   []audio.Packet
	pcm     []int16
	eof     bool
}

var _ PacketConsumer = (*VideoLoader)(nil)

// NewVideoLoader creates a loader for the sound track described by sound.
func NewVideoLoader(sound *audio.VideoSound) *VideoLoader {
	return &VideoLoader{sound: sound}
}

// Open creates the codec. Packets arrive already positioned by the demuxer,
// so positionMs is not used.
func (l *VideoLoader) Open(positionMs int64) error {
	if l.sound == nil {
		return errors.New("no video sound data")
	}
	factory, ok := lookupCodec(l.sound.Codec)
	if !ok {
		return errors.Newf("unsupported video sound codec: %s", l.sound.Codec)
	}
	decoder, err := factory(l.sound.Frequency, l.sound.Channels)
	if err != nil {
		return err
	}
	l.decoder = decoder
	l.pcm = make([]int16, maxPacketFrames*l.sound.Channels)
	zlog.Debug().Msgf("loader: opened video sound: codec=%s rate=%d channels=%d length=%d",
		l.sound.Codec, l.sound.Frequency, l.sound.Channels, l.sound.Length)
	return nil
}

// Check always passes: the identity of a video sound track is its MsgID play id.
func (l *VideoLoader) Check(audio.Source) bool {
	return true
}

func (l *VideoLoader) Format() audio.Format {
	if l.sound != nil && l.sound.Channels == 1 {
		return audio.FormatMono16
	}
	return audio.FormatStereo16
}

func (l *VideoLoader) SamplesCount() int64 {
	if l.sound == nil {
		return 0
	}
	return l.sound.Length
}

func (l *VideoLoader) SamplesFrequency() int {
	if l.sound == nil {
		return 0
	}
	return l.sound.Frequency
}

func (l *VideoLoader) EnqueuePackets(packets []audio.Packet) {
	l.queue = append(l.queue, packets...)
}

func (l *VideoLoader) ReadMore(samples *Samples) ReadResult {
	if l.decoder == nil {
		return ReadError
	}
	if len(l.queue) == 0 {
		if l.eof {
			return ReadEndOfFile
		}
		return ReadWait
	}

	packet := l.queue[0]
	l.queue[0] = audio.Packet{}
	l.queue = l.queue[1:]
	defer packet.Release()

	if packet.IsEndOfStream() {
		l.eof = true
		return ReadEndOfFile
	}

	n, err := l.decoder.Decode(packet.Data, l.pcm)
	if err != nil {
		zlog.Warn().Err(err).Msgf("loader: video packet decode failed: codec=%s", l.sound.Codec)
		return ReadError
	}
	values := n * l.sound.Channels
	for _, v := range l.pcm[:values] {
		samples.Data = binary.LittleEndian.AppendUint16(samples.Data, uint16(v))
	}
	samples.Count += int64(n)
	return ReadOk
}

// Close releases every packet still queued.
func (l *VideoLoader) Close() error {
	audio.ReleasePackets(l.queue)
	l.queue = nil
	l.decoder = nil
	return nil
}
