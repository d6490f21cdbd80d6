package loader

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hraban/opus"
)

// PacketDecoder decodes one compressed packet into interleaved 16-bit PCM and
// returns the number of sample frames written.
type PacketDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// CodecFactory creates a decoder for the given stream parameters.
type CodecFactory func(frequency, channels int) (PacketDecoder, error)

// Codec names registered by default.
const (
	CodecOpus     = "opus"
	CodecPCMS16LE = "pcm_s16le"
)

// maxPacketFrames bounds the frames of one decoded packet (120ms at 48kHz).
const maxPacketFrames = 5760

var (
	codecsMu sync.RWMutex
	codecs   = make(map[string]CodecFactory)
)

func init() {
	RegisterCodec(CodecOpus, newOpusDecoder)
	RegisterCodec(CodecPCMS16LE, newPCMDecoder)
}

// RegisterCodec registers a codec factory under name.
func RegisterCodec(name string, factory CodecFactory) {
	codecsMu.Lock()
	defer codecsMu.Unlock()
	codecs[name] = factory
}

// lookupCodec returns the factory registered under name.
func lookupCodec(name string) (CodecFactory, bool) {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	f, ok := codecs[name]
	return f, ok
}

// Codecs returns the registered codec names, sorted.
func Codecs() []string {
	codecsMu.RLock()
	defer codecsMu.RUnlock()
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newOpusDecoder(frequency, channels int) (PacketDecoder, error) {
	d, err := opus.NewDecoder(frequency, channels)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create opus decoder")
	}
	return d, nil
}

// pcmDecoder passes raw little-endian 16-bit PCM through.
type pcmDecoder struct {
	channels int
}

func newPCMDecoder(frequency, channels int) (PacketDecoder, error) {
	if frequency <= 0 || channels < 1 || channels > 2 {
		return nil, errors.Newf("bad pcm stream: rate=%d channels=%d", frequency, channels)
	}
	return &pcmDecoder{channels: channels}, nil
}

func (d *pcmDecoder) Decode(data []byte, pcm []int16) (int, error) {
	frameSize := d.channels * 2
	if len(data)%frameSize != 0 {
		return 0, errors.Newf("pcm packet of %d bytes is not a whole number of frames", len(data))
	}
	values := len(data) / 2
	if values > len(pcm) {
		return 0, errors.Newf("pcm packet of %d frames exceeds buffer", len(data)/frameSize)
	}
	for i := 0; i < values; i++ {
		pcm[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return len(data) / frameSize, nil
}
