package loaders

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audiofeed/internal/app/loader"
	"github.com/osa030/audiofeed/internal/app/mixer"
	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
)

// fakeLoader replays a scripted sequence of read results. Every ReadOk
// appends chunk mono frames; an exhausted script reads as end of file.
type fakeLoader struct {
	src     audio.Source
	format  audio.Format
	freq    int
	length  int64
	openErr error
	stale   bool

	reads  []loader.ReadResult
	chunk  int
	onRead func()

	opened     bool
	positionMs int64
	closed     bool
	readCalls  int
	packets    []audio.Packet

	saved loader.Samples
	holds bool
	force bool
}

var (
	_ loader.Loader         = (*fakeLoader)(nil)
	_ loader.PacketConsumer = (*fakeLoader)(nil)
)

func newFakeLoader(reads ...loader.ReadResult) *fakeLoader {
	return &fakeLoader{
		format: audio.FormatMono16,
		freq:   48000,
		length: 48000,
		reads:  reads,
		chunk:  100,
	}
}

func (f *fakeLoader) Open(positionMs int64) error {
	f.opened = true
	f.positionMs = positionMs
	return f.openErr
}

func (f *fakeLoader) Check(audio.Source) bool { return !f.stale }
func (f *fakeLoader) Format() audio.Format   { return f.format }
func (f *fakeLoader) SamplesCount() int64    { return f.length }
func (f *fakeLoader) SamplesFrequency() int  { return f.freq }

func (f *fakeLoader) ReadMore(samples *loader.Samples) loader.ReadResult {
	f.readCalls++
	if f.onRead != nil {
		f.onRead()
	}
	if len(f.reads) == 0 {
		return loader.ReadEndOfFile
	}
	res := f.reads[0]
	f.reads = f.reads[1:]
	if res == loader.ReadOk {
		samples.Data = append(samples.Data, make([]byte, f.chunk*f.format.FrameSize())...)
		samples.Count += int64(f.chunk)
	}
	return res
}

func (f *fakeLoader) EnqueuePackets(packets []audio.Packet) {
	f.packets = append(f.packets, packets...)
}

func (f *fakeLoader) HoldsSavedDecodedSamples() bool { return f.holds }

func (f *fakeLoader) SaveDecodedSamples(samples loader.Samples) {
	f.saved.Append(samples)
	f.holds = true
}

func (f *fakeLoader) TakeSavedDecodedSamples() loader.Samples {
	s := f.saved
	f.saved = loader.Samples{}
	f.holds = false
	return s
}

func (f *fakeLoader) SetForceToBuffer(force bool) { f.force = force }
func (f *fakeLoader) ForceToBuffer() bool         { return f.force }

func (f *fakeLoader) Close() error {
	f.closed = true
	audio.ReleasePackets(f.packets)
	f.packets = nil
	return nil
}

// fakeFactory hands out prepared loaders and counts constructions.
type fakeFactory struct {
	next    []*fakeLoader
	created int
	sounds  []*audio.VideoSound
}

func (f *fakeFactory) pop() loader.Loader {
	f.created++
	l := f.next[0]
	f.next = f.next[1:]
	return l
}

func (f *fakeFactory) NewFileLoader(audio.Source) loader.Loader {
	return f.pop()
}

func (f *fakeFactory) NewVideoLoader(sound *audio.VideoSound) loader.Loader {
	f.sounds = append(f.sounds, sound)
	return f.pop()
}

// nopControl lets tests drive the loaders directly.
type nopControl struct{}

func (nopControl) Start(audio.MsgID, int64) {}
func (nopControl) Load(audio.MsgID)         {}
func (nopControl) Cancel(audio.MsgID)       {}

// failingStream fails the configured call.
type failingStream struct {
	*device.RingStream
	failQueue bool
	failState bool
}

var errInjected = errors.New("injected device failure")

func (s *failingStream) Queue(slot int) error {
	if s.failQueue {
		return errInjected
	}
	return s.RingStream.Queue(slot)
}

func (s *failingStream) State() (device.SourceState, error) {
	if s.failState {
		return device.SourceStopped, errInjected
	}
	return s.RingStream.State()
}

type failingDevice struct {
	*device.NullDevice
	stream *failingStream
}

func (d *failingDevice) NewStream() (device.Stream, error) {
	return d.stream, nil
}

type fixture struct {
	dev     *device.NullDevice
	mixer   *mixer.Mixer
	factory *fakeFactory
	loaders *Loaders
}

func newFixture(t *testing.T, dev device.OutputDevice, bufferSize int, next ...*fakeLoader) *fixture {
	t.Helper()
	if dev == nil {
		dev = device.NewNull(3)
	}
	m := mixer.New(dev, mixer.DefaultConfig())
	m.SetLoaders(nopControl{})
	factory := &fakeFactory{next: next}
	l := New(m, Config{BufferSize: bufferSize, Factory: factory})
	t.Cleanup(l.Close)

	null, _ := dev.(*device.NullDevice)
	return &fixture{dev: null, mixer: m, factory: factory, loaders: l}
}

func (f *fixture) play(t *testing.T, id audio.MsgID, media audio.Media) {
	t.Helper()
	require.NoError(t, f.mixer.Play(id, media, 0))
}

func (f *fixture) track(t audio.Type) *mixer.Track {
	f.mixer.Lock()
	defer f.mixer.Unlock()
	return f.mixer.TrackForType(t)
}

func (f *fixture) state(t audio.Type) audio.State {
	return f.mixer.Snapshot(t).State
}

func (f *fixture) withLock(fn func()) {
	f.mixer.Lock()
	defer f.mixer.Unlock()
	fn()
}

func (f *fixture) events() []Event {
	var events []Event
	for {
		select {
		case e := <-f.loaders.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

func (f *fixture) errorEvents() []Event {
	var result []Event
	for _, e := range f.events() {
		if e.Type == EventError {
			result = append(result, e)
		}
	}
	return result
}

var (
	songID  = audio.NewMsgID(audio.TypeSong, "song-1", 0)
	voiceID = audio.NewMsgID(audio.TypeVoice, "voice-1", 0)
	videoID = audio.NewMsgID(audio.TypeVideo, "video-1", 7)

	songMedia  = audio.Media{Source: audio.Source{Path: "song.mp3"}}
	videoMedia = audio.Media{Video: &audio.VideoSound{Codec: "pcm_s16le", Frequency: 48000, Channels: 1, Length: 48000}}
)
