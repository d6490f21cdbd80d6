package mixer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
)

type call struct {
	op         string
	id         audio.MsgID
	positionMs int64
}

// recordingControl records what the mixer asks of the loaders.
type recordingControl struct {
	calls []call
}

func (r *recordingControl) Start(id audio.MsgID, positionMs int64) {
	r.calls = append(r.calls, call{op: "start", id: id, positionMs: positionMs})
}

func (r *recordingControl) Load(id audio.MsgID) {
	r.calls = append(r.calls, call{op: "load", id: id})
}

func (r *recordingControl) Cancel(id audio.MsgID) {
	r.calls = append(r.calls, call{op: "cancel", id: id})
}

func (r *recordingControl) take() []call {
	calls := r.calls
	r.calls = nil
	return calls
}

var (
	songID = audio.NewMsgID(audio.TypeSong, "song-1", 0)
	song2  = audio.NewMsgID(audio.TypeSong, "song-2", 0)
	media  = audio.Media{Source: audio.Source{Path: "song.mp3"}}
)

func newTestMixer(t *testing.T) (*Mixer, *recordingControl, *device.NullDevice) {
	t.Helper()
	dev := device.NewNull(3)
	m := New(dev, DefaultConfig())
	control := &recordingControl{}
	m.SetLoaders(control)
	t.Cleanup(m.Close)
	return m, control, dev
}

func drain(m *Mixer) []Event {
	var events []Event
	for {
		select {
		case e := <-m.Events():
			events = append(events, e)
		default:
			return events
		}
	}
}

// queueSamples gives the current track of id a stream holding frames mono samples.
func queueSamples(t *testing.T, m *Mixer, id audio.MsgID, frames int) *device.RingStream {
	t.Helper()
	m.Lock()
	defer m.Unlock()

	tr := m.TrackForType(id.Type)
	require.NoError(t, tr.EnsureStreamCreated(m.Device()))
	tr.Format = audio.FormatMono16
	tr.Frequency = 48000
	slot, err := tr.NotQueuedBufferIndex()
	require.NoError(t, err)
	require.GreaterOrEqual(t, slot, 0)
	data := make([]byte, frames*2)
	require.NoError(t, tr.Stream.Submit(slot, tr.Format, data, tr.Frequency))
	require.NoError(t, tr.Stream.Queue(slot))
	tr.BufferSamples[slot] = data
	tr.SamplesCount[slot] = int64(frames)
	tr.BufferedLength += int64(frames)
	require.NoError(t, tr.Stream.Play())
	return tr.Stream.(*device.RingStream)
}

func TestMixer_Play(t *testing.T) {
	m, control, _ := newTestMixer(t)

	require.NoError(t, m.Play(songID, media, 1500))

	assert.Equal(t, []call{{op: "start", id: songID, positionMs: 1500}}, control.take())
	snapshot := m.Snapshot(audio.TypeSong)
	assert.Equal(t, songID, snapshot.ID)
	assert.Equal(t, audio.StateStarting, snapshot.State)

	m.Lock()
	tr := m.TrackForType(audio.TypeSong)
	assert.True(t, tr.Loading)
	assert.Equal(t, media, tr.Media)
	m.Unlock()

	events := drain(m)
	require.Len(t, events, 1)
	assert.Equal(t, Event{Type: EventStateChanged, ID: songID, State: audio.StateStarting}, events[0])
}

func TestMixer_PlayInvalidID(t *testing.T) {
	m, control, _ := newTestMixer(t)

	err := m.Play(audio.MsgID{}, media, 0)
	assert.True(t, errors.Is(err, ErrInvalidID))
	assert.Empty(t, control.take())
}

func TestMixer_PlaySupersedes(t *testing.T) {
	m, control, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	control.take()

	m.Lock()
	first := m.TrackForType(audio.TypeSong)
	m.Unlock()

	require.NoError(t, m.Play(song2, media, 0))

	assert.Equal(t, []call{
		{op: "cancel", id: songID},
		{op: "start", id: song2},
	}, control.take())

	m.Lock()
	defer m.Unlock()
	assert.Equal(t, audio.StateStopped, first.State.State)
	assert.NotSame(t, first, m.TrackForType(audio.TypeSong))
	assert.Equal(t, song2, m.TrackForType(audio.TypeSong).State.ID)
}

func TestMixer_PauseResume(t *testing.T) {
	m, control, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	stream := queueSamples(t, m, songID, 10)
	control.take()

	assert.ErrorIs(t, m.Pause(song2), ErrNotCurrent)
	assert.ErrorIs(t, m.Resume(songID), ErrNotPaused)

	require.NoError(t, m.Pause(songID))
	assert.Equal(t, audio.StatePaused, m.Snapshot(audio.TypeSong).State)
	state, err := stream.State()
	require.NoError(t, err)
	assert.Equal(t, device.SourcePaused, state)
	assert.ErrorIs(t, m.Pause(songID), ErrNotPlaying)

	m.Lock()
	m.TrackForType(audio.TypeSong).Loading = false
	m.Unlock()

	require.NoError(t, m.Resume(songID))
	assert.Equal(t, audio.StateResuming, m.Snapshot(audio.TypeSong).State)
	state, err = stream.State()
	require.NoError(t, err)
	assert.Equal(t, device.SourcePlaying, state)
	assert.Equal(t, []call{{op: "load", id: songID}}, control.take())
}

func TestMixer_Stop(t *testing.T) {
	m, control, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	control.take()

	m.Stop(audio.TypeSong)

	assert.Equal(t, audio.StateStopped, m.Snapshot(audio.TypeSong).State)
	assert.Equal(t, []call{{op: "cancel", id: songID}}, control.take())

	m.Stop(audio.TypeVoice)
	assert.Empty(t, control.take())
}

func TestMixer_PollPlaysAndFinishes(t *testing.T) {
	m, control, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	stream := queueSamples(t, m, songID, 10)
	m.Lock()
	tr := m.TrackForType(audio.TypeSong)
	tr.Loading = false
	tr.Loaded = true
	tr.State.Length = 10
	m.Unlock()
	control.take()
	drain(m)

	m.Poll()
	assert.Equal(t, audio.StatePlaying, m.Snapshot(audio.TypeSong).State)

	buf := make([]byte, 20)
	_, err := stream.Read(buf)
	require.NoError(t, err)
	_, err = stream.Read(buf)
	require.NoError(t, err)

	m.Poll()
	snapshot := m.Snapshot(audio.TypeSong)
	assert.Equal(t, audio.StateFinished, snapshot.State)
	assert.Equal(t, int64(10), snapshot.Position)
	assert.Empty(t, control.take())

	var states []audio.State
	for _, e := range drain(m) {
		states = append(states, e.State)
	}
	assert.Equal(t, []audio.State{audio.StatePlaying, audio.StateFinished}, states)
}

func TestMixer_PollRequestsLoad(t *testing.T) {
	tests := []struct {
		name    string
		loading bool
		consume bool
		want    []call
	}{
		{name: "idle with free slot", loading: false, want: []call{{op: "load", id: songID}}},
		{name: "loading without freed slot", loading: true},
		{name: "loading and slot freed", loading: true, consume: true, want: []call{{op: "load", id: songID}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, control, _ := newTestMixer(t)
			require.NoError(t, m.Play(songID, media, 0))
			stream := queueSamples(t, m, songID, 10)
			m.Lock()
			m.TrackForType(audio.TypeSong).Loading = tt.loading
			m.Unlock()
			control.take()

			if tt.consume {
				_, err := stream.Read(make([]byte, 20))
				require.NoError(t, err)
			}
			m.Poll()

			assert.Equal(t, tt.want, control.take())
			if tt.consume {
				m.Lock()
				tr := m.TrackForType(audio.TypeSong)
				assert.Equal(t, int64(10), tr.BufferedPosition)
				assert.Equal(t, int64(10), tr.State.Position)
				m.Unlock()
			}
		})
	}
}

func TestMixer_OnError(t *testing.T) {
	m, _, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	drain(m)
	cause := errors.New("decode failed")

	m.OnError(songID, cause)

	assert.Equal(t, audio.StateStoppedAtError, m.Snapshot(audio.TypeSong).State)
	events := drain(m)
	require.Len(t, events, 2)
	assert.Equal(t, EventStateChanged, events[0].Type)
	assert.Equal(t, EventError, events[1].Type)
	assert.Equal(t, cause, events[1].Err)

	// A stale report only produces the event.
	m.OnError(song2, cause)
	events = drain(m)
	require.Len(t, events, 1)
	assert.Equal(t, song2, events[0].ID)
}

func TestMixer_OnErrorIgnoresStaleRequest(t *testing.T) {
	m, _, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	drain(m)

	m.OnError(songID, errors.Mark(errors.New("audio is not current"), ErrStaleRequest))

	assert.Equal(t, audio.StateStarting, m.Snapshot(audio.TypeSong).State)
	assert.Empty(t, drain(m))
}

func TestMixer_PollKeepsOneLoadPending(t *testing.T) {
	m, control, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	stream := queueSamples(t, m, songID, 10)
	queueSamples(t, m, songID, 10)
	queueSamples(t, m, songID, 10)
	control.take()

	consume := func() {
		_, err := stream.Read(make([]byte, 20))
		require.NoError(t, err)
	}

	consume()
	m.Poll()
	assert.Equal(t, []call{{op: "load", id: songID}}, control.take())

	consume()
	m.Poll()
	assert.Empty(t, control.take())

	// The queued request was picked up.
	m.Lock()
	m.TrackForType(audio.TypeSong).LoadRequested = false
	m.Unlock()

	consume()
	m.Poll()
	assert.Equal(t, []call{{op: "load", id: songID}}, control.take())
}

func TestMixer_SetVolume(t *testing.T) {
	m, _, _ := newTestMixer(t)
	require.NoError(t, m.Play(songID, media, 0))
	stream := queueSamples(t, m, songID, 10)

	m.SetVolume(audio.TypeSong, 0.25)

	assert.Equal(t, 0.25, stream.Gain())
	m.Lock()
	assert.Equal(t, 0.25, m.Volume(audio.TypeSong))
	m.Unlock()
}
