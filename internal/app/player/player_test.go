package player

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/audiofeed/internal/app/loader"
	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
)

func writeWAV(t *testing.T, rate, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	remaining := frames
	streamer := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if remaining == 0 {
			return 0, false
		}
		n := min(len(samples), remaining)
		for i := 0; i < n; i++ {
			samples[i] = [2]float64{0.25, 0.25}
		}
		remaining -= n
		return n, true
	})
	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 1, Precision: 2}
	require.NoError(t, wav.Encode(f, streamer, format))
	return path
}

// startPlayer runs a player on a null device and drains its streams like a sound card would.
func startPlayer(t *testing.T) (*Player, *device.NullDevice) {
	t.Helper()
	dev := device.NewNull(3)
	p := New(dev, Config{PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	stop := make(chan struct{})
	go func() {
		buf := make([]byte, 256)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, s := range dev.Streams() {
					_, _ = s.Read(buf)
				}
			}
		}
	}()

	t.Cleanup(func() {
		close(stop)
		cancel()
		require.NoError(t, <-done)
		p.Close()
	})
	return p, dev
}

func waitFor(t *testing.T, p *Player, id audio.MsgID, want audio.State) []audio.State {
	t.Helper()
	var seen []audio.State
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-p.Events():
			if e.ID != id {
				continue
			}
			seen = append(seen, e.State)
			if e.State == want {
				return seen
			}
		case <-timeout:
			t.Fatalf("%s never reached %s, saw %v", id, want, seen)
		}
	}
}

func TestPlayer_PlaysFileToTheEnd(t *testing.T) {
	p, _ := startPlayer(t)
	path := writeWAV(t, 8000, 4000)
	id := audio.NewMsgID(audio.TypeSong, "tone", 0)

	require.NoError(t, p.Play(id, audio.Media{Source: audio.Source{Path: path}}, 0))

	seen := waitFor(t, p, id, audio.StateFinished)
	assert.Equal(t, audio.StateStarting, seen[0])

	snapshot := p.Snapshot(audio.TypeSong)
	assert.Equal(t, int64(4000), snapshot.Length)
	assert.Equal(t, int64(4000), snapshot.Position)
	assert.Equal(t, 8000, snapshot.Frequency)
}

func TestPlayer_MissingFileFailsAtStart(t *testing.T) {
	p, _ := startPlayer(t)
	id := audio.NewMsgID(audio.TypeVoice, "missing", 0)

	require.NoError(t, p.Play(id, audio.Media{Source: audio.Source{Path: filepath.Join(t.TempDir(), "missing.wav")}}, 0))

	waitFor(t, p, id, audio.StateStoppedAtStart)
	assert.Equal(t, audio.StateStoppedAtStart, p.Snapshot(audio.TypeVoice).State)
}

func TestPlayer_VideoPackets(t *testing.T) {
	p, _ := startPlayer(t)
	id := audio.NewMsgID(audio.TypeVideo, "clip", 1)
	sound := &audio.VideoSound{Codec: loader.CodecPCMS16LE, Frequency: 8000, Channels: 1, Length: 800}

	require.NoError(t, p.Play(id, audio.Media{Video: sound}, 0))
	// Packets only reach a loader that exists.
	require.Eventually(t, func() bool {
		return p.Snapshot(audio.TypeVideo).Frequency == 8000
	}, 5*time.Second, time.Millisecond)
	for i := 0; i < 8; i++ {
		p.FeedVideo(id, audio.NewPacket(make([]byte, 200), nil))
	}
	p.FeedVideo(id, audio.EndOfStream())

	waitFor(t, p, id, audio.StateFinished)
	assert.Equal(t, int64(800), p.Snapshot(audio.TypeVideo).Length)
}

func TestPlayer_PauseResume(t *testing.T) {
	p, _ := startPlayer(t)
	path := writeWAV(t, 8000, 80000)
	id := audio.NewMsgID(audio.TypeSong, "long", 0)

	require.NoError(t, p.Play(id, audio.Media{Source: audio.Source{Path: path}}, 0))
	waitFor(t, p, id, audio.StatePlaying)

	require.NoError(t, p.Pause(id))
	assert.Equal(t, audio.StatePaused, p.Snapshot(audio.TypeSong).State)

	require.NoError(t, p.Resume(id))
	waitFor(t, p, id, audio.StatePlaying)

	p.Stop(audio.TypeSong)
	assert.Equal(t, audio.StateStopped, p.Snapshot(audio.TypeSong).State)
}
