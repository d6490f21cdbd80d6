// Package player wires the mixer and the loaders into one playback engine.
package player

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/audiofeed/internal/app/loaders"
	"github.com/osa030/audiofeed/internal/app/mixer"
	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
)

// DefaultPollInterval is how often device state is polled.
const DefaultPollInterval = 50 * time.Millisecond

// Config holds player configuration.
type Config struct {
	PollInterval time.Duration
	Mixer        mixer.Config
	Loaders      loaders.Config
}

// Player plays audio on one output device.
type Player struct {
	mixer   *mixer.Mixer
	loaders *loaders.Loaders
	config  Config
}

// New creates a new player on dev.
func New(dev device.OutputDevice, config Config) *Player {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Mixer == (mixer.Config{}) {
		config.Mixer = mixer.DefaultConfig()
	}
	m := mixer.New(dev, config.Mixer)
	l := loaders.New(m, config.Loaders)
	m.SetLoaders(l)

	return &Player{
		mixer:   m,
		loaders: l,
		config:  config,
	}
}

// Run runs the decode loop and the device poller until ctx is done or Close is called.
func (p *Player) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.loaders.Run(gctx)
	})
	g.Go(func() error {
		return p.pump(gctx)
	})
	return g.Wait()
}

// pump turns loader events and the poll ticker into mixer updates.
func (p *Player) pump(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	events := p.loaders.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.Type {
			case loaders.EventError:
				p.mixer.OnError(e.ID, e.Err)
			case loaders.EventNeedToCheck:
				p.mixer.Poll()
			}
		case <-ticker.C:
			p.mixer.Poll()
		}
	}
}

// Play starts id from positionMs, superseding whatever plays on its type.
func (p *Player) Play(id audio.MsgID, media audio.Media, positionMs int64) error {
	zlog.Info().Msgf("player: play: id=%s position=%dms", id, positionMs)
	return p.mixer.Play(id, media, positionMs)
}

// Pause pauses id.
func (p *Player) Pause(id audio.MsgID) error {
	return p.mixer.Pause(id)
}

// Resume resumes id.
func (p *Player) Resume(id audio.MsgID) error {
	return p.mixer.Resume(id)
}

// Stop stops whatever plays on t.
func (p *Player) Stop(t audio.Type) {
	p.mixer.Stop(t)
}

// SetVolume sets the gain of t.
func (p *Player) SetVolume(t audio.Type, volume float64) {
	p.mixer.SetVolume(t, volume)
}

// FeedVideo queues a demuxed audio packet of a playing video.
func (p *Player) FeedVideo(id audio.MsgID, packet audio.Packet) {
	p.loaders.FeedVideo(id, packet)
}

// ForceToBufferVideo flushes what has been decoded for id so far to the device.
func (p *Player) ForceToBufferVideo(id audio.MsgID) {
	p.loaders.ForceToBufferVideo(id)
}

// Snapshot returns the state of the current track of t.
func (p *Player) Snapshot(t audio.Type) mixer.TrackState {
	return p.mixer.Snapshot(t)
}

// Events returns track state changes and errors.
func (p *Player) Events() <-chan mixer.Event {
	return p.mixer.Events()
}

// Close stops Run and every stream. The event channel is closed.
func (p *Player) Close() {
	p.loaders.Close()
	p.mixer.Close()
}
