package device

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ebitengine/oto/v3"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

// OtoSettings represents the settings of the oto backend.
type OtoSettings struct {
	SampleRate int `mapstructure:"sample_rate" default:"48000" validate:"oneof=8000 11025 16000 22050 24000 32000 44100 48000"`
	Channels   int `mapstructure:"channels" default:"2" validate:"oneof=1 2"`
	BufferMs   int `mapstructure:"buffer_ms" default:"50" validate:"gte=10,lte=1000"`
}

// OtoDevice plays streams through the system audio output using oto.
// oto allows a single context per process; it is created on the first Attach.
type OtoDevice struct {
	settings OtoSettings
	slots    int

	once    sync.Once
	ctx     *oto.Context
	initErr error
}

var _ OutputDevice = (*OtoDevice)(nil)

// NewOto creates an oto device. Nothing is opened until Attach.
func NewOto(settings OtoSettings, slots int) *OtoDevice {
	return &OtoDevice{settings: settings, slots: slots}
}

func (d *OtoDevice) Attach() error {
	d.once.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   d.settings.SampleRate,
			ChannelCount: d.settings.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   time.Duration(d.settings.BufferMs) * time.Millisecond,
		}
		var ready chan struct{}
		d.ctx, ready, d.initErr = oto.NewContext(op)
		if d.initErr != nil {
			return
		}
		<-ready
		zlog.Info().Msgf("device: oto context ready: rate=%d channels=%d buffer=%dms",
			d.settings.SampleRate, d.settings.Channels, d.settings.BufferMs)
	})
	if d.initErr != nil {
		return errors.Wrap(d.initErr, "failed to open oto context")
	}
	return nil
}

func (d *OtoDevice) Connected() bool {
	return d.ctx != nil && d.ctx.Err() == nil
}

func (d *OtoDevice) NewStream() (Stream, error) {
	if err := d.Attach(); err != nil {
		return nil, err
	}
	ring := NewRingStream(d.slots)
	return &otoStream{
		RingStream: ring,
		player:     d.ctx.NewPlayer(ring),
		settings:   d.settings,
	}, nil
}

// otoStream drives an oto player from a RingStream.
type otoStream struct {
	*RingStream
	player   *oto.Player
	settings OtoSettings
}

func (s *otoStream) Submit(slot int, format audio.Format, samples []byte, frequency int) error {
	if format.BitsPerSample != 16 || format.Channels != s.settings.Channels || frequency != s.settings.SampleRate {
		return errors.Wrapf(ErrUnsupportedFormat, "%d ch/%d bit at %d Hz on a %d ch/%d Hz device",
			format.Channels, format.BitsPerSample, frequency, s.settings.Channels, s.settings.SampleRate)
	}
	return s.RingStream.Submit(slot, format, samples, frequency)
}

func (s *otoStream) State() (SourceState, error) {
	if err := s.player.Err(); err != nil {
		return SourceStopped, errors.Wrap(err, "oto player failed")
	}
	return s.RingStream.State()
}

func (s *otoStream) SetGain(gain float64) error {
	if err := s.RingStream.SetGain(gain); err != nil {
		return err
	}
	s.player.SetVolume(s.RingStream.Gain())
	return nil
}

func (s *otoStream) Play() error {
	if err := s.RingStream.Play(); err != nil {
		return err
	}
	s.player.Play()
	return s.player.Err()
}

func (s *otoStream) Pause() error {
	if err := s.RingStream.Pause(); err != nil {
		return err
	}
	s.player.Pause()
	return nil
}

func (s *otoStream) Close() error {
	_ = s.RingStream.Close()
	return s.player.Close()
}
