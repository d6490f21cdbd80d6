package loaders

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiofeed/internal/app/loader"
	"github.com/osa030/audiofeed/internal/app/mixer"
	"github.com/osa030/audiofeed/internal/domain/audio"
)

// SetupOutcome tells loadData whether the loader was just created.
type SetupOutcome int

const (
	SetupStartedFresh SetupOutcome = iota // New loader, track state must be initialized
	SetupContinuing                       // Loader reused from a previous pass
)

// String returns the string representation of the outcome.
func (o SetupOutcome) String() string {
	switch o {
	case SetupStartedFresh:
		return "started_fresh"
	case SetupContinuing:
		return "continuing"
	default:
		return "unknown"
	}
}

// setupLoader resolves the loader for id, reusing the bound one when it still
// matches the current track and creating and opening a new one otherwise.
// Opening runs without the track lock; the track is validated again afterwards.
func (l *Loaders) setupLoader(id audio.MsgID, positionMs int64) (loader.Loader, SetupOutcome, error) {
	s := &l.slots[id.Type]

	l.registry.Lock()
	tr := l.registry.TrackForType(id.Type)
	if tr == nil || tr.State.ID != id || !tr.Loading {
		l.registry.Unlock()
		return nil, SetupStartedFresh, notPlaying(id)
	}
	if tr.Loaded {
		l.registry.Unlock()
		return nil, SetupStartedFresh, errors.Wrapf(ErrAlreadyLoadedFull, "%s", id)
	}

	if s.loader != nil && (s.id != id || !s.loader.Check(tr.Media.Source)) {
		l.clear(id.Type)
	}
	if s.loader != nil {
		ld := s.loader
		l.registry.Unlock()
		return ld, SetupContinuing, nil
	}

	var ld loader.Loader
	if id.FromVideo() {
		if tr.Media.Video == nil {
			l.registry.Unlock()
			return nil, SetupStartedFresh, errors.Wrapf(ErrVideoDataNotReady, "%s", id)
		}
		// The loader takes over the video sound.
		ld = l.config.Factory.NewVideoLoader(tr.Media.Video)
		tr.Media.Video = nil
	} else {
		ld = l.config.Factory.NewFileLoader(tr.Media.Source)
	}
	l.registry.Unlock()

	s.id = id
	s.loader = ld

	openErr := ld.Open(positionMs)

	l.registry.Lock()
	defer l.registry.Unlock()

	tr = l.registry.TrackForType(id.Type)
	if tr == nil || tr.State.ID != id || !tr.Loading {
		l.clear(id.Type)
		return nil, SetupStartedFresh, notPlaying(id)
	}
	if openErr != nil {
		l.registry.SetStoppedState(tr, audio.StateStoppedAtStart)
		return nil, SetupStartedFresh, errors.Mark(errors.Wrapf(openErr, "%s", id), ErrOpenFailed)
	}
	length := ld.SamplesCount()
	if length <= 0 {
		l.registry.SetStoppedState(tr, audio.StateStoppedAtStart)
		return nil, SetupStartedFresh, errors.Mark(errors.Wrapf(ErrZeroLength, "%s", id), ErrOpenFailed)
	}
	tr.State.Length = length
	tr.State.Frequency = ld.SamplesFrequency()
	return ld, SetupStartedFresh, nil
}

// clear unbinds the loader of t and returns the id it was decoding.
func (l *Loaders) clear(t audio.Type) audio.MsgID {
	s := &l.slots[t]
	id := s.id
	if s.loader != nil {
		if err := s.loader.Close(); err != nil {
			zlog.Warn().Err(err).Msgf("loaders: failed to close loader: id=%s", id)
		}
	}
	*s = slot{}
	return id
}

// notPlaying reports a request for id that the track no longer expects.
func notPlaying(id audio.MsgID) error {
	return errors.Mark(errors.Wrapf(ErrNotPlaying, "%s", id), mixer.ErrStaleRequest)
}

// takeLoadRequest clears the queued load mark of every slot playing id.
func (l *Loaders) takeLoadRequest(id audio.MsgID) {
	l.registry.Lock()
	defer l.registry.Unlock()

	for _, tr := range l.registry.TracksForType(id.Type) {
		if tr.State.ID == id {
			tr.LoadRequested = false
		}
	}
}

// checkLoader returns the current track of t if the bound loader still
// belongs to it and it is still loading. Must be called with lock held.
func (l *Loaders) checkLoader(t audio.Type) *mixer.Track {
	s := &l.slots[t]
	tr := l.registry.TrackForType(t)
	if s.loader == nil || tr == nil {
		return nil
	}
	if tr.State.ID != s.id || !tr.Loading || !s.loader.Check(tr.Media.Source) {
		zlog.Debug().Msgf("loaders: playing changed while loading: id=%s current=%s", s.id, tr.State.ID)
		return nil
	}
	return tr
}
