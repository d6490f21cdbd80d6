package loaders

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiofeed/internal/app/loader"
	"github.com/osa030/audiofeed/internal/app/mixer"
	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
)

// loadData decodes the next buffer of id and hands it to the device.
// positionMs only matters when the loader is created by this call.
func (l *Loaders) loadData(id audio.MsgID, positionMs int64) {
	t := id.Type

	ld, outcome, err := l.setupLoader(id, positionMs)
	if err != nil {
		l.setupFailed(id, err)
		return
	}

	started := outcome == SetupStartedFresh
	finished := false
	waiting := false
	errAtStart := started
	budget := l.config.BufferSize

	var samples loader.Samples
	if ld.HoldsSavedDecodedSamples() {
		samples = ld.TakeSavedDecodedSamples()
	}

read:
	for samples.Len() < budget {
		switch ld.ReadMore(&samples) {
		case loader.ReadError:
			if errAtStart {
				l.registry.Lock()
				if tr := l.checkLoader(t); tr != nil {
					l.registry.SetStoppedState(tr, audio.StateStoppedAtStart)
				}
				l.registry.Unlock()
				l.emitError(id, errors.Wrapf(ErrDecodeAtStart, "%s", id))
				return
			}
			finished = true
			break read
		case loader.ReadEndOfFile:
			finished = true
			break read
		case loader.ReadOk:
			errAtStart = false
		case loader.ReadWait:
			l.config.Metrics.Wait(t)
			waiting = samples.Len() < budget && !ld.ForceToBuffer()
			if waiting {
				ld.SaveDecodedSamples(samples)
				samples = loader.Samples{}
			}
			break read
		}

		l.registry.Lock()
		tr := l.checkLoader(t)
		l.registry.Unlock()
		if tr == nil {
			l.clear(t)
			return
		}
	}

	// A single read may overshoot the budget; the rest waits for the next slot.
	rest := samples.Split(budget, ld.Format().FrameSize())
	if rest.Count > 0 {
		finished = false
	}

	l.registry.Lock()
	defer l.registry.Unlock()

	tr := l.checkLoader(t)
	if tr == nil {
		l.clear(t)
		return
	}

	if started {
		attachErr := l.registry.Device().Attach()
		tr.Started()
		if attachErr != nil {
			l.registry.SetStoppedState(tr, audio.StateStoppedAtStart)
			l.emitError(id, deviceError(attachErr, "attach device"))
			return
		}

		tr.Format = ld.Format()
		tr.Frequency = ld.SamplesFrequency()

		position := positionMs * int64(tr.Frequency) / 1000
		tr.BufferedPosition = position
		tr.State.Position = position
		tr.FadeStartPosition = position
	}

	if samples.Count > 0 {
		if err := tr.EnsureStreamCreated(l.registry.Device()); err != nil {
			l.failLocked(tr, id, deviceError(err, "create stream"))
			return
		}

		index, err := tr.NotQueuedBufferIndex()
		if err != nil {
			l.failLocked(tr, id, deviceError(err, "find free slot"))
			return
		}
		if index < 0 {
			samples.Append(rest)
			ld.SaveDecodedSamples(samples)
			l.config.Metrics.Backpressure(t)
			zlog.Debug().Msgf("loaders: no free slot, saved %d samples: id=%s", samples.Count, id)
			return
		}
		if ld.ForceToBuffer() {
			ld.SetForceToBuffer(false)
		}

		tr.BufferSamples[index] = samples.Data
		tr.SamplesCount[index] = samples.Count
		tr.BufferedLength += samples.Count

		err = tr.Stream.Submit(index, tr.Format, samples.Data, tr.Frequency)
		if err == nil {
			err = tr.Stream.Queue(index)
		}
		if err != nil {
			l.failLocked(tr, id, deviceError(err, "queue buffer"))
			return
		}
		l.config.Metrics.BufferSubmitted(t, samples.Len())

		if rest.Count > 0 {
			ld.SaveDecodedSamples(rest)
		}
	} else {
		if waiting {
			return
		}
		finished = true
	}

	if finished {
		tr.Loaded = true
		tr.State.Length = tr.BufferedPosition + tr.BufferedLength
		l.clear(t)
		zlog.Debug().Msgf("loaders: loaded to the end: id=%s length=%d", id, tr.State.Length)
	}

	tr.Loading = false
	switch tr.State.State {
	case audio.StateStarting, audio.StateResuming, audio.StatePlaying:
		l.ensurePlayingLocked(tr, id)
	}
}

// ensurePlayingLocked (re)starts the device stream of tr if it is not playing.
// Must be called with lock held.
func (l *Loaders) ensurePlayingLocked(tr *mixer.Track, id audio.MsgID) {
	if tr.Stream == nil {
		return
	}

	state, err := tr.Stream.State()
	if err != nil {
		l.failLocked(tr, id, deviceError(err, "get stream state"))
		return
	}
	if state == device.SourcePlaying {
		return
	}
	if state == device.SourceStopped && !l.registry.Device().Connected() {
		zlog.Debug().Msgf("loaders: device disconnected: id=%s", id)
		return
	}

	if err := tr.Stream.SetGain(l.registry.Volume(id.Type)); err != nil {
		l.failLocked(tr, id, deviceError(err, "set gain"))
		return
	}
	if state == device.SourceStopped {
		// Stopped on underrun, continue where the track is.
		offset := max(tr.State.Position-tr.BufferedPosition, 0)
		if err := tr.Stream.SeekSample(offset); err != nil {
			l.failLocked(tr, id, deviceError(err, "seek"))
			return
		}
	}
	if err := tr.Stream.Play(); err != nil {
		l.failLocked(tr, id, deviceError(err, "play"))
		return
	}

	l.sendEvent(Event{Type: EventNeedToCheck})
}

// failLocked stops tr after a device failure and reports it.
// Must be called with lock held.
func (l *Loaders) failLocked(tr *mixer.Track, id audio.MsgID, err error) {
	l.registry.SetStoppedState(tr, audio.StateStoppedAtError)
	l.emitError(id, err)
}

// setupFailed reports a failed setupLoader.
func (l *Loaders) setupFailed(id audio.MsgID, err error) {
	switch {
	case errors.Is(err, ErrNotPlaying):
		l.reportError(id, err)
	case errors.Is(err, ErrAlreadyLoadedFull):
		zlog.Warn().Msgf("loaders: load of audio that is already loaded to the end: id=%s", id)
		l.config.Metrics.Error(id.Type, errorKind(err))
	case errors.Is(err, ErrVideoDataNotReady):
		l.registry.Lock()
		if tr := l.registry.TrackForType(id.Type); tr != nil && tr.State.ID == id {
			l.registry.SetStoppedState(tr, audio.StateStoppedAtError)
		}
		l.registry.Unlock()
		l.emitError(id, err)
	default:
		l.emitError(id, err)
	}
}
