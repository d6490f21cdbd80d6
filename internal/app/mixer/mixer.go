// Package mixer provides the shared per-type track state and the playback
// controls that drive it.
package mixer

import (
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
)

// TogetherLimit is the number of track slots per type. A new play takes a
// free slot so the previous one can still be wound down.
const TogetherLimit = 4

// Errors
var (
	ErrInvalidID  = errors.New("invalid audio id")
	ErrNotCurrent = errors.New("audio is not current")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")

	// ErrStaleRequest marks load reports for a request that was already
	// overtaken. OnError leaves the track alone for those.
	ErrStaleRequest = errors.New("stale load request")
)

// Config holds mixer configuration.
type Config struct {
	Volume      [audio.TypeCount]float64 // Gain per track type
	EventBuffer int                      // Capacity of the event channel
}

// DefaultConfig returns full volume on every type.
func DefaultConfig() Config {
	return Config{
		Volume:      [audio.TypeCount]float64{1, 1, 1},
		EventBuffer: 32,
	}
}

// LoaderControl is the decode side the mixer hands work to.
// Its methods must not be called with the mixer lock held.
type LoaderControl interface {
	Start(id audio.MsgID, positionMs int64)
	Load(id audio.MsgID)
	Cancel(id audio.MsgID)
}

// Mixer owns every Track. The mixer lock guards all tracks and every device
// call made on their streams.
type Mixer struct {
	mu sync.Mutex

	dev     device.OutputDevice
	loaders LoaderControl

	tracks  [audio.TypeCount][TogetherLimit]*Track
	current [audio.TypeCount]int
	volume  [audio.TypeCount]float64

	eventCh chan Event
	closed  bool
}

// New creates a new mixer on dev.
func New(dev device.OutputDevice, config Config) *Mixer {
	if config.EventBuffer <= 0 {
		config.EventBuffer = 32
	}
	m := &Mixer{
		dev:     dev,
		volume:  config.Volume,
		eventCh: make(chan Event, config.EventBuffer),
	}
	for t := range m.tracks {
		for i := range m.tracks[t] {
			m.tracks[t][i] = &Track{}
		}
	}
	return m
}

// SetLoaders connects the decode side. It must be called before Play.
func (m *Mixer) SetLoaders(l LoaderControl) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaders = l
}

// Events returns the event channel.
func (m *Mixer) Events() <-chan Event {
	return m.eventCh
}

// Lock acquires the shared track lock.
func (m *Mixer) Lock() {
	m.mu.Lock()
}

// Unlock releases the shared track lock.
func (m *Mixer) Unlock() {
	m.mu.Unlock()
}

// TrackForType returns the current track of t. Must be called with lock held.
func (m *Mixer) TrackForType(t audio.Type) *Track {
	if !t.Valid() {
		return nil
	}
	return m.tracks[t][m.current[t]]
}

// TracksForType returns every track slot of t. Must be called with lock held.
func (m *Mixer) TracksForType(t audio.Type) []*Track {
	if !t.Valid() {
		return nil
	}
	return m.tracks[t][:]
}

// Device returns the output device.
func (m *Mixer) Device() device.OutputDevice {
	return m.dev
}

// Volume returns the gain for t. Must be called with lock held.
func (m *Mixer) Volume(t audio.Type) float64 {
	if !t.Valid() {
		return 0
	}
	return m.volume[t]
}

// SetStoppedState stops tr's stream and moves it to state. Must be called with lock held.
func (m *Mixer) SetStoppedState(tr *Track, state audio.State) {
	tr.State.State = state
	tr.FadeStartPosition = 0
	if tr.Stream != nil {
		if err := tr.Stream.Stop(); err != nil {
			zlog.Warn().Err(err).Msgf("mixer: failed to stop stream: id=%s", tr.State.ID)
		}
	}
	m.sendEventLocked(Event{Type: EventStateChanged, ID: tr.State.ID, State: state})
}

// Play starts playback of id from positionMs, superseding whatever plays on its type.
func (m *Mixer) Play(id audio.MsgID, media audio.Media, positionMs int64) error {
	if id.IsZero() || !id.Type.Valid() {
		return errors.Wrapf(ErrInvalidID, "%s", id)
	}

	m.mu.Lock()
	if m.loaders == nil {
		m.mu.Unlock()
		return errors.New("mixer has no loaders")
	}

	var superseded audio.MsgID
	if cur := m.TrackForType(id.Type); !cur.State.ID.IsZero() && !audio.IsStopped(cur.State.State) {
		superseded = cur.State.ID
		m.SetStoppedState(cur, audio.StateStopped)
	}

	slot := m.pickSlotLocked(id.Type)
	m.current[id.Type] = slot
	tr := m.tracks[id.Type][slot]
	tr.Clear()
	tr.State.ID = id
	tr.State.State = audio.StateStarting
	tr.Media = media
	tr.Loading = true
	m.sendEventLocked(Event{Type: EventStateChanged, ID: id, State: audio.StateStarting})
	loaders := m.loaders
	m.mu.Unlock()

	zlog.Debug().Msgf("mixer: play: id=%s slot=%d position=%dms superseded=%s", id, slot, positionMs, superseded)
	if !superseded.IsZero() {
		loaders.Cancel(superseded)
	}
	loaders.Start(id, positionMs)
	return nil
}

// pickSlotLocked returns the slot after the current one that is free, or the current one.
func (m *Mixer) pickSlotLocked(t audio.Type) int {
	cur := m.current[t]
	for i := 1; i <= TogetherLimit; i++ {
		idx := (cur + i) % TogetherLimit
		tr := m.tracks[t][idx]
		if tr.State.ID.IsZero() || audio.IsStopped(tr.State.State) {
			return idx
		}
	}
	return cur
}

// Pause pauses id if it is the current track of its type.
func (m *Mixer) Pause(id audio.MsgID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr := m.TrackForType(id.Type)
	if tr == nil || tr.State.ID != id {
		return ErrNotCurrent
	}
	if !audio.IsActive(tr.State.State) {
		return ErrNotPlaying
	}

	if tr.Stream != nil {
		if err := tr.Stream.Pause(); err != nil {
			m.SetStoppedState(tr, audio.StateStoppedAtError)
			return errors.Wrap(err, "failed to pause stream")
		}
	}
	tr.State.State = audio.StatePaused
	m.sendEventLocked(Event{Type: EventStateChanged, ID: id, State: audio.StatePaused})
	return nil
}

// Resume resumes id if it is the paused current track of its type.
func (m *Mixer) Resume(id audio.MsgID) error {
	m.mu.Lock()

	tr := m.TrackForType(id.Type)
	if tr == nil || tr.State.ID != id {
		m.mu.Unlock()
		return ErrNotCurrent
	}
	if tr.State.State != audio.StatePaused {
		m.mu.Unlock()
		return ErrNotPaused
	}

	tr.State.State = audio.StateResuming
	if tr.Stream != nil {
		state, err := tr.Stream.State()
		if err == nil && state == device.SourcePaused {
			if err = tr.Stream.SetGain(m.Volume(id.Type)); err == nil {
				err = tr.Stream.Play()
			}
		}
		if err != nil {
			m.SetStoppedState(tr, audio.StateStoppedAtError)
			m.mu.Unlock()
			return errors.Wrap(err, "failed to resume stream")
		}
	}

	needLoad := !tr.Loaded && !tr.Loading
	if needLoad {
		tr.Loading = true
		tr.LoadRequested = true
	}
	m.sendEventLocked(Event{Type: EventStateChanged, ID: id, State: audio.StateResuming})
	loaders := m.loaders
	m.mu.Unlock()

	if needLoad && loaders != nil {
		loaders.Load(id)
	}
	return nil
}

// Stop stops the current track of t and cancels its loading.
func (m *Mixer) Stop(t audio.Type) {
	m.mu.Lock()
	tr := m.TrackForType(t)
	if tr == nil || tr.State.ID.IsZero() {
		m.mu.Unlock()
		return
	}
	id := tr.State.ID
	if !audio.IsStopped(tr.State.State) {
		m.SetStoppedState(tr, audio.StateStopped)
	}
	loaders := m.loaders
	m.mu.Unlock()

	if loaders != nil {
		loaders.Cancel(id)
	}
}

// SetVolume changes the gain of t and applies it to every playing stream of that type.
func (m *Mixer) SetVolume(t audio.Type, volume float64) {
	if !t.Valid() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.volume[t] = volume
	for _, tr := range m.tracks[t] {
		if tr.Stream == nil || audio.IsStopped(tr.State.State) {
			continue
		}
		if err := tr.Stream.SetGain(volume); err != nil {
			zlog.Warn().Err(err).Msgf("mixer: failed to set gain: id=%s", tr.State.ID)
		}
	}
}

// Snapshot returns the state of the current track of t.
func (m *Mixer) Snapshot(t audio.Type) TrackState {
	m.mu.Lock()
	defer m.mu.Unlock()

	tr := m.TrackForType(t)
	if tr == nil {
		return TrackState{}
	}
	return tr.Snapshot()
}

// OnError records a load failure reported for id.
// Reports for ids that are no longer playing only produce the event.
// Stale request reports are logged and dropped.
func (m *Mixer) OnError(id audio.MsgID, err error) {
	if errors.Is(err, ErrStaleRequest) {
		zlog.Debug().Err(err).Msgf("mixer: stale load request: id=%s", id)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tr := range m.TracksForType(id.Type) {
		if tr.State.ID == id && !audio.IsStopped(tr.State.State) {
			m.SetStoppedState(tr, audio.StateStoppedAtError)
		}
	}
	m.sendEventLocked(Event{Type: EventError, ID: id, State: audio.StateStoppedAtError, Err: err})
}

// Poll updates positions from the device, frees played slots, promotes
// starting tracks to playing, detects finished tracks and asks the loaders
// for more data where a slot became free.
func (m *Mixer) Poll() {
	var toLoad []audio.MsgID

	m.mu.Lock()
	for _, t := range audio.Types {
		for _, tr := range m.tracks[t] {
			if tr.State.ID.IsZero() || audio.IsStopped(tr.State.State) || tr.State.State == audio.StatePaused {
				continue
			}
			if m.updateTrackLocked(tr) {
				toLoad = append(toLoad, tr.State.ID)
			}
		}
	}
	loaders := m.loaders
	m.mu.Unlock()

	if loaders == nil {
		return
	}
	for _, id := range toLoad {
		loaders.Load(id)
	}
}

// updateTrackLocked refreshes one track and reports whether it needs more data.
func (m *Mixer) updateTrackLocked(tr *Track) bool {
	if tr.Stream == nil {
		if tr.Loaded {
			m.finishLocked(tr)
		}
		return false
	}

	freed, err := tr.unqueueProcessed()
	var offset int64
	var state device.SourceState
	if err == nil {
		offset, err = tr.Stream.SampleOffset()
	}
	if err == nil {
		state, err = tr.Stream.State()
	}
	if err != nil {
		zlog.Warn().Err(err).Msgf("mixer: device poll failed: id=%s", tr.State.ID)
		m.SetStoppedState(tr, audio.StateStoppedAtError)
		m.sendEventLocked(Event{Type: EventError, ID: tr.State.ID, State: audio.StateStoppedAtError, Err: err})
		return false
	}

	tr.State.Position = tr.BufferedPosition + offset
	if state == device.SourcePlaying && tr.State.State != audio.StatePlaying {
		tr.State.State = audio.StatePlaying
		m.sendEventLocked(Event{Type: EventStateChanged, ID: tr.State.ID, State: audio.StatePlaying})
	}

	if tr.Loaded {
		if state == device.SourceStopped && tr.State.Position >= tr.State.Length {
			m.finishLocked(tr)
		}
		return false
	}
	if tr.Loading {
		// One request in flight is enough to pick up every freed slot.
		if freed == 0 || tr.LoadRequested {
			return false
		}
		tr.LoadRequested = true
		return true
	}
	slot, err := tr.Stream.FreeSlot()
	if err != nil || slot < 0 {
		return false
	}
	tr.Loading = true
	tr.LoadRequested = true
	return true
}

func (m *Mixer) finishLocked(tr *Track) {
	tr.State.State = audio.StateFinished
	tr.State.Position = tr.State.Length
	zlog.Debug().Msgf("mixer: finished: id=%s length=%d", tr.State.ID, tr.State.Length)
	m.sendEventLocked(Event{Type: EventStateChanged, ID: tr.State.ID, State: audio.StateFinished})
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (m *Mixer) sendEventLocked(e Event) {
	if m.closed {
		return
	}
	select {
	case m.eventCh <- e:
	default:
		zlog.Warn().Msgf("mixer: event dropped: type=%s id=%s", e.Type, e.ID)
	}
}

// Close stops every stream and closes the event channel.
func (m *Mixer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	for t := range m.tracks {
		for _, tr := range m.tracks[t] {
			if tr.Stream != nil {
				_ = tr.Stream.Close()
			}
		}
	}
	close(m.eventCh)
}
