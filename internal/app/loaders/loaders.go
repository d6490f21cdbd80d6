// Package loaders provides the decode side of playback: it resolves the
// loader bound to each track type, decodes incrementally and feeds sample
// buffers to the output device.
//
// All loader state is owned by the goroutine running Run. Other goroutines
// reach it through Start, Load and Cancel (posted as commands) and through
// FeedVideo and ForceToBufferVideo (the packet queue).
package loaders

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiofeed/internal/app/loader"
	"github.com/osa030/audiofeed/internal/app/mixer"
	"github.com/osa030/audiofeed/internal/domain/audio"
	"github.com/osa030/audiofeed/internal/infra/device"
	"github.com/osa030/audiofeed/internal/infra/metrics"
)

// DefaultBufferSize is the byte budget of one buffer handed to the device.
const DefaultBufferSize = 256 * 1024

// TrackRegistry is the shared track state the loaders work against.
// Its lock guards every Track and every device call.
type TrackRegistry interface {
	sync.Locker
	TrackForType(t audio.Type) *mixer.Track
	TracksForType(t audio.Type) []*mixer.Track
	SetStoppedState(tr *mixer.Track, state audio.State)
	Device() device.OutputDevice
	Volume(t audio.Type) float64
}

// Config holds loaders configuration.
type Config struct {
	BufferSize  int            // Byte budget per device buffer
	EventBuffer int            // Capacity of the event channel
	Factory     loader.Factory // Creates loaders for new playback
	Metrics     *metrics.Metrics
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdLoad
	cmdCancel
)

type command struct {
	kind       commandKind
	id         audio.MsgID
	positionMs int64
}

// slot binds the loader of one track type to the id it decodes.
type slot struct {
	id     audio.MsgID
	loader loader.Loader
}

// Loaders decodes audio for every track type.
type Loaders struct {
	registry TrackRegistry
	config   Config

	notify *Notifier
	queue  *PacketQueue
	slots  [audio.TypeCount]slot

	cmdCh   chan command
	eventCh chan Event

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates loaders bound to registry.
func New(registry TrackRegistry, config Config) *Loaders {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = 32
	}
	if config.Factory == nil {
		config.Factory = loader.DefaultFactory{}
	}
	notify := NewNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	return &Loaders{
		registry: registry,
		config:   config,
		notify:   notify,
		queue:    NewPacketQueue(notify),
		cmdCh:    make(chan command, 64),
		eventCh:  make(chan Event, config.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Events returns the event channel.
func (l *Loaders) Events() <-chan Event {
	return l.eventCh
}

// Run is the decode loop. It returns when ctx is done or Close is called,
// releasing every loader and every undelivered packet.
func (l *Loaders) Run(ctx context.Context) error {
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.ctx.Done():
			return nil
		case <-l.notify.C():
			l.videoSoundAdded()
		case cmd := <-l.cmdCh:
			l.handle(cmd)
		}
	}
}

func (l *Loaders) handle(cmd command) {
	switch cmd.kind {
	case cmdStart:
		l.onStart(cmd.id, cmd.positionMs)
	case cmdLoad:
		l.takeLoadRequest(cmd.id)
		l.loadData(cmd.id, 0)
	case cmdCancel:
		l.onCancel(cmd.id)
	}
}

func (l *Loaders) shutdown() {
	for _, t := range audio.Types {
		l.clear(t)
	}
	l.queue.Clear()
}

// Close stops Run.
func (l *Loaders) Close() {
	l.cancel()
}

func (l *Loaders) post(cmd command) {
	select {
	case l.cmdCh <- cmd:
	case <-l.ctx.Done():
	}
}

// Start begins loading id from positionMs. The mixer has already made id current.
func (l *Loaders) Start(id audio.MsgID, positionMs int64) {
	l.post(command{kind: cmdStart, id: id, positionMs: positionMs})
}

// Load decodes the next part of id.
func (l *Loaders) Load(id audio.MsgID) {
	l.post(command{kind: cmdLoad, id: id})
}

// Cancel abandons loading of id.
func (l *Loaders) Cancel(id audio.MsgID) {
	l.post(command{kind: cmdCancel, id: id})
}

// FeedVideo queues a demuxed packet for id. Safe to call from any goroutine.
func (l *Loaders) FeedVideo(id audio.MsgID, packet audio.Packet) {
	l.config.Metrics.PacketFed(id.Type)
	l.queue.Feed(id, packet)
}

// ForceToBufferVideo asks the loader of id to flush partial output. Safe to call from any goroutine.
func (l *Loaders) ForceToBufferVideo(id audio.MsgID) {
	l.queue.ForceToBuffer(id)
}

// videoSoundAdded routes everything the producers queued since the last wake.
func (l *Loaders) videoSoundAdded() {
	queues, forces := l.queue.Drain()

	for id := range forces {
		s := &l.slots[id.Type]
		if s.id != id || s.loader == nil {
			continue
		}
		s.loader.SetForceToBuffer(true)
		if _, pending := queues[id]; !pending && s.loader.HoldsSavedDecodedSamples() {
			l.loadData(id, 0)
		}
	}

	for id, packets := range queues {
		s := &l.slots[id.Type]
		if s.id != id || s.loader == nil {
			zlog.Debug().Msgf("loaders: discarding %d packets without loader: id=%s", len(packets), id)
			l.config.Metrics.PacketsDiscarded(id.Type, len(packets))
			audio.ReleasePackets(packets)
			continue
		}
		consumer, ok := s.loader.(loader.PacketConsumer)
		if !ok {
			l.config.Metrics.PacketsDiscarded(id.Type, len(packets))
			audio.ReleasePackets(packets)
			continue
		}
		consumer.EnqueuePackets(packets)
		if s.loader.HoldsSavedDecodedSamples() {
			l.loadData(id, 0)
		}
	}
}

// onStart drops the previous loader of the type and loads id from scratch.
func (l *Loaders) onStart(id audio.MsgID, positionMs int64) {
	l.clear(id.Type)

	l.registry.Lock()
	tr := l.registry.TrackForType(id.Type)
	if tr == nil {
		l.registry.Unlock()
		return
	}
	tr.Loading = true
	l.registry.Unlock()

	l.loadData(id, positionMs)
}

// onCancel drops the loader of id and clears the loading flag of every slot
// playing id, so a pass still in flight aborts at its next check.
func (l *Loaders) onCancel(id audio.MsgID) {
	if l.slots[id.Type].id == id {
		l.clear(id.Type)
	}

	l.registry.Lock()
	defer l.registry.Unlock()

	for _, tr := range l.registry.TracksForType(id.Type) {
		if tr.State.ID == id {
			tr.Loading = false
		}
	}
}

// emitError unbinds the loader of id's type and reports err for id.
func (l *Loaders) emitError(id audio.MsgID, err error) {
	l.clear(id.Type)
	l.reportError(id, err)
}

func (l *Loaders) reportError(id audio.MsgID, err error) {
	l.config.Metrics.Error(id.Type, errorKind(err))
	zlog.Warn().Err(err).Msgf("loaders: load failed: id=%s", id)
	l.sendEvent(Event{Type: EventError, ID: id, Err: err})
}

// sendEvent sends an event without blocking.
func (l *Loaders) sendEvent(e Event) {
	select {
	case l.eventCh <- e:
	default:
		zlog.Warn().Msgf("loaders: event dropped: type=%s id=%s", e.Type, e.ID)
	}
}
