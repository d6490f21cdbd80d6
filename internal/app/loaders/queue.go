package loaders

import (
	"sync"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

// Notifier wakes the decode goroutine. Notifications coalesce: any number of
// Notify calls before the receiver runs produce a single wake.
type Notifier struct {
	ch chan struct{}
}

// NewNotifier creates a new notifier.
func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify signals the receiver without blocking.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// C returns the channel the receiver waits on.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}

// PacketQueue collects packets and force-to-buffer requests from demuxer
// goroutines for the decode goroutine. It has its own mutex so producers never
// contend with the mixer lock.
type PacketQueue struct {
	mu     sync.Mutex
	queues map[audio.MsgID][]audio.Packet
	forces map[audio.MsgID]struct{}
	notify *Notifier
	closed bool
}

// NewPacketQueue creates an empty queue waking notify on the empty to non-empty transition.
func NewPacketQueue(notify *Notifier) *PacketQueue {
	return &PacketQueue{
		queues: make(map[audio.MsgID][]audio.Packet),
		forces: make(map[audio.MsgID]struct{}),
		notify: notify,
	}
}

// Feed appends packet to the queue of id. Once the queue is cleared the
// packet is released right away.
func (q *PacketQueue) Feed(id audio.MsgID, packet audio.Packet) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		packet.Release()
		return
	}
	invoke := q.emptyLocked()
	q.queues[id] = append(q.queues[id], packet)
	q.mu.Unlock()

	if invoke {
		q.notify.Notify()
	}
}

// ForceToBuffer asks the loader of id to flush what it has decoded so far.
func (q *PacketQueue) ForceToBuffer(id audio.MsgID) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	invoke := q.emptyLocked()
	q.forces[id] = struct{}{}
	q.mu.Unlock()

	if invoke {
		q.notify.Notify()
	}
}

func (q *PacketQueue) emptyLocked() bool {
	return len(q.queues) == 0 && len(q.forces) == 0
}

// Drain takes everything queued so far, leaving the queue empty.
func (q *PacketQueue) Drain() (map[audio.MsgID][]audio.Packet, map[audio.MsgID]struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	queues, forces := q.queues, q.forces
	q.queues = make(map[audio.MsgID][]audio.Packet)
	q.forces = make(map[audio.MsgID]struct{})
	return queues, forces
}

// Clear releases every undelivered packet and closes the queue.
func (q *PacketQueue) Clear() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	queues, _ := q.Drain()
	for _, packets := range queues {
		audio.ReleasePackets(packets)
	}
}
