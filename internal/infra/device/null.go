package device

import "sync"

// NullDevice is an in-process device whose streams are only consumed by
// whoever reads them. It backs tests and dry runs.
type NullDevice struct {
	mu        sync.Mutex
	slots     int
	attached  bool
	connected bool
	streams   []*RingStream
}

var _ OutputDevice = (*NullDevice)(nil)

// NewNull creates a connected null device whose streams have the given number of slots.
func NewNull(slots int) *NullDevice {
	return &NullDevice{slots: slots, connected: true}
}

func (d *NullDevice) Attach() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return ErrDisconnected
	}
	d.attached = true
	return nil
}

func (d *NullDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// SetConnected simulates the device going away or coming back.
func (d *NullDevice) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

func (d *NullDevice) NewStream() (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil, ErrDisconnected
	}
	s := NewRingStream(d.slots)
	d.streams = append(d.streams, s)
	return s, nil
}

// Streams returns every stream created so far.
func (d *NullDevice) Streams() []*RingStream {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := make([]*RingStream, len(d.streams))
	copy(result, d.streams)
	return result
}
