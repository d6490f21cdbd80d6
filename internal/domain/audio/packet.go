package audio

// Packet is one compressed audio packet produced by a video demuxer.
// The release hook returns the packet's underlying resources to its owner and
// must run exactly once, whether the packet is decoded or discarded.
type Packet struct {
	Data    []byte
	eos     bool
	release func()
}

// NewPacket wraps compressed data. release may be nil.
func NewPacket(data []byte, release func()) Packet {
	return Packet{Data: data, release: release}
}

// EndOfStream returns the sentinel packet marking the end of a video's audio.
func EndOfStream() Packet {
	return Packet{eos: true}
}

// IsEndOfStream reports whether p is the end-of-stream sentinel.
func (p *Packet) IsEndOfStream() bool {
	return p.eos
}

// Release frees the packet. Subsequent calls are no-ops.
func (p *Packet) Release() {
	if p.release != nil {
		release := p.release
		p.release = nil
		release()
	}
	p.Data = nil
}

// ReleasePackets releases every packet in packets.
func ReleasePackets(packets []Packet) {
	for i := range packets {
		packets[i].Release()
	}
}
