// Package audio provides the playable-unit identity and the value types shared
// by the loaders, the mixer and the output device.
package audio

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Type represents the logical track an audio unit plays on.
type Type int

const (
	TypeVoice Type = iota // Voice message
	TypeSong              // Music file
	TypeVideo             // Soundtrack of a playing video
)

// TypeCount is the number of track types. Per-type state is kept in arrays of this size.
const TypeCount = 3

// Types lists every track type in index order.
var Types = [TypeCount]Type{TypeVoice, TypeSong, TypeVideo}

// String returns the string representation of the type.
func (t Type) String() string {
	switch t {
	case TypeVoice:
		return "voice"
	case TypeSong:
		return "song"
	case TypeVideo:
		return "video"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the known track types.
func (t Type) Valid() bool {
	return t >= TypeVoice && t < TypeCount
}

// ParseType parses the string form of a track type.
func ParseType(s string) (Type, error) {
	for _, t := range Types {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, errors.Newf("unknown track type %q", s)
}

// MsgID identifies a playable unit.
// PlayID distinguishes several plays of the same source; a non-zero PlayID
// means the audio comes from the sound track of a video.
type MsgID struct {
	Type   Type
	ID     string
	PlayID uint32
}

// NewMsgID creates a new MsgID.
func NewMsgID(t Type, id string, playID uint32) MsgID {
	return MsgID{Type: t, ID: id, PlayID: playID}
}

// IsZero reports whether m is the empty identity.
func (m MsgID) IsZero() bool {
	return m == MsgID{}
}

// FromVideo reports whether the audio is muxed inside a video.
func (m MsgID) FromVideo() bool {
	return m.PlayID != 0
}

func (m MsgID) String() string {
	if m.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%s#%d", m.Type, m.ID, m.PlayID)
}
