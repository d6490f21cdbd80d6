package audio

// Format describes interleaved PCM samples.
type Format struct {
	Channels      int
	BitsPerSample int
}

var (
	FormatMono16   = Format{Channels: 1, BitsPerSample: 16}
	FormatStereo16 = Format{Channels: 2, BitsPerSample: 16}
)

// FrameSize returns the number of bytes of one sample frame (all channels).
func (f Format) FrameSize() int {
	return f.Channels * f.BitsPerSample / 8
}

// Valid reports whether the format can be played by an output device.
func (f Format) Valid() bool {
	return (f.Channels == 1 || f.Channels == 2) && (f.BitsPerSample == 8 || f.BitsPerSample == 16)
}

// Source identifies the media a file loader reads: a path, in-memory bytes, or both.
type Source struct {
	Path string
	Data []byte
}

// IsEmpty reports whether the source points at nothing.
func (s Source) IsEmpty() bool {
	return s.Path == "" && len(s.Data) == 0
}

// Same reports whether s and o refer to the same media.
// In-memory data is compared by identity, not content.
func (s Source) Same(o Source) bool {
	if s.Path != o.Path || len(s.Data) != len(o.Data) {
		return false
	}
	if len(s.Data) == 0 {
		return true
	}
	return &s.Data[0] == &o.Data[0]
}

// VideoSound is the sound track description a video player hands over when
// it starts playing a video with audio.
type VideoSound struct {
	Codec     string // Registered codec name, e.g. "opus"
	Frequency int    // Samples per second
	Channels  int
	Length    int64 // Total sample frames, 0 when unknown
}

// Media is everything needed to start playback of one MsgID.
type Media struct {
	Source Source
	Video  *VideoSound
}
