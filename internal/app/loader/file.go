package loader

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/audiofeed/internal/domain/audio"
)

// chunkFrames is the number of frames decoded per ReadMore call.
const chunkFrames = 4096

// Container formats FileLoader can decode.
const (
	containerWAV = "wav"
	containerMP3 = "mp3"
)

// FileLoader decodes a standalone media file, from disk or memory, with beep.
type FileLoader struct {
	saved

	src      audio.Source
	streamer beep.StreamSeekCloser
	format   beep.Format
	buf      [][2]float64
}

// NewFileLoader creates a loader for src. Nothing is read until Open.
func NewFileLoader(src audio.Source) *FileLoader {
	return &FileLoader{src: src}
}

func (l *FileLoader) Open(positionMs int64) error {
	if l.streamer != nil {
		return errors.New("file loader already open")
	}

	rc, err := l.openSource()
	if err != nil {
		return err
	}

	container, err := sniffContainer(rc, l.src.Path)
	if err != nil {
		_ = rc.Close()
		return err
	}

	var streamer beep.StreamSeekCloser
	var format beep.Format
	switch container {
	case containerWAV:
		streamer, format, err = wav.Decode(rc)
	case containerMP3:
		streamer, format, err = mp3.Decode(rc)
	}
	if err != nil {
		_ = rc.Close()
		return errors.Wrapf(err, "failed to decode %s stream", container)
	}
	if format.NumChannels < 1 || format.SampleRate <= 0 {
		_ = streamer.Close()
		return errors.Newf("bad stream format: channels=%d rate=%d", format.NumChannels, format.SampleRate)
	}

	l.streamer = streamer
	l.format = format
	l.buf = make([][2]float64, chunkFrames)

	if positionMs > 0 {
		position := int(positionMs * int64(format.SampleRate) / 1000)
		if length := streamer.Len(); position > length {
			position = length
		}
		if err := streamer.Seek(position); err != nil {
			return errors.Wrapf(err, "failed to seek to %dms", positionMs)
		}
	}

	zlog.Debug().Msgf("loader: opened %s source: path=%q rate=%d channels=%d length=%d",
		container, l.src.Path, format.SampleRate, format.NumChannels, streamer.Len())
	return nil
}

func (l *FileLoader) openSource() (io.ReadSeekCloser, error) {
	if len(l.src.Data) > 0 {
		return nopCloser{bytes.NewReader(l.src.Data)}, nil
	}
	if l.src.Path == "" {
		return nil, errors.New("empty audio source")
	}
	f, err := os.Open(l.src.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open audio file")
	}
	return f, nil
}

// sniffContainer detects the container from its magic bytes, falling back to the file extension.
func sniffContainer(r io.ReadSeeker, path string) (string, error) {
	var magic [4]byte
	n, err := io.ReadFull(r, magic[:])
	if _, serr := r.Seek(0, io.SeekStart); serr != nil {
		return "", errors.Wrap(serr, "failed to rewind audio source")
	}
	if err == nil || (errors.Is(err, io.ErrUnexpectedEOF) && n > 0) {
		switch {
		case string(magic[:n]) == "RIFF":
			return containerWAV, nil
		case n >= 3 && string(magic[:3]) == "ID3":
			return containerMP3, nil
		case n >= 2 && magic[0] == 0xff && magic[1]&0xe0 == 0xe0:
			return containerMP3, nil
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return containerWAV, nil
	case ".mp3":
		return containerMP3, nil
	}
	return "", errors.Newf("unsupported audio container: %q", path)
}

func (l *FileLoader) Check(src audio.Source) bool {
	return l.src.Same(src)
}

func (l *FileLoader) Format() audio.Format {
	if l.format.NumChannels == 1 {
		return audio.FormatMono16
	}
	return audio.FormatStereo16
}

func (l *FileLoader) SamplesCount() int64 {
	if l.streamer == nil {
		return 0
	}
	return int64(l.streamer.Len())
}

func (l *FileLoader) SamplesFrequency() int {
	return int(l.format.SampleRate)
}

func (l *FileLoader) ReadMore(samples *Samples) ReadResult {
	if l.streamer == nil {
		return ReadError
	}
	n, ok := l.streamer.Stream(l.buf)
	if n == 0 {
		if err := l.streamer.Err(); err != nil {
			zlog.Warn().Err(err).Msgf("loader: decode failed: path=%q", l.src.Path)
			return ReadError
		}
		if !ok {
			return ReadEndOfFile
		}
		return ReadOk
	}

	channels := l.Format().Channels
	var frame [4]byte
	for _, s := range l.buf[:n] {
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(frame[c*2:], uint16(toInt16(s[c])))
		}
		samples.Data = append(samples.Data, frame[:channels*2]...)
	}
	samples.Count += int64(n)
	return ReadOk
}

func (l *FileLoader) Close() error {
	if l.streamer == nil {
		return nil
	}
	err := l.streamer.Close()
	l.streamer = nil
	return err
}

func toInt16(v float64) int16 {
	v = math.Max(-1, math.Min(1, v))
	return int16(v * math.MaxInt16)
}

type nopCloser struct {
	io.ReadSeeker
}

func (nopCloser) Close() error { return nil }
