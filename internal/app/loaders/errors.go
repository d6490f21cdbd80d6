package loaders

import "github.com/cockroachdb/errors"

// Errors
var (
	ErrNotPlaying        = errors.New("audio is not current")
	ErrVideoDataNotReady = errors.New("video sound data not ready")
	ErrOpenFailed        = errors.New("loader open failed")
	ErrZeroLength        = errors.New("loader reported zero length")
	ErrAlreadyLoadedFull = errors.New("audio already loaded to the end")
	ErrDecodeAtStart     = errors.New("decode failed before any sample was produced")
	ErrDevice            = errors.New("output device error")
)

// errorKind names err for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotPlaying):
		return "not_playing"
	case errors.Is(err, ErrVideoDataNotReady):
		return "video_data_not_ready"
	case errors.Is(err, ErrZeroLength):
		return "zero_length"
	case errors.Is(err, ErrOpenFailed):
		return "open_failed"
	case errors.Is(err, ErrAlreadyLoadedFull):
		return "already_loaded_full"
	case errors.Is(err, ErrDecodeAtStart):
		return "decode_at_start"
	case errors.Is(err, ErrDevice):
		return "device"
	default:
		return "other"
	}
}

// deviceError tags a failed device call.
func deviceError(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrDevice)
}
