package device

import (
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
)

// Backend names accepted by New.
const (
	BackendNull = "null"
	BackendOto  = "oto"
)

// New creates the output device for the configured backend.
func New(backend string, slots int, settings map[string]any) (OutputDevice, error) {
	zlog.Debug().Msgf("device: creating backend: type=%s slots=%d settings=%+v", backend, slots, settings)
	switch backend {
	case BackendNull:
		return NewNull(slots), nil
	case BackendOto:
		var s OtoSettings
		if err := DecodeSettings(settings, &s); err != nil {
			return nil, errors.Wrap(err, "invalid oto settings")
		}
		return NewOto(s, slots), nil
	default:
		return nil, errors.Newf("unsupported device backend: %s", backend)
	}
}

// DecodeSettings decodes a backend settings map into out, applies defaults and validates it.
func DecodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
