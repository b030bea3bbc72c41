package spectro

import (
	"github.com/RyanBlaney/sonido-vocal/errs"
)

// FreqScale selects the frequency axis mapping
type FreqScale string

const (
	ScaleLinear FreqScale = "linear"
	ScaleMel    FreqScale = "mel"
)

// Shape is the fixed target shape of every spectrogram record in a run
type Shape struct {
	Freq int `json:"freq" yaml:"freq"` // frequency bins
	Time int `json:"time" yaml:"time"` // time bins
}

// Config holds the spectrogram transform configuration. Identical
// (recording, segment bounds, config) inputs always yield bit-identical
// arrays: the build path has no randomness and a fixed reduction order.
type Config struct {
	WindowSize int       `json:"window_size" yaml:"window_size"` // STFT window, samples
	HopSize    int       `json:"hop_size" yaml:"hop_size"`       // STFT hop, samples
	Scale      FreqScale `json:"scale" yaml:"scale"`
	MinFreq    float64   `json:"min_freq" yaml:"min_freq"` // Hz
	MaxFreq    float64   `json:"max_freq" yaml:"max_freq"` // Hz
	MelBands   int       `json:"mel_bands" yaml:"mel_bands"`
	Target     Shape     `json:"target" yaml:"target"`
	FloorDB    float64   `json:"floor_db" yaml:"floor_db"` // log floor; also the padding value
}

// DefaultConfig returns documented defaults for vocalization spectrograms
func DefaultConfig() Config {
	return Config{
		WindowSize: 512,
		HopSize:    128,
		Scale:      ScaleMel,
		MinFreq:    300,
		MaxFreq:    12000,
		MelBands:   64,
		Target:     Shape{Freq: 128, Time: 128},
		FloorDB:    -80,
	}
}

// Validate rejects out-of-range values; nothing is silently defaulted
func (c Config) Validate() error {
	if c.WindowSize <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "window_size must be positive, got %d", c.WindowSize)
	}
	if c.HopSize <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "hop_size must be positive, got %d", c.HopSize)
	}
	if c.Target.Freq <= 0 || c.Target.Time <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "target shape must be positive, got %dx%d",
			c.Target.Freq, c.Target.Time)
	}
	if c.Scale != ScaleLinear && c.Scale != ScaleMel {
		return errs.Newf(errs.CodeInvalidParameter, "unknown frequency scale %q", c.Scale)
	}
	if c.Scale == ScaleMel && c.MelBands <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "mel_bands must be positive, got %d", c.MelBands)
	}
	if c.MinFreq < 0 || c.MaxFreq <= c.MinFreq {
		return errs.Newf(errs.CodeInvalidParameter, "invalid frequency range [%f, %f]", c.MinFreq, c.MaxFreq)
	}
	if c.FloorDB >= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "floor_db must be negative, got %f", c.FloorDB)
	}
	return nil
}

// Map returns the canonical option map for fingerprinting
func (c Config) Map() map[string]any {
	return map[string]any{
		"window_size": c.WindowSize,
		"hop_size":    c.HopSize,
		"scale":       string(c.Scale),
		"min_freq":    c.MinFreq,
		"max_freq":    c.MaxFreq,
		"mel_bands":   c.MelBands,
		"target_freq": c.Target.Freq,
		"target_time": c.Target.Time,
		"floor_db":    c.FloorDB,
	}
}

// ConfigFromMap builds a Config from a generic option map, starting from
// defaults. Unrecognized keys are rejected rather than silently ignored.
func ConfigFromMap(opts map[string]any) (Config, error) {
	c := DefaultConfig()
	for key, value := range opts {
		switch key {
		case "window_size":
			v, ok := asInt(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not an integer: %v", key, value)
			}
			c.WindowSize = v
		case "hop_size":
			v, ok := asInt(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not an integer: %v", key, value)
			}
			c.HopSize = v
		case "scale":
			s, ok := value.(string)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not a string: %v", key, value)
			}
			c.Scale = FreqScale(s)
		case "min_freq":
			v, ok := asFloat(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not numeric: %v", key, value)
			}
			c.MinFreq = v
		case "max_freq":
			v, ok := asFloat(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not numeric: %v", key, value)
			}
			c.MaxFreq = v
		case "mel_bands":
			v, ok := asInt(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not an integer: %v", key, value)
			}
			c.MelBands = v
		case "target_freq":
			v, ok := asInt(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not an integer: %v", key, value)
			}
			c.Target.Freq = v
		case "target_time":
			v, ok := asInt(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not an integer: %v", key, value)
			}
			c.Target.Time = v
		case "floor_db":
			v, ok := asFloat(value)
			if !ok {
				return c, errs.Newf(errs.CodeInvalidParameter, "option %q is not numeric: %v", key, value)
			}
			c.FloorDB = v
		default:
			return c, errs.Newf(errs.CodeUnrecognizedParameter, "unrecognized spectrogram option %q", key)
		}
	}
	return c, c.Validate()
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
