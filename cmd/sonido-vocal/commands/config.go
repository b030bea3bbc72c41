package commands

import (
	"os"

	"github.com/goccy/go-yaml"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/spectro"
)

// pipelineConfig is the YAML configuration for a processing run
type pipelineConfig struct {
	DataRoot   string   `yaml:"data_root"`
	CacheRoot  string   `yaml:"cache_root"`
	Workers    int      `yaml:"workers"`
	Extensions []string `yaml:"extensions"`
	FFmpegPath string   `yaml:"ffmpeg_path"`

	Strategy  string                   `yaml:"strategy"`
	Amplitude *segment.AmplitudeParams `yaml:"amplitude"`
	Template  *segment.TemplateParams  `yaml:"template"`
	Refine    *segment.RefineParams    `yaml:"refine"`

	Spectrogram *spectro.Config `yaml:"spectrogram"`
}

func defaultPipelineConfig() *pipelineConfig {
	amplitude := segment.DefaultAmplitudeParams()
	spec := spectro.DefaultConfig()
	return &pipelineConfig{
		CacheRoot:   "cache",
		Workers:     4,
		Strategy:    segment.StrategyAmplitude,
		Amplitude:   &amplitude,
		Spectrogram: &spec,
	}
}

// loadPipelineConfig reads a YAML config file on top of defaults.
// Unknown keys are rejected so a typo'd option can never be silently
// ignored.
func loadPipelineConfig(path string) (*pipelineConfig, error) {
	cfg := defaultPipelineConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidParameter, "cannot read config file", err).
			WithField("path", path)
	}
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return nil, errs.Wrap(errs.CodeUnrecognizedParameter, "config parse failed", err).
			WithField("path", path)
	}
	return cfg, nil
}

// segmentParams returns the parameter set matching the configured
// strategy
func (c *pipelineConfig) segmentParams() (segment.Params, error) {
	switch c.Strategy {
	case segment.StrategyAmplitude:
		p := segment.DefaultAmplitudeParams()
		if c.Amplitude != nil {
			p = *c.Amplitude
		}
		return p, p.Validate()
	case segment.StrategyTemplate:
		if c.Template == nil {
			return nil, errs.New(errs.CodeInvalidParameter,
				"strategy \"template\" requires a template section")
		}
		return *c.Template, c.Template.Validate()
	default:
		return nil, errs.Newf(errs.CodeInvalidParameter,
			"unknown segmentation strategy %q (known: %v)", c.Strategy, segment.KnownStrategies())
	}
}

func (c *pipelineConfig) spectrogramConfig() spectro.Config {
	if c.Spectrogram != nil {
		return *c.Spectrogram
	}
	return spectro.DefaultConfig()
}
