package segment

import (
	"github.com/RyanBlaney/sonido-vocal/errs"
)

// Strategy names recognized by the registry
const (
	StrategyAmplitude = "amplitude"
	StrategyTemplate  = "template"
)

// Params is a validated, enumerable parameter set for one strategy.
// Map exposes every recognized option for fingerprinting; there is no
// open-ended untyped mapping anywhere in the pipeline.
type Params interface {
	Strategy() string
	Validate() error
	Map() map[string]any
}

// AmplitudeParams configures amplitude-threshold segmentation. All
// durations are in seconds.
type AmplitudeParams struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`   // RMS envelope threshold
	MinDur    float64 `json:"min_dur" yaml:"min_dur"`       // minimum segment duration; shorter detections are discarded
	MinGap    float64 `json:"min_gap" yaml:"min_gap"`       // detections closer than this are merged
	Smooth    float64 `json:"smooth" yaml:"smooth"`         // envelope smoothing window
	FrameSec  float64 `json:"frame_sec" yaml:"frame_sec"`   // envelope frame length
	HopSec    float64 `json:"hop_sec" yaml:"hop_sec"`       // envelope hop length
}

// DefaultAmplitudeParams returns documented defaults tuned for short
// vocalization bursts
func DefaultAmplitudeParams() AmplitudeParams {
	return AmplitudeParams{
		Threshold: 0.05,
		MinDur:    0.02,
		MinGap:    0.03,
		Smooth:    0.008,
		FrameSec:  0.01,
		HopSec:    0.002,
	}
}

func (p AmplitudeParams) Strategy() string { return StrategyAmplitude }

// Validate rejects out-of-range values. Invalid values are never silently
// replaced with defaults.
func (p AmplitudeParams) Validate() error {
	if p.Threshold < 0 {
		return errs.Newf(errs.CodeInvalidParameter, "threshold must be non-negative, got %f", p.Threshold)
	}
	if p.MinDur < 0 {
		return errs.Newf(errs.CodeInvalidParameter, "min_dur must be non-negative, got %f", p.MinDur)
	}
	if p.MinGap < 0 {
		return errs.Newf(errs.CodeInvalidParameter, "min_gap must be non-negative, got %f", p.MinGap)
	}
	if p.Smooth < 0 {
		return errs.Newf(errs.CodeInvalidParameter, "smooth must be non-negative, got %f", p.Smooth)
	}
	if p.FrameSec <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "frame_sec must be positive, got %f", p.FrameSec)
	}
	if p.HopSec <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "hop_sec must be positive, got %f", p.HopSec)
	}
	return nil
}

// Map returns the canonical option map for fingerprinting
func (p AmplitudeParams) Map() map[string]any {
	return map[string]any{
		"strategy":  StrategyAmplitude,
		"threshold": p.Threshold,
		"min_dur":   p.MinDur,
		"min_gap":   p.MinGap,
		"smooth":    p.Smooth,
		"frame_sec": p.FrameSec,
		"hop_sec":   p.HopSec,
	}
}

// AmplitudeParamsFromMap builds params from a generic option map, starting
// from defaults. Unrecognized keys are rejected up front so a typo'd option
// can never fingerprint as a distinct-but-valid parameter set.
func AmplitudeParamsFromMap(opts map[string]any) (AmplitudeParams, error) {
	p := DefaultAmplitudeParams()
	for key, value := range opts {
		v, ok := asFloat(value)
		if !ok {
			return p, errs.Newf(errs.CodeInvalidParameter, "option %q is not numeric: %v", key, value)
		}
		switch key {
		case "threshold":
			p.Threshold = v
		case "min_dur":
			p.MinDur = v
		case "min_gap":
			p.MinGap = v
		case "smooth":
			p.Smooth = v
		case "frame_sec":
			p.FrameSec = v
		case "hop_sec":
			p.HopSec = v
		default:
			return p, errs.Newf(errs.CodeUnrecognizedParameter,
				"unrecognized amplitude option %q", key)
		}
	}
	return p, p.Validate()
}

// TemplateParams configures template-matching segmentation. The template
// is matched against the RMS envelope with zero-normalized
// cross-correlation; frames scoring above Threshold seed segments.
type TemplateParams struct {
	Template  []float64 `json:"template" yaml:"template"`
	Threshold float64   `json:"threshold" yaml:"threshold"` // correlation score threshold, 0..1
	MinGap    float64   `json:"min_gap" yaml:"min_gap"`
	FrameSec  float64   `json:"frame_sec" yaml:"frame_sec"`
	HopSec    float64   `json:"hop_sec" yaml:"hop_sec"`
}

// DefaultTemplateParams returns documented defaults. The template itself
// has no default; a nil template fails validation.
func DefaultTemplateParams() TemplateParams {
	return TemplateParams{
		Threshold: 0.7,
		MinGap:    0.03,
		FrameSec:  0.01,
		HopSec:    0.002,
	}
}

func (p TemplateParams) Strategy() string { return StrategyTemplate }

func (p TemplateParams) Validate() error {
	if len(p.Template) < 2 {
		return errs.Newf(errs.CodeInvalidParameter, "template must have at least 2 points, got %d", len(p.Template))
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return errs.Newf(errs.CodeInvalidParameter, "threshold must be within [0, 1], got %f", p.Threshold)
	}
	if p.MinGap < 0 {
		return errs.Newf(errs.CodeInvalidParameter, "min_gap must be non-negative, got %f", p.MinGap)
	}
	if p.FrameSec <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "frame_sec must be positive, got %f", p.FrameSec)
	}
	if p.HopSec <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "hop_sec must be positive, got %f", p.HopSec)
	}
	return nil
}

// Map returns the canonical option map for fingerprinting. The template
// samples participate: two runs with different templates must never share
// a fingerprint.
func (p TemplateParams) Map() map[string]any {
	return map[string]any{
		"strategy":  StrategyTemplate,
		"template":  p.Template,
		"threshold": p.Threshold,
		"min_gap":   p.MinGap,
		"frame_sec": p.FrameSec,
		"hop_sec":   p.HopSec,
	}
}

// RefineParams configures the optional boundary-refinement pass
type RefineParams struct {
	SearchSec float64 `json:"search_sec" yaml:"search_sec"` // half-width of the snap search window
}

// DefaultRefineParams returns documented defaults
func DefaultRefineParams() RefineParams {
	return RefineParams{SearchSec: 0.01}
}

func (p RefineParams) Validate() error {
	if p.SearchSec <= 0 {
		return errs.Newf(errs.CodeInvalidParameter, "search_sec must be positive, got %f", p.SearchSec)
	}
	return nil
}

// Map returns the canonical option map. The base SegmentSet fingerprint is
// layered in by the caller, making refinement a second fingerprint on top
// of the first.
func (p RefineParams) Map() map[string]any {
	return map[string]any{
		"search_sec": p.SearchSec,
	}
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
