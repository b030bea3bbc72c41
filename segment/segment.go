package segment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// Segment is one contiguous time interval, in seconds, believed to contain
// a single vocalization unit
type Segment struct {
	Onset  float64 `json:"onset"`
	Offset float64 `json:"offset"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.Offset - s.Onset
}

// SegmentSet is an ordered, non-overlapping sequence of segments produced
// from one recording under a specific (strategy, params) fingerprint
type SegmentSet struct {
	RecordingID string    `json:"recording_id"`
	Strategy    string    `json:"strategy"`
	Fingerprint string    `json:"fingerprint"`
	Segments    []Segment `json:"segments"`

	// Return-side metadata for auditing
	Discarded int `json:"discarded"` // segments below the minimum duration
	Clipped   int `json:"clipped"`   // offsets clipped to recording duration
}

// Len returns the number of segments
func (ss *SegmentSet) Len() int {
	return len(ss.Segments)
}

// Onsets returns the onset column
func (ss *SegmentSet) Onsets() []float64 {
	out := make([]float64, len(ss.Segments))
	for i, s := range ss.Segments {
		out[i] = s.Onset
	}
	return out
}

// Offsets returns the offset column
func (ss *SegmentSet) Offsets() []float64 {
	out := make([]float64, len(ss.Segments))
	for i, s := range ss.Segments {
		out[i] = s.Offset
	}
	return out
}

// Validate checks the ordering invariants: onsets monotonically
// non-decreasing, no overlap, all bounds within [0, duration]
func (ss *SegmentSet) Validate(duration float64) error {
	prev := 0.0
	for i, s := range ss.Segments {
		if s.Onset < 0 || s.Offset > duration {
			return errs.Newf(errs.CodeConsistency,
				"segment %d out of bounds: [%f, %f] not within [0, %f]", i, s.Onset, s.Offset, duration)
		}
		if s.Offset < s.Onset {
			return errs.Newf(errs.CodeConsistency,
				"segment %d inverted: offset %f before onset %f", i, s.Offset, s.Onset)
		}
		if s.Onset < prev {
			return errs.Newf(errs.CodeConsistency,
				"segment %d overlaps previous: onset %f before %f", i, s.Onset, prev)
		}
		prev = s.Offset
	}
	return nil
}

// Segmenter consumes audio samples plus params and produces ordered
// segment pairs. Implementations are registered by strategy name.
type Segmenter interface {
	Segment(audio *transcode.AudioData, params Params) (*SegmentSet, error)
	Strategy() string
}

var (
	registryMu sync.RWMutex
	strategies = map[string]func() Segmenter{
		StrategyAmplitude: func() Segmenter { return &AmplitudeSegmenter{} },
		StrategyTemplate:  func() Segmenter { return &TemplateSegmenter{} },
	}
)

// Register adds a segmentation strategy to the registry. Intended for
// extension; the built-in strategies are registered at init.
func Register(name string, factory func() Segmenter) {
	registryMu.Lock()
	defer registryMu.Unlock()
	strategies[name] = factory
}

// New returns the segmenter registered under the given strategy name.
// Unknown names fail fast instead of falling through to a default.
func New(strategy string) (Segmenter, error) {
	registryMu.RLock()
	factory, ok := strategies[strategy]
	registryMu.RUnlock()
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidParameter,
			"unknown segmentation strategy %q (known: %v)", strategy, KnownStrategies())
	}
	return factory(), nil
}

// KnownStrategies lists registered strategy names, sorted
func KnownStrategies() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run validates params, dispatches to the named strategy, and enforces the
// shared post-conditions: offsets clipped to the recording duration (logged,
// never dropped silently) and ordering invariants checked before return.
func Run(audio *transcode.AudioData, strategy string, params Params) (*SegmentSet, error) {
	if audio == nil || len(audio.PCM) == 0 {
		return nil, errs.New(errs.CodeDecode, "no audio samples to segment")
	}
	if params.Strategy() != strategy {
		return nil, errs.Newf(errs.CodeInvalidParameter,
			"params are for strategy %q, not %q", params.Strategy(), strategy)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	seg, err := New(strategy)
	if err != nil {
		return nil, err
	}

	set, err := seg.Segment(audio, params)
	if err != nil {
		return nil, err
	}

	clipToDuration(set, audio.Seconds())

	if err := set.Validate(audio.Seconds()); err != nil {
		return nil, err
	}

	logging.Debug("Segmentation completed", logging.Fields{
		"recording": set.RecordingID,
		"strategy":  strategy,
		"segments":  set.Len(),
		"discarded": set.Discarded,
		"clipped":   set.Clipped,
	})

	return set, nil
}

// clipToDuration clamps offsets that run past the end of the recording.
// Clipping is an observable side effect: counted and logged.
func clipToDuration(set *SegmentSet, duration float64) {
	for i := range set.Segments {
		if set.Segments[i].Offset > duration {
			logging.Warn("Segment offset clipped to recording duration", logging.Fields{
				"recording": set.RecordingID,
				"segment":   i,
				"offset":    set.Segments[i].Offset,
				"duration":  duration,
			})
			set.Segments[i].Offset = duration
			set.Clipped++
		}
		if set.Segments[i].Onset > duration {
			logging.Warn("Segment onset clipped to recording duration", logging.Fields{
				"recording": set.RecordingID,
				"segment":   i,
				"onset":     set.Segments[i].Onset,
				"duration":  duration,
			})
			set.Segments[i].Onset = duration
			set.Clipped++
		}
	}
}

// String implements fmt.Stringer for debug output
func (ss *SegmentSet) String() string {
	return fmt.Sprintf("SegmentSet{%s/%s: %d segments}", ss.RecordingID, ss.Strategy, ss.Len())
}
