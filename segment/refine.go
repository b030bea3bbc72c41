package segment

import (
	"path/filepath"
	"strings"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// Refine post-processes an existing SegmentSet, snapping each boundary to
// the local energy minimum within the search window. It operates only on
// the set it is given and never re-reads the parameters that produced it;
// callers layer its fingerprint on top of the base set's.
func Refine(audio *transcode.AudioData, set *SegmentSet, params RefineParams) (*SegmentSet, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if audio == nil || len(audio.PCM) == 0 {
		return nil, errs.New(errs.CodeDecode, "no audio samples to refine against")
	}

	// A fine-grained envelope so minima can move boundaries by less than
	// the detection hop.
	env := newEnvelope(audio.SampleRate, 0.005, 0.001)
	curve := env.computeRMS(audio.PCM)

	refined := &SegmentSet{
		RecordingID: set.RecordingID,
		Strategy:    set.Strategy,
		Discarded:   set.Discarded,
		Clipped:     set.Clipped,
		Segments:    make([]Segment, len(set.Segments)),
	}

	for i, seg := range set.Segments {
		refined.Segments[i] = Segment{
			Onset:  snapToMinimum(curve, env, seg.Onset, params.SearchSec),
			Offset: snapToMinimum(curve, env, seg.Offset, params.SearchSec),
		}
		// Snapping must not invert a segment.
		if refined.Segments[i].Offset < refined.Segments[i].Onset {
			refined.Segments[i] = seg
		}
	}

	if err := refined.Validate(audio.Seconds()); err != nil {
		// Snapped boundaries collided with a neighbor; keep the original.
		return set, nil
	}

	return refined, nil
}

// snapToMinimum moves a boundary time to the lowest-energy frame within
// +/- searchSec
func snapToMinimum(curve []float64, env *envelope, t, searchSec float64) float64 {
	if len(curve) == 0 {
		return t
	}

	center := int(t * float64(env.sampleRate) / float64(env.hopSize))
	radius := int(searchSec * float64(env.sampleRate) / float64(env.hopSize))

	lo := max(center-radius, 0)
	hi := min(center+radius, len(curve)-1)
	if lo > hi {
		return t
	}

	best := lo
	for i := lo + 1; i <= hi; i++ {
		if curve[i] < curve[best] {
			best = i
		}
	}

	return env.frameTime(best)
}

// recordingIDFromPath derives a recording id from an audio file path
func recordingIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
