package segment

import (
	"github.com/RyanBlaney/sonido-vocal/transcode"
	"gonum.org/v1/gonum/floats"
)

// AmplitudeSegmenter flags a region as a segment when the smoothed RMS
// envelope exceeds a configurable threshold, merges detections separated by
// less than the minimum gap, and discards detections shorter than the
// minimum duration.
type AmplitudeSegmenter struct{}

func (s *AmplitudeSegmenter) Strategy() string { return StrategyAmplitude }

// Segment runs amplitude-threshold detection over the recording
func (s *AmplitudeSegmenter) Segment(audio *transcode.AudioData, params Params) (*SegmentSet, error) {
	p := params.(AmplitudeParams)

	env := newEnvelope(audio.SampleRate, p.FrameSec, p.HopSec)
	curve := env.smooth(env.computeRMS(audio.PCM), p.Smooth)

	set := &SegmentSet{
		RecordingID: recordingIDFromPath(audio.Path),
		Strategy:    StrategyAmplitude,
	}

	if len(curve) == 0 || floats.Max(curve) < p.Threshold {
		// A recording with no detections is a valid, cacheable result.
		return set, nil
	}

	raw := detectRuns(curve, p.Threshold, env)
	merged := mergeClose(raw, p.MinGap)

	for _, seg := range merged {
		if seg.Duration() < p.MinDur {
			set.Discarded++
			continue
		}
		set.Segments = append(set.Segments, seg)
	}

	return set, nil
}

// detectRuns converts threshold-crossing runs of envelope frames into
// time pairs
func detectRuns(curve []float64, threshold float64, env *envelope) []Segment {
	var segments []Segment
	inRun := false
	runStart := 0

	for i, v := range curve {
		switch {
		case v >= threshold && !inRun:
			inRun = true
			runStart = i
		case v < threshold && inRun:
			inRun = false
			segments = append(segments, Segment{
				Onset:  env.frameOnsetTime(runStart),
				Offset: env.frameOffsetTime(i - 1),
			})
		}
	}
	if inRun {
		segments = append(segments, Segment{
			Onset:  env.frameOnsetTime(runStart),
			Offset: env.frameOffsetTime(len(curve) - 1),
		})
	}

	return segments
}

// mergeClose merges near-adjacent detections separated by less than minGap
func mergeClose(segments []Segment, minGap float64) []Segment {
	if len(segments) == 0 {
		return segments
	}

	merged := []Segment{segments[0]}
	for _, seg := range segments[1:] {
		last := &merged[len(merged)-1]
		if seg.Onset-last.Offset < minGap {
			last.Offset = seg.Offset
		} else {
			merged = append(merged, seg)
		}
	}

	return merged
}
