package segment

import (
	"math"

	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// TemplateSegmenter cross-correlates a reference envelope template against
// the recording's RMS envelope and thresholds the zero-normalized
// correlation score. Each accepted peak spans the template's length.
type TemplateSegmenter struct{}

func (s *TemplateSegmenter) Strategy() string { return StrategyTemplate }

// Segment runs template matching over the recording
func (s *TemplateSegmenter) Segment(audio *transcode.AudioData, params Params) (*SegmentSet, error) {
	p := params.(TemplateParams)

	env := newEnvelope(audio.SampleRate, p.FrameSec, p.HopSec)
	curve := env.computeRMS(audio.PCM)

	set := &SegmentSet{
		RecordingID: recordingIDFromPath(audio.Path),
		Strategy:    StrategyTemplate,
	}

	if len(curve) < len(p.Template) {
		return set, nil
	}

	scores := correlationScores(curve, p.Template)

	// Peaks closer than the template's own span would produce overlapping
	// segments, so the suppression window is at least that span regardless
	// of MinGap.
	minGap := gapFrames(p.MinGap, env)
	spanFrames := len(p.Template) - 1 + (env.frameSize+env.hopSize-1)/env.hopSize
	if minGap < spanFrames {
		minGap = spanFrames
	}
	peaks := pickPeaks(scores, p.Threshold, minGap)

	for _, frame := range peaks {
		set.Segments = append(set.Segments, Segment{
			Onset:  env.frameOnsetTime(frame),
			Offset: env.frameOffsetTime(frame + len(p.Template) - 1),
		})
	}

	return set, nil
}

func gapFrames(minGap float64, env *envelope) int {
	frames := int(minGap * float64(env.sampleRate) / float64(env.hopSize))
	if frames < 1 {
		frames = 1
	}
	return frames
}

// correlationScores slides the template over the envelope and computes the
// zero-normalized cross-correlation at each lag. Scores are in [-1, 1].
func correlationScores(curve, template []float64) []float64 {
	n := len(template)
	numLags := len(curve) - n + 1
	scores := make([]float64, numLags)

	tMean, tStd := meanStd(template)
	if tStd < 1e-12 {
		return scores
	}

	for lag := range numLags {
		window := curve[lag : lag+n]
		wMean, wStd := meanStd(window)
		if wStd < 1e-12 {
			continue
		}

		sum := 0.0
		for i := range n {
			sum += (window[i] - wMean) * (template[i] - tMean)
		}
		scores[lag] = sum / (float64(n) * wStd * tStd)
	}

	return scores
}

func meanStd(values []float64) (float64, float64) {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}

// pickPeaks selects local maxima above the threshold with non-maximum
// suppression over minGapFrames
func pickPeaks(scores []float64, threshold float64, minGapFrames int) []int {
	var peaks []int
	lastPeak := -minGapFrames - 1

	for i := range scores {
		if scores[i] < threshold {
			continue
		}
		if i > 0 && scores[i-1] > scores[i] {
			continue
		}
		if i < len(scores)-1 && scores[i+1] > scores[i] {
			continue
		}
		if i-lastPeak <= minGapFrames {
			// Keep the stronger of two competing peaks
			if len(peaks) > 0 && scores[i] > scores[peaks[len(peaks)-1]] {
				peaks[len(peaks)-1] = i
				lastPeak = i
			}
			continue
		}
		peaks = append(peaks, i)
		lastPeak = i
	}

	return peaks
}
