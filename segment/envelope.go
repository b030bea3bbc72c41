package segment

import (
	"math"
)

// envelope computes smoothed RMS energy envelopes over a signal. Frame and
// hop are in samples; times reported back to callers are frame centers.
type envelope struct {
	frameSize  int
	hopSize    int
	sampleRate int
}

func newEnvelope(sampleRate int, frameSec, hopSec float64) *envelope {
	frame := int(frameSec * float64(sampleRate))
	hop := int(hopSec * float64(sampleRate))
	if frame < 1 {
		frame = 1
	}
	if hop < 1 {
		hop = 1
	}
	return &envelope{
		frameSize:  frame,
		hopSize:    hop,
		sampleRate: sampleRate,
	}
}

// computeRMS computes the RMS envelope with the configured frame and hop
func (e *envelope) computeRMS(signal []float64) []float64 {
	if len(signal) < e.frameSize {
		return []float64{}
	}

	numFrames := (len(signal)-e.frameSize)/e.hopSize + 1
	env := make([]float64, numFrames)

	for i := range numFrames {
		start := i * e.hopSize
		end := start + e.frameSize

		sumSquares := 0.0
		for j := start; j < end; j++ {
			sumSquares += signal[j] * signal[j]
		}
		env[i] = math.Sqrt(sumSquares / float64(e.frameSize))
	}

	return env
}

// smooth applies a centered moving average over the envelope. windowSec of
// zero leaves the envelope untouched.
func (e *envelope) smooth(env []float64, windowSec float64) []float64 {
	window := int(windowSec * float64(e.sampleRate) / float64(e.hopSize))
	if window <= 1 || len(env) == 0 {
		return env
	}
	if window > len(env) {
		window = len(env)
	}

	smoothed := make([]float64, len(env))
	halfWindow := window / 2

	for i := range env {
		sum := 0.0
		count := 0
		for j := i - halfWindow; j <= i+halfWindow; j++ {
			if j >= 0 && j < len(env) {
				sum += env[j]
				count++
			}
		}
		smoothed[i] = sum / float64(count)
	}

	return smoothed
}

// frameTime maps a frame index to the frame's center time in seconds
func (e *envelope) frameTime(frame int) float64 {
	return (float64(frame)*float64(e.hopSize) + float64(e.frameSize)/2) / float64(e.sampleRate)
}

// frameOnsetTime maps a frame index to the frame's start time in seconds
func (e *envelope) frameOnsetTime(frame int) float64 {
	return float64(frame) * float64(e.hopSize) / float64(e.sampleRate)
}

// frameOffsetTime maps a frame index to the frame's end time in seconds
func (e *envelope) frameOffsetTime(frame int) float64 {
	return (float64(frame)*float64(e.hopSize) + float64(e.frameSize)) / float64(e.sampleRate)
}
