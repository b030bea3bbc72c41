package spectro

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// hannWindow generates periodic Hann window coefficients
func hannWindow(size int) []float64 {
	coefficients := make([]float64, size)
	for i := range size {
		coefficients[i] = 0.5 * (1.0 - math.Cos(2*math.Pi*float64(i)/float64(size)))
	}
	return coefficients
}

// stftMagnitude computes the magnitude spectrogram of a signal as
// [timeFrames][freqBins] with freqBins = windowSize/2 + 1. Frames are
// processed in index order so repeated runs are bit-identical.
func stftMagnitude(signal []float64, windowSize, hopSize int) [][]float64 {
	if len(signal) < windowSize {
		return nil
	}

	window := hannWindow(windowSize)
	numFrames := (len(signal)-windowSize)/hopSize + 1
	freqBins := windowSize/2 + 1

	magnitude := make([][]float64, numFrames)
	frame := make([]float64, windowSize)

	for t := range numFrames {
		start := t * hopSize
		for i := range windowSize {
			frame[i] = signal[start+i] * window[i]
		}

		spectrum := fft.FFTReal(frame)

		magnitude[t] = make([]float64, freqBins)
		for f := range freqBins {
			magnitude[t][f] = cmplx.Abs(spectrum[f])
		}
	}

	return magnitude
}

// binFrequency maps an FFT bin index to its center frequency in Hz
func binFrequency(bin, windowSize, sampleRate int) float64 {
	return float64(bin) * float64(sampleRate) / float64(windowSize)
}
