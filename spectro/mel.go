package spectro

import (
	"math"
)

// hzToMel converts frequency in Hz to the mel scale (HTK formula)
func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// melToHz converts a mel value back to Hz
func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterbank builds triangular mel filters as [numBands][freqBins]
// weight matrices spanning [minFreq, maxFreq]
func melFilterbank(numBands, freqBins, windowSize, sampleRate int, minFreq, maxFreq float64) [][]float64 {
	melMin := hzToMel(minFreq)
	melMax := hzToMel(maxFreq)

	// Band edges: numBands + 2 points evenly spaced on the mel scale
	edges := make([]float64, numBands+2)
	for i := range edges {
		mel := melMin + (melMax-melMin)*float64(i)/float64(numBands+1)
		edges[i] = melToHz(mel)
	}

	filters := make([][]float64, numBands)
	for b := range numBands {
		filters[b] = make([]float64, freqBins)
		lower, center, upper := edges[b], edges[b+1], edges[b+2]

		for f := range freqBins {
			freq := binFrequency(f, windowSize, sampleRate)
			switch {
			case freq <= lower || freq >= upper:
				// outside the triangle
			case freq <= center:
				filters[b][f] = (freq - lower) / (center - lower)
			default:
				filters[b][f] = (upper - freq) / (upper - center)
			}
		}
	}

	return filters
}

// applyFilterbank maps a [time][freqBins] magnitude matrix to
// [time][numBands] mel energies
func applyFilterbank(magnitude [][]float64, filters [][]float64) [][]float64 {
	out := make([][]float64, len(magnitude))
	for t := range magnitude {
		out[t] = make([]float64, len(filters))
		for b := range filters {
			sum := 0.0
			for f := range filters[b] {
				if filters[b][f] != 0 {
					sum += magnitude[t][f] * filters[b][f]
				}
			}
			out[t][b] = sum
		}
	}
	return out
}
