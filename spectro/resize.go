package spectro

// resampleColumns linearly resamples each time frame's frequency column to
// the target number of bins
func resampleColumns(matrix [][]float64, targetBins int) [][]float64 {
	out := make([][]float64, len(matrix))
	for t := range matrix {
		out[t] = resampleVector(matrix[t], targetBins)
	}
	return out
}

// resampleVector linearly interpolates a vector to a new length
func resampleVector(data []float64, newLength int) []float64 {
	if newLength == len(data) {
		result := make([]float64, len(data))
		copy(result, data)
		return result
	}

	result := make([]float64, newLength)
	if len(data) == 1 {
		for i := range result {
			result[i] = data[0]
		}
		return result
	}
	if newLength == 1 {
		result[0] = data[(len(data)-1)/2]
		return result
	}

	ratio := float64(len(data)-1) / float64(newLength-1)
	for i := range result {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(data)-1 {
			result[i] = data[len(data)-1]
			continue
		}
		frac := pos - float64(idx)
		result[i] = data[idx] + frac*(data[idx+1]-data[idx])
	}

	return result
}

// fitTimeAxis crops or pads the time axis to target frames. Cropping keeps
// the segment's temporal center; padding fills with the floor value so
// padded cells look like silence, not zero-variance artifacts.
func fitTimeAxis(matrix [][]float64, targetFrames int, floor float64) [][]float64 {
	frames := len(matrix)
	if frames == targetFrames {
		return matrix
	}

	if frames > targetFrames {
		start := (frames - targetFrames) / 2
		return matrix[start : start+targetFrames]
	}

	bins := 0
	if frames > 0 {
		bins = len(matrix[0])
	}

	padded := make([][]float64, targetFrames)
	leadPad := (targetFrames - frames) / 2
	for t := range targetFrames {
		src := t - leadPad
		if src >= 0 && src < frames {
			padded[t] = matrix[src]
			continue
		}
		row := make([]float64, bins)
		for i := range row {
			row[i] = floor
		}
		padded[t] = row
	}

	return padded
}
