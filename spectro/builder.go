package spectro

import (
	"math"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// Record is one fixed-shape spectrogram for one segment. Data is row-major
// frequency x time.
type Record struct {
	RecordingID string  `json:"recording_id" msgpack:"recording_id"`
	Index       int     `json:"index" msgpack:"index"` // position within the owning SegmentSet
	Shape       Shape   `json:"shape" msgpack:"shape"`
	Data        []float64 `json:"data" msgpack:"data"`
	ConfigFP    string  `json:"config_fp" msgpack:"config_fp"`
	SegmentFP   string  `json:"segment_fp" msgpack:"segment_fp"` // fingerprint of the SegmentSet that set the bounds
}

// At returns the value at (freq bin, time bin)
func (r *Record) At(f, t int) float64 {
	return r.Data[f*r.Shape.Time+t]
}

// Result carries the records produced from one SegmentSet plus the
// skip audit trail
type Result struct {
	Records []Record
	Skipped int // segments too short for a single transform frame
}

// Builder converts segments of a recording into fixed-shape spectrograms
type Builder struct {
	config Config
	logger logging.Logger
}

// NewBuilder creates a spectrogram builder; the config is validated once
// up front
func NewBuilder(config Config) (*Builder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Builder{
		config: config,
		logger: logging.WithFields(logging.Fields{
			"component": "spectrogram_builder",
		}),
	}, nil
}

// Build produces one Record per segment that is long enough for at least
// one transform frame. Shorter segments are skipped and counted, never an
// error: one malformed segment must not abort a batch. Record.Index always
// refers to the segment's position in the owning SegmentSet, so skipped
// indices leave visible gaps.
func (b *Builder) Build(audio *transcode.AudioData, set *segment.SegmentSet) (*Result, error) {
	if audio == nil || len(audio.PCM) == 0 {
		return nil, errs.New(errs.CodeDecode, "no audio samples to transform")
	}
	if audio.SampleRate <= 0 {
		return nil, errs.Newf(errs.CodeInvalidParameter, "invalid sample rate %d", audio.SampleRate)
	}

	var filters [][]float64
	if b.config.Scale == ScaleMel {
		freqBins := b.config.WindowSize/2 + 1
		filters = melFilterbank(b.config.MelBands, freqBins, b.config.WindowSize,
			audio.SampleRate, b.config.MinFreq, b.config.MaxFreq)
	}

	result := &Result{}

	for i, seg := range set.Segments {
		record, err := b.buildOne(audio, seg, i, filters)
		if err != nil {
			if errs.HasCode(err, errs.CodeShapeMismatch) {
				b.logger.Debug("Segment skipped: too short for one frame", logging.Fields{
					"recording": set.RecordingID,
					"segment":   i,
					"duration":  seg.Duration(),
				})
				result.Skipped++
				continue
			}
			return nil, err
		}
		record.RecordingID = set.RecordingID
		record.SegmentFP = set.Fingerprint
		result.Records = append(result.Records, *record)
	}

	b.logger.Debug("Spectrogram build completed", logging.Fields{
		"recording": set.RecordingID,
		"records":   len(result.Records),
		"skipped":   result.Skipped,
	})

	return result, nil
}

func (b *Builder) buildOne(audio *transcode.AudioData, seg segment.Segment, index int, filters [][]float64) (*Record, error) {
	start := int(seg.Onset * float64(audio.SampleRate))
	end := int(seg.Offset * float64(audio.SampleRate))
	start = max(start, 0)
	end = min(end, len(audio.PCM))

	if end-start < b.config.WindowSize {
		return nil, errs.Newf(errs.CodeShapeMismatch,
			"segment %d spans %d samples, below window size %d", index, end-start, b.config.WindowSize)
	}

	magnitude := stftMagnitude(audio.PCM[start:end], b.config.WindowSize, b.config.HopSize)

	// Frequency axis: mel filterbank or linear band selection, then
	// resample to the target bin count.
	var mapped [][]float64
	if b.config.Scale == ScaleMel {
		mapped = applyFilterbank(magnitude, filters)
	} else {
		mapped = selectBand(magnitude, b.config, audio.SampleRate)
	}
	mapped = logCompress(mapped, b.config.FloorDB)
	mapped = resampleColumns(mapped, b.config.Target.Freq)
	mapped = fitTimeAxis(mapped, b.config.Target.Time, b.config.FloorDB)

	// Flatten to row-major frequency x time.
	data := make([]float64, b.config.Target.Freq*b.config.Target.Time)
	for t := range mapped {
		for f := range mapped[t] {
			data[f*b.config.Target.Time+t] = mapped[t][f]
		}
	}

	return &Record{
		Index: index,
		Shape: b.config.Target,
		Data:  data,
	}, nil
}

// selectBand keeps only the FFT bins within the configured frequency range
func selectBand(magnitude [][]float64, config Config, sampleRate int) [][]float64 {
	freqBins := config.WindowSize/2 + 1
	lo, hi := 0, freqBins
	for f := range freqBins {
		if binFrequency(f, config.WindowSize, sampleRate) < config.MinFreq {
			lo = f + 1
		}
		if binFrequency(f, config.WindowSize, sampleRate) <= config.MaxFreq {
			hi = f + 1
		}
	}
	if lo >= hi {
		lo, hi = 0, freqBins
	}

	out := make([][]float64, len(magnitude))
	for t := range magnitude {
		out[t] = magnitude[t][lo:hi]
	}
	return out
}

// logCompress converts magnitudes to dB with the configured floor
func logCompress(matrix [][]float64, floorDB float64) [][]float64 {
	floorAmp := math.Pow(10, floorDB/20.0)
	out := make([][]float64, len(matrix))
	for t := range matrix {
		out[t] = make([]float64, len(matrix[t]))
		for f, v := range matrix[t] {
			if v < floorAmp {
				v = floorAmp
			}
			out[t][f] = 20.0 * math.Log10(v)
		}
	}
	return out
}
