package spectro

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// testConfig keeps transforms small enough for fast tests
func testConfig() Config {
	return Config{
		WindowSize: 64,
		HopSize:    16,
		Scale:      ScaleLinear,
		MinFreq:    100,
		MaxFreq:    4000,
		Target:     Shape{Freq: 16, Time: 16},
		FloorDB:    -80,
	}
}

func toneAudio(rate int, duration, freq float64) *transcode.AudioData {
	pcm := make([]float64, int(duration*float64(rate)))
	for i := range pcm {
		pcm[i] = 0.5 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return &transcode.AudioData{
		PCM:        pcm,
		SampleRate: rate,
		Channels:   1,
		Duration:   time.Duration(duration * float64(time.Second)),
	}
}

func testSet(segments ...segment.Segment) *segment.SegmentSet {
	return &segment.SegmentSet{
		RecordingID: "rec1",
		Strategy:    segment.StrategyAmplitude,
		Fingerprint: "feedbeef",
		Segments:    segments,
	}
}

func TestBuildFixedShape(t *testing.T) {
	audio := toneAudio(8000, 3.0, 1000)
	builder, err := NewBuilder(testConfig())
	require.NoError(t, err)

	result, err := builder.Build(audio, testSet(
		segment.Segment{Onset: 0.5, Offset: 1.0},
		segment.Segment{Onset: 1.5, Offset: 2.5},
	))
	require.NoError(t, err)
	require.Len(t, result.Records, 2)
	assert.Equal(t, 0, result.Skipped)

	for _, rec := range result.Records {
		assert.Equal(t, Shape{Freq: 16, Time: 16}, rec.Shape)
		assert.Len(t, rec.Data, 16*16)
		assert.Equal(t, "rec1", rec.RecordingID)
		assert.Equal(t, "feedbeef", rec.SegmentFP)
		for _, v := range rec.Data {
			assert.GreaterOrEqual(t, v, -80.0001)
			assert.False(t, math.IsNaN(v))
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	audio := toneAudio(8000, 2.0, 700)
	set := testSet(segment.Segment{Onset: 0.2, Offset: 1.8})

	builder, err := NewBuilder(testConfig())
	require.NoError(t, err)

	first, err := builder.Build(audio, set)
	require.NoError(t, err)
	second, err := builder.Build(audio, set)
	require.NoError(t, err)

	// Bit-identical, not merely close.
	assert.Equal(t, first.Records, second.Records)
}

func TestBuildSkipsShortSegments(t *testing.T) {
	audio := toneAudio(8000, 2.0, 700)

	// 64-sample window at 8 kHz needs 8ms; the first segment spans 4ms.
	result, err := mustBuilder(t).Build(audio, testSet(
		segment.Segment{Onset: 0.1, Offset: 0.104},
		segment.Segment{Onset: 0.5, Offset: 1.0},
	))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Records, 1)
	// Index refers to the position in the owning set: the skip leaves a gap.
	assert.Equal(t, 1, result.Records[0].Index)
}

func TestBuildSingleBinTargets(t *testing.T) {
	audio := toneAudio(8000, 2.0, 700)
	set := testSet(segment.Segment{Onset: 0.2, Offset: 1.0})

	shapes := []Shape{{Freq: 1, Time: 4}, {Freq: 4, Time: 1}, {Freq: 1, Time: 1}}
	for _, shape := range shapes {
		cfg := testConfig()
		cfg.Target = shape

		builder, err := NewBuilder(cfg)
		require.NoError(t, err)

		result, err := builder.Build(audio, set)
		require.NoError(t, err)
		require.Len(t, result.Records, 1)

		rec := result.Records[0]
		assert.Equal(t, shape, rec.Shape)
		require.Len(t, rec.Data, shape.Freq*shape.Time)
		for _, v := range rec.Data {
			assert.False(t, math.IsNaN(v))
			assert.GreaterOrEqual(t, v, -80.0001)
		}
	}
}

func TestResampleVectorSingleBin(t *testing.T) {
	assert.Equal(t, []float64{2}, resampleVector([]float64{0, 1, 2, 3, 4}, 1))
	assert.Equal(t, []float64{7, 7, 7}, resampleVector([]float64{7}, 3))
}

func TestBuildMelScale(t *testing.T) {
	audio := toneAudio(8000, 2.0, 1000)

	cfg := testConfig()
	cfg.Scale = ScaleMel
	cfg.MelBands = 20
	cfg.MaxFreq = 3800

	builder, err := NewBuilder(cfg)
	require.NoError(t, err)

	result, err := builder.Build(audio, testSet(segment.Segment{Onset: 0.2, Offset: 1.0}))
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, Shape{Freq: 16, Time: 16}, result.Records[0].Shape)
}

func TestBuildRejectsEmptyAudio(t *testing.T) {
	_, err := mustBuilder(t).Build(&transcode.AudioData{SampleRate: 8000}, testSet())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeDecode))
}

func TestRecordAt(t *testing.T) {
	rec := Record{
		Shape: Shape{Freq: 2, Time: 3},
		Data:  []float64{0, 1, 2, 3, 4, 5},
	}
	assert.Equal(t, 0.0, rec.At(0, 0))
	assert.Equal(t, 2.0, rec.At(0, 2))
	assert.Equal(t, 3.0, rec.At(1, 0))
	assert.Equal(t, 5.0, rec.At(1, 2))
}

func TestHzToMelRoundTrip(t *testing.T) {
	assert.InDelta(t, 781.17, hzToMel(700), 0.5)
	for _, hz := range []float64{100, 700, 4000, 12000} {
		assert.InDelta(t, hz, melToHz(hzToMel(hz)), 1e-6)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero window", func(c *Config) { c.WindowSize = 0 }},
		{"zero hop", func(c *Config) { c.HopSize = 0 }},
		{"bad scale", func(c *Config) { c.Scale = "cqt" }},
		{"bad range", func(c *Config) { c.MinFreq = 5000; c.MaxFreq = 100 }},
		{"positive floor", func(c *Config) { c.FloorDB = 3 }},
		{"zero target", func(c *Config) { c.Target.Time = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errs.HasCode(err, errs.CodeInvalidParameter))
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigFromMapRejectsUnknownKey(t *testing.T) {
	_, err := ConfigFromMap(map[string]any{"widnow_size": 512})
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeUnrecognizedParameter))
}

func TestConfigFromMapAcceptsNumericCoercion(t *testing.T) {
	cfg, err := ConfigFromMap(map[string]any{"window_size": 256.0, "floor_db": -60})
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.WindowSize)
	assert.Equal(t, -60.0, cfg.FloorDB)
}

func mustBuilder(t *testing.T) *Builder {
	t.Helper()
	builder, err := NewBuilder(testConfig())
	require.NoError(t, err)
	return builder
}
