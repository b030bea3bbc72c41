package aggregate

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-vocal/dataset"
	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/registry"
	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/spectro"
	"github.com/RyanBlaney/sonido-vocal/store"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// countingLoader serves synthetic audio and counts decode calls, so tests
// can assert that cache hits do no audio work
type countingLoader struct {
	mu    sync.Mutex
	audio map[string]*transcode.AudioData
	calls map[string]int
}

func (l *countingLoader) Load(_ context.Context, rec dataset.Recording) (*transcode.AudioData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	audio, ok := l.audio[rec.ID]
	if !ok {
		return nil, errs.Newf(errs.CodeDecode, "no such recording %q", rec.ID)
	}
	l.calls[rec.ID]++
	return audio, nil
}

func (l *countingLoader) callCount(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[id]
}

func burstAudio(rate int, duration float64, bursts [][2]float64) *transcode.AudioData {
	pcm := make([]float64, int(duration*float64(rate)))
	for _, burst := range bursts {
		start := int(burst[0] * float64(rate))
		end := int(burst[1] * float64(rate))
		for i := start; i < end && i < len(pcm); i++ {
			pcm[i] = 0.5 * math.Sin(2*math.Pi*1000*float64(i)/float64(rate))
		}
	}
	return &transcode.AudioData{
		PCM:        pcm,
		SampleRate: rate,
		Channels:   1,
		Duration:   time.Duration(duration * float64(time.Second)),
	}
}

type testEnv struct {
	cacheRoot  string
	deps       Deps
	loader     *countingLoader
	recordings []dataset.Recording
}

// corruptSidecar overwrites a published artifact with garbage, behind the
// registry's back
func corruptSidecar(t *testing.T, env *testEnv, location string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(env.cacheRoot, location),
		[]byte("not a sidecar\n"), 0644))
}

// newTestEnv builds a cache rooted in a temp dir and one identity with
// two synthetic recordings of four bursts total
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cacheRoot := t.TempDir()
	index, err := registry.Open(cacheRoot + "/registry")
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	segStore, err := store.NewSegmentStore(cacheRoot)
	require.NoError(t, err)
	specStore, err := store.NewSpectrogramStore(cacheRoot)
	require.NoError(t, err)

	age := 42
	recordings := []dataset.Recording{
		{ID: "blu285_P42_0001", Identity: "blu285", Age: &age, Session: "P42"},
		{ID: "blu285_P42_0002", Identity: "blu285", Age: &age, Session: "P42"},
	}

	loader := &countingLoader{
		audio: map[string]*transcode.AudioData{
			"blu285_P42_0001": burstAudio(8000, 6.0, [][2]float64{{1.0, 1.3}, {3.0, 3.3}}),
			"blu285_P42_0002": burstAudio(8000, 6.0, [][2]float64{{2.0, 2.3}, {4.0, 4.3}}),
		},
		calls: map[string]int{},
	}

	return &testEnv{
		cacheRoot: cacheRoot,
		deps: Deps{
			Loader:       loader,
			Index:        index,
			Segments:     segStore,
			Spectrograms: specStore,
		},
		loader:     loader,
		recordings: recordings,
	}
}

func testFieldConfig() FieldConfig {
	return FieldConfig{
		Strategy:      segment.StrategyAmplitude,
		SegmentParams: segment.DefaultAmplitudeParams(),
		Spec: spectro.Config{
			WindowSize: 64,
			HopSize:    16,
			Scale:      spectro.ScaleLinear,
			MinFreq:    100,
			MaxFreq:    3000,
			Target:     spectro.Shape{Freq: 16, Time: 16},
			FloorDB:    -80,
		},
	}
}

func TestContainerResolvesSegments(t *testing.T) {
	env := newTestEnv(t)
	c := NewContainer("blu285", env.recordings, env.deps)

	field, err := c.Get(context.Background(), FieldSegments, testFieldConfig())
	require.NoError(t, err)

	require.Equal(t, 4, field.Len())
	rows := field.Data.([]SegmentRow)
	assert.Equal(t, "blu285_P42_0001", rows[0].Key.RecordingID)
	assert.Equal(t, 0, rows[0].Key.SegmentIndex)
	assert.InDelta(t, 1.0, rows[0].Onset, 0.05)
	assert.Equal(t, "blu285_P42_0002", rows[2].Key.RecordingID)
	assert.InDelta(t, 2.0, rows[2].Onset, 0.05)
	require.NotNil(t, rows[0].Age)
	assert.Equal(t, 42, *rows[0].Age)
	assert.NotEmpty(t, field.Fingerprint)
}

func TestContainerSecondResolveHitsCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := testFieldConfig()

	first := NewContainer("blu285", env.recordings, env.deps)
	_, err := first.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, env.loader.callCount("blu285_P42_0001"))

	// A fresh container resolves entirely from the registry: no decode.
	second := NewContainer("blu285", env.recordings, env.deps)
	field, err := second.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, field.Len())
	assert.Equal(t, 1, env.loader.callCount("blu285_P42_0001"))
}

func TestContainerInvalidateRereadsFromCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := testFieldConfig()
	c := NewContainer("blu285", env.recordings, env.deps)

	a, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)

	c.Invalidate(FieldSegments)

	b, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Keys, b.Keys)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	// Artifacts were on disk; invalidation must not force a re-decode.
	assert.Equal(t, 1, env.loader.callCount("blu285_P42_0001"))
}

func TestContainerParameterChangeMakesNewArtifacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := NewContainer("blu285", env.recordings, env.deps)

	cfg := testFieldConfig()
	a, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)

	changed := testFieldConfig()
	params := changed.SegmentParams.(segment.AmplitudeParams)
	params.Threshold = 0.02
	changed.SegmentParams = params

	c.Invalidate(FieldSegments)
	b, err := c.Get(ctx, FieldSegments, changed)
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)

	// The original artifact is untouched and still resolvable.
	c.Invalidate(FieldSegments)
	again, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, again.Fingerprint)
	assert.Equal(t, a.Keys, again.Keys)
}

func TestContainerConfigSwitchResolvesFreshRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := NewContainer("blu285", env.recordings, env.deps)

	cfg := testFieldConfig()
	a, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	require.Equal(t, 4, a.Len())

	// A different threshold, with no explicit invalidation in between,
	// must never be served the old rows.
	quiet := testFieldConfig()
	params := quiet.SegmentParams.(segment.AmplitudeParams)
	params.Threshold = 0.45 // above the bursts' RMS
	quiet.SegmentParams = params

	b, err := c.Get(ctx, FieldSegments, quiet)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.Equal(t, 0, b.Len())

	// Switching back resolves the original artifacts from the cache.
	again, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Fingerprint, again.Fingerprint)
	assert.Equal(t, 4, again.Len())

	// Repeating the same config returns the memoized field untouched.
	repeat, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	assert.Same(t, again, repeat)
}

func TestContainerRefineLayersFingerprint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := NewContainer("blu285", env.recordings, env.deps)

	plain, err := c.Get(ctx, FieldSegments, testFieldConfig())
	require.NoError(t, err)

	refineCfg := testFieldConfig()
	refine := segment.DefaultRefineParams()
	refineCfg.Refine = &refine

	c.Invalidate(FieldSegments)
	refined, err := c.Get(ctx, FieldSegments, refineCfg)
	require.NoError(t, err)

	assert.NotEqual(t, plain.Fingerprint, refined.Fingerprint)
	assert.Equal(t, plain.Len(), refined.Len())
}

func TestContainerResolvesSpectrograms(t *testing.T) {
	env := newTestEnv(t)
	c := NewContainer("blu285", env.recordings, env.deps)

	field, err := c.Get(context.Background(), FieldSpectrograms, testFieldConfig())
	require.NoError(t, err)

	require.Equal(t, 4, field.Len())
	records := field.Data.([]spectro.Record)
	for i, rec := range records {
		assert.Equal(t, spectro.Shape{Freq: 16, Time: 16}, rec.Shape)
		assert.Equal(t, field.Keys[i].RecordingID, rec.RecordingID)
		assert.Equal(t, field.Keys[i].SegmentIndex, rec.Index)
		assert.Equal(t, field.Fingerprint, rec.ConfigFP)
	}
}

func TestContainerSpectrogramsAlignWithSegments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := testFieldConfig()
	c := NewContainer("blu285", env.recordings, env.deps)

	segField, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	specField, err := c.Get(ctx, FieldSpectrograms, cfg)
	require.NoError(t, err)

	assert.Equal(t, segField.Keys, specField.Keys)
}

func TestContainerFeatures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := testFieldConfig()
	c := NewContainer("blu285", env.recordings, env.deps)

	durations, err := c.Get(ctx, "features:duration", cfg)
	require.NoError(t, err)
	require.Equal(t, 4, durations.Len())
	for _, d := range durations.Data.([]float64) {
		assert.InDelta(t, 0.3, d, 0.1)
	}

	rms, err := c.Get(ctx, "features:rms", cfg)
	require.NoError(t, err)
	require.Equal(t, 4, rms.Len())
	assert.NotEqual(t, durations.Fingerprint, rms.Fingerprint)

	peak, err := c.Get(ctx, "features:peakband", cfg)
	require.NoError(t, err)
	require.Equal(t, 4, peak.Len())

	_, err = c.Get(ctx, "features:sparkle", cfg)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidParameter))
}

func TestContainerProjection(t *testing.T) {
	env := newTestEnv(t)
	c := NewContainer("blu285", env.recordings, env.deps)

	field, err := c.Get(context.Background(), "projection:pca2", testFieldConfig())
	require.NoError(t, err)

	require.Equal(t, 4, field.Len())
	rows := field.Data.([][]float64)
	for _, row := range rows {
		assert.Len(t, row, 2)
	}

	_, err = c.Get(context.Background(), "projection:tsne", testFieldConfig())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidParameter))
}

func TestContainerUnknownField(t *testing.T) {
	env := newTestEnv(t)
	c := NewContainer("blu285", env.recordings, env.deps)

	_, err := c.Get(context.Background(), "syllable_count", testFieldConfig())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidParameter))
}

func TestContainerWhere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := testFieldConfig()
	c := NewContainer("blu285", env.recordings, env.deps)

	_, err := c.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)

	view, err := c.Where(FieldSegments, func(row Row) bool {
		return row.Value.(SegmentRow).Onset < 2.5
	})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Len())

	// The view restricts other fields to the same rows.
	specs, err := view.Get(ctx, FieldSpectrograms, cfg)
	require.NoError(t, err)
	require.Equal(t, 2, specs.Len())
	for _, key := range specs.Keys {
		_, selected := map[RowKey]struct{}{
			{RecordingID: "blu285_P42_0001", SegmentIndex: 0}: {},
			{RecordingID: "blu285_P42_0002", SegmentIndex: 0}: {},
		}[key]
		assert.True(t, selected, key)
	}
}

func TestWhereRequiresResolvedField(t *testing.T) {
	env := newTestEnv(t)
	c := NewContainer("blu285", env.recordings, env.deps)

	_, err := c.Where(FieldSegments, func(Row) bool { return true })
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeInvalidParameter))
}

func TestContainerConcurrentGetResolvesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := testFieldConfig()
	c := NewContainer("blu285", env.recordings, env.deps)

	var wg sync.WaitGroup
	fields := make([]*Field, 8)
	for i := range fields {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			field, err := c.Get(ctx, FieldSegments, cfg)
			assert.NoError(t, err)
			fields[i] = field
		}(i)
	}
	wg.Wait()

	for _, field := range fields[1:] {
		assert.Same(t, fields[0], field)
	}
	assert.Equal(t, 1, env.loader.callCount("blu285_P42_0001"))
}

func TestContainerCorruptSidecarForcesRecompute(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := testFieldConfig()

	first := NewContainer("blu285", env.recordings, env.deps)
	a, err := first.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)

	// Corrupt one sidecar on disk behind the registry's back.
	location := env.deps.Segments.Location("blu285_P42_0001", a.Fingerprint)
	corruptSidecar(t, env, location)

	second := NewContainer("blu285", env.recordings, env.deps)
	b, err := second.Get(ctx, FieldSegments, cfg)
	require.NoError(t, err)
	assert.Equal(t, a.Keys, b.Keys)
	// Recomputation decoded the corrupted recording again.
	assert.Equal(t, 2, env.loader.callCount("blu285_P42_0001"))
}

func TestDecoderLoaderFailurePropagates(t *testing.T) {
	env := newTestEnv(t)
	bad := []dataset.Recording{{ID: "missing", Identity: "blu285"}}
	c := NewContainer("blu285", bad, env.deps)

	_, err := c.Get(context.Background(), FieldSegments, testFieldConfig())
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeDecode))

	// The failure is not latched; the field can be retried.
	_, err = c.Get(context.Background(), FieldSegments, testFieldConfig())
	require.Error(t, err)
}
