package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/segment"
)

func TestSegmentStoreRoundTrip(t *testing.T) {
	store, err := NewSegmentStore(t.TempDir())
	require.NoError(t, err)

	set := &segment.SegmentSet{
		RecordingID: "blu285_P42_0001",
		Strategy:    segment.StrategyAmplitude,
		Fingerprint: "cafe0123",
		Segments: []segment.Segment{
			{Onset: 1.0, Offset: 2.0},
			{Onset: 5.0, Offset: 5.5},
		},
		Discarded: 3,
		Clipped:   1,
	}

	location, err := store.Save(set, "cafe0123")
	require.NoError(t, err)
	assert.Equal(t, store.Location(set.RecordingID, "cafe0123"), location)

	loaded, err := store.Load(location)
	require.NoError(t, err)
	assert.Equal(t, set.RecordingID, loaded.RecordingID)
	assert.Equal(t, set.Strategy, loaded.Strategy)
	assert.Equal(t, "cafe0123", loaded.Fingerprint)
	assert.Equal(t, 3, loaded.Discarded)
	assert.Equal(t, 1, loaded.Clipped)
	require.Equal(t, 2, loaded.Len())
	assert.InDelta(t, 1.0, loaded.Segments[0].Onset, 1e-6)
	assert.InDelta(t, 5.5, loaded.Segments[1].Offset, 1e-6)
}

func TestSegmentStoreEmptySet(t *testing.T) {
	store, err := NewSegmentStore(t.TempDir())
	require.NoError(t, err)

	set := &segment.SegmentSet{RecordingID: "rec1", Strategy: segment.StrategyAmplitude}
	location, err := store.Save(set, "abcd")
	require.NoError(t, err)

	loaded, err := store.Load(location)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.Equal(t, "rec1", loaded.RecordingID)
}

func TestSegmentStoreLoadMissing(t *testing.T) {
	store, err := NewSegmentStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("segments/nope_ffff.txt")
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeCacheCorruption))
}

func TestSegmentStoreRejectsMalformedSidecar(t *testing.T) {
	root := t.TempDir()
	store, err := NewSegmentStore(root)
	require.NoError(t, err)

	location := store.Location("rec1", "abcd")
	require.NoError(t, os.WriteFile(filepath.Join(root, location),
		[]byte("# recording rec1\n1.0\t2.0\tgarbage\n"), 0644))

	_, err = store.Load(location)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeCacheCorruption))
}

func TestSegmentStoreOverwriteIsAtomicReplace(t *testing.T) {
	store, err := NewSegmentStore(t.TempDir())
	require.NoError(t, err)

	set := &segment.SegmentSet{
		RecordingID: "rec1",
		Strategy:    segment.StrategyAmplitude,
		Segments:    []segment.Segment{{Onset: 0.1, Offset: 0.2}},
	}
	_, err = store.Save(set, "abcd")
	require.NoError(t, err)

	set.Segments = append(set.Segments, segment.Segment{Onset: 0.5, Offset: 0.7})
	location, err := store.Save(set, "abcd")
	require.NoError(t, err)

	loaded, err := store.Load(location)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
}
