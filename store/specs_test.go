package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/spectro"
)

func testRecords(n int) []spectro.Record {
	records := make([]spectro.Record, n)
	for i := range records {
		data := make([]float64, 4)
		for j := range data {
			data[j] = float64(i*10 + j)
		}
		records[i] = spectro.Record{
			RecordingID: "rec1",
			Index:       i,
			Shape:       spectro.Shape{Freq: 2, Time: 2},
			Data:        data,
			ConfigFP:    "conf0001",
			SegmentFP:   "seg00001",
		}
	}
	return records
}

func TestSpectrogramStoreRoundTrip(t *testing.T) {
	store, err := NewSpectrogramStore(t.TempDir())
	require.NoError(t, err)

	records := testRecords(5)
	location, err := store.Save("rec1", "conf0001", records)
	require.NoError(t, err)

	loaded, err := store.Load(location)
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestSpectrogramStoreChunking(t *testing.T) {
	root := t.TempDir()
	store, err := NewSpectrogramStore(root)
	require.NoError(t, err)

	// More records than one chunk holds.
	records := testRecords(chunkSize + 7)
	location, err := store.Save("rec1", "conf0001", records)
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, location))
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	loaded, err := store.Load(location)
	require.NoError(t, err)
	assert.Equal(t, records, loaded)
}

func TestSpectrogramStoreEmpty(t *testing.T) {
	store, err := NewSpectrogramStore(t.TempDir())
	require.NoError(t, err)

	location, err := store.Save("rec1", "conf0001", nil)
	require.NoError(t, err)

	loaded, err := store.Load(location)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSpectrogramStoreDetectsTampering(t *testing.T) {
	root := t.TempDir()
	store, err := NewSpectrogramStore(root)
	require.NoError(t, err)

	location, err := store.Save("rec1", "conf0001", testRecords(3))
	require.NoError(t, err)

	chunkPath := filepath.Join(root, location, "syllables_0000.mp")
	payload, err := os.ReadFile(chunkPath)
	require.NoError(t, err)
	payload[len(payload)/2] ^= 0xff
	require.NoError(t, os.WriteFile(chunkPath, payload, 0644))

	_, err = store.Load(location)
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeCacheCorruption))
}

func TestSpectrogramStoreLoadMissing(t *testing.T) {
	store, err := NewSpectrogramStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load(store.Location("rec1", "ffff"))
	require.Error(t, err)
	assert.True(t, errs.HasCode(err, errs.CodeCacheCorruption))
}
