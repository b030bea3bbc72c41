package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/spectro"
)

// chunkSize is the number of spectrogram records per chunk file
const chunkSize = 128

// specChunk is one chunk file's payload. The checksum covers the encoded
// records so a truncated or bit-rotted chunk is detected on load.
type specChunk struct {
	Records  []spectro.Record `msgpack:"records"`
	Checksum uint64           `msgpack:"checksum"`
}

// SpectrogramStore persists spectrogram records in chunked msgpack files
// under <root>/specs/<recording>/<fingerprint>/. Artifacts are written to
// a temporary directory and atomically published by rename.
type SpectrogramStore struct {
	root string
}

// NewSpectrogramStore creates a spectrogram store rooted at dir
func NewSpectrogramStore(root string) (*SpectrogramStore, error) {
	dir := filepath.Join(root, "specs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.CodeCacheCorruption, "cannot create spectrogram store", err)
	}
	return &SpectrogramStore{root: root}, nil
}

// Location returns the store-relative directory for a (recording,
// fingerprint) pair
func (s *SpectrogramStore) Location(recordingID, fingerprint string) string {
	return filepath.Join("specs", recordingID, fingerprint)
}

// Save chunks the records and atomically publishes the artifact directory
func (s *SpectrogramStore) Save(recordingID, fingerprint string, records []spectro.Record) (string, error) {
	location := s.Location(recordingID, fingerprint)
	finalDir := filepath.Join(s.root, location)

	if err := os.MkdirAll(filepath.Dir(finalDir), 0755); err != nil {
		return "", errs.Wrap(errs.CodeCacheCorruption, "cannot create artifact parent", err)
	}

	tmpDir, err := os.MkdirTemp(filepath.Dir(finalDir), ".specs-*")
	if err != nil {
		return "", errs.Wrap(errs.CodeCacheCorruption, "cannot create temp artifact dir", err)
	}
	defer os.RemoveAll(tmpDir)

	for chunkIdx := 0; chunkIdx*chunkSize < len(records) || chunkIdx == 0; chunkIdx++ {
		lo := chunkIdx * chunkSize
		hi := min(lo+chunkSize, len(records))

		chunk := specChunk{Records: records[lo:hi]}
		encoded, err := msgpack.Marshal(chunk.Records)
		if err != nil {
			return "", errs.Wrap(errs.CodeCacheCorruption, "cannot encode spectrogram chunk", err)
		}
		chunk.Checksum = xxhash.Sum64(encoded)

		payload, err := msgpack.Marshal(&chunk)
		if err != nil {
			return "", errs.Wrap(errs.CodeCacheCorruption, "cannot encode spectrogram chunk", err)
		}

		name := filepath.Join(tmpDir, fmt.Sprintf("syllables_%04d.mp", chunkIdx))
		if err := os.WriteFile(name, payload, 0644); err != nil {
			return "", errs.Wrap(errs.CodeCacheCorruption, "chunk write failed", err)
		}

		if hi == len(records) {
			break
		}
	}

	// Replace any previous directory at the final location; rename is the
	// publish point.
	if err := os.RemoveAll(finalDir); err != nil {
		return "", errs.Wrap(errs.CodeCacheCorruption, "cannot clear artifact dir", err)
	}
	if err := os.Rename(tmpDir, finalDir); err != nil {
		return "", errs.Wrap(errs.CodeCacheCorruption, "artifact publish failed", err)
	}

	return location, nil
}

// Load reads every chunk in order and verifies checksums. Any mismatch is
// cache corruption: the caller recomputes rather than silently using the
// artifact.
func (s *SpectrogramStore) Load(location string) ([]spectro.Record, error) {
	dir := filepath.Join(s.root, location)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCacheCorruption, "cannot open spectrogram artifact", err).
			WithField("location", location)
	}

	var chunkFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".mp" {
			chunkFiles = append(chunkFiles, entry.Name())
		}
	}
	sort.Strings(chunkFiles)

	var records []spectro.Record
	for _, name := range chunkFiles {
		payload, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errs.Wrap(errs.CodeCacheCorruption, "chunk read failed", err).
				WithField("chunk", name)
		}

		var chunk specChunk
		if err := msgpack.Unmarshal(payload, &chunk); err != nil {
			return nil, errs.Wrap(errs.CodeCacheCorruption, "chunk decode failed", err).
				WithField("chunk", name)
		}

		encoded, err := msgpack.Marshal(chunk.Records)
		if err != nil {
			return nil, errs.Wrap(errs.CodeCacheCorruption, "chunk re-encode failed", err)
		}
		if xxhash.Sum64(encoded) != chunk.Checksum {
			return nil, errs.Newf(errs.CodeCacheCorruption,
				"checksum mismatch in chunk %s of %s", name, location)
		}

		records = append(records, chunk.Records...)
	}

	return records, nil
}
