package registry

import (
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/logging"
)

// Entry records where an artifact lives and what produced it
type Entry struct {
	Location  string    `msgpack:"location"`  // artifact path relative to the cache root
	Checksum  string    `msgpack:"checksum"`  // content or parameter checksum
	RowCount  int       `msgpack:"row_count"` // rows in the artifact (segments or records)
	CreatedAt time.Time `msgpack:"created_at"`
}

// Index maps (recording_id, stage, fingerprint) to artifact locations.
// Records are append-only: a parameter change must always produce a new
// fingerprint, never mutate an existing entry in place.
type Index struct {
	db     *badger.DB
	logger logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per (recording_id, stage) serialization
}

// Open opens (or creates) the registry index in dir
func Open(dir string) (*Index, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.Wrap(errs.CodeCacheCorruption, "cannot open registry index", err).
			WithField("dir", dir)
	}
	return &Index{
		db: db,
		logger: logging.WithFields(logging.Fields{
			"component": "fingerprint_registry",
		}),
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Close releases the underlying store
func (ix *Index) Close() error {
	return ix.db.Close()
}

func entryKey(recordingID, stage, fingerprint string) []byte {
	return fmt.Appendf(nil, "artifact|%s|%s|%s", recordingID, stage, fingerprint)
}

// KeyLock returns the mutex serializing lookups and publishes for one
// (recording_id, stage) pair. Locking is per key, not global, so work on
// different recordings stays fully parallel.
func (ix *Index) KeyLock(recordingID, stage string) *sync.Mutex {
	key := recordingID + "|" + stage
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if lock, ok := ix.locks[key]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	ix.locks[key] = lock
	return lock
}

// Lookup returns the entry for (recording, stage, fingerprint), or
// (nil, false) when absent
func (ix *Index) Lookup(recordingID, stage, fingerprint string) (*Entry, bool, error) {
	var entry Entry
	err := ix.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(recordingID, stage, fingerprint))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &entry)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.CodeCacheCorruption, "registry lookup failed", err).
			WithField("recording", recordingID).
			WithField("stage", stage)
	}
	return &entry, true, nil
}

// Register records an artifact location under its fingerprint. Overwriting
// an existing fingerprint with different content is forbidden;
// re-registering identical content is a no-op so idempotent re-runs stay
// cheap.
func (ix *Index) Register(recordingID, stage, fingerprint string, entry Entry) error {
	existing, found, err := ix.Lookup(recordingID, stage, fingerprint)
	if err != nil {
		return err
	}
	if found {
		if existing.Location == entry.Location && existing.Checksum == entry.Checksum {
			return nil
		}
		return errs.Newf(errs.CodeCacheCorruption,
			"refusing to overwrite registry entry for %s/%s/%s: %s != %s",
			recordingID, stage, fingerprint, existing.Location, entry.Location)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data, err := msgpack.Marshal(&entry)
	if err != nil {
		return errs.Wrap(errs.CodeCacheCorruption, "cannot encode registry entry", err)
	}

	err = ix.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(recordingID, stage, fingerprint), data)
	})
	if err != nil {
		return errs.Wrap(errs.CodeCacheCorruption, "registry write failed", err).
			WithField("recording", recordingID).
			WithField("stage", stage)
	}

	ix.logger.Debug("Artifact registered", logging.Fields{
		"recording":   recordingID,
		"stage":       stage,
		"fingerprint": fingerprint,
		"location":    entry.Location,
		"rows":        entry.RowCount,
	})

	return nil
}

// Invalidate removes the index entry for one artifact. The artifact bytes
// are left in place; only the pointer to them is dropped.
func (ix *Index) Invalidate(recordingID, stage, fingerprint string) error {
	err := ix.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(entryKey(recordingID, stage, fingerprint))
	})
	if err != nil {
		return errs.Wrap(errs.CodeCacheCorruption, "registry invalidation failed", err)
	}
	return nil
}
