package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/logging"
)

// Recording is one raw audio file, immutable once indexed. A change of the
// file on disk is detected by modification time plus content checksum and
// forces re-derivation of everything built from it.
type Recording struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Identity string    `json:"identity"` // source-animal identity
	Age      *int      `json:"age"`      // nil when the session folder carries no age
	Session  string    `json:"session"`  // raw second-level folder label
	Checksum string    `json:"checksum"` // sha256 of file contents
	ModTime  time.Time `json:"mod_time"`
}

// Resolver enumerates recordings under a root directory, grouped by
// source-animal identity, in a stable order.
type Resolver interface {
	Resolve(root string) ([]Recording, error)
}

// ResolverConfig controls filesystem scanning
type ResolverConfig struct {
	Extensions []string `json:"extensions" yaml:"extensions"`
	Checksum   bool     `json:"checksum" yaml:"checksum"`
}

// DefaultResolverConfig returns default scanning configuration
func DefaultResolverConfig() *ResolverConfig {
	return &ResolverConfig{
		Extensions: []string{".wav", ".flac"},
		Checksum:   true,
	}
}

// FSResolver walks a directory tree laid out as
// <root>/<animal>/<age-or-session>/<file>. The second level is parsed as a
// numeric age in days when it looks like one ("P42", "42"); date-stamped
// session folders yield a nil age, never a guessed value.
type FSResolver struct {
	config *ResolverConfig
	logger logging.Logger
}

// NewFSResolver creates a filesystem resolver
func NewFSResolver(config *ResolverConfig) *FSResolver {
	if config == nil {
		config = DefaultResolverConfig()
	}
	return &FSResolver{
		config: config,
		logger: logging.WithFields(logging.Fields{
			"component": "fs_resolver",
		}),
	}
}

// Resolve enumerates recordings under root, ordered by identity then path
func (r *FSResolver) Resolve(root string) ([]Recording, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, errs.Wrap(errs.CodeDecode, "dataset root not accessible", err).
			WithField("root", root)
	}
	if !info.IsDir() {
		return nil, errs.Newf(errs.CodeDecode, "dataset root is not a directory: %s", root)
	}

	var recordings []Recording
	err = filepath.Walk(root, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() || !r.matchesExtension(path) {
			return nil
		}

		rec, err := r.index(root, path, fi)
		if err != nil {
			return err
		}
		recordings = append(recordings, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].Identity != recordings[j].Identity {
			return recordings[i].Identity < recordings[j].Identity
		}
		return recordings[i].Path < recordings[j].Path
	})

	r.logger.Info("Dataset resolved", logging.Fields{
		"root":       root,
		"recordings": len(recordings),
	})

	return recordings, nil
}

func (r *FSResolver) matchesExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range r.config.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func (r *FSResolver) index(root, path string, fi os.FileInfo) (Recording, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Recording{}, err
	}

	identity, age, session := parseIdentity(rel)

	rec := Recording{
		ID:       recordingID(rel),
		Path:     path,
		Identity: identity,
		Age:      age,
		Session:  session,
		ModTime:  fi.ModTime(),
	}

	if r.config.Checksum {
		sum, err := fileChecksum(path)
		if err != nil {
			return Recording{}, errs.Wrap(errs.CodeDecode, "checksum computation failed", err).
				WithField("path", path)
		}
		rec.Checksum = sum
	}

	return rec, nil
}

// parseIdentity splits a relative path into (identity, age, session).
// "blu285/P42/0001.wav" -> ("blu285", 42, "P42")
// "blu285/2021-06-01/0001.wav" -> ("blu285", nil, "2021-06-01")
// Files directly under the root get the root-relative directory as identity.
func parseIdentity(rel string) (string, *int, string) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	switch len(parts) {
	case 1:
		return "", nil, ""
	case 2:
		return parts[0], nil, ""
	default:
		session := parts[1]
		return parts[0], parseAge(session), session
	}
}

// parseAge accepts "42" or "P42" style labels. Anything else, including
// date-stamped session folders, is an explicit unknown.
func parseAge(label string) *int {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(label, "P"), "p")
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// recordingID derives a stable id from the root-relative path
func recordingID(rel string) string {
	clean := filepath.ToSlash(rel)
	clean = strings.TrimSuffix(clean, filepath.Ext(clean))
	return strings.ReplaceAll(clean, "/", "_")
}

// fileChecksum computes the sha256 hex digest of a file's contents
func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// GroupByIdentity buckets recordings by source-animal identity,
// preserving the resolver's per-identity ordering
func GroupByIdentity(recordings []Recording) map[string][]Recording {
	groups := make(map[string][]Recording)
	for _, rec := range recordings {
		groups[rec.Identity] = append(groups[rec.Identity], rec)
	}
	return groups
}
