package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/segment"
)

// SegmentStore persists SegmentSets as human-inspectable sidecar text
// files, one per (recording, fingerprint) pair: two columns of onset and
// offset seconds, with metadata in comment lines.
type SegmentStore struct {
	root string
}

// NewSegmentStore creates a segment store rooted at dir
func NewSegmentStore(root string) (*SegmentStore, error) {
	dir := filepath.Join(root, "segments")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.CodeCacheCorruption, "cannot create segment store", err)
	}
	return &SegmentStore{root: root}, nil
}

// Location returns the store-relative path for a (recording, fingerprint)
// pair; registry entries record this string
func (s *SegmentStore) Location(recordingID, fingerprint string) string {
	return filepath.Join("segments", fmt.Sprintf("%s_%s.txt", recordingID, fingerprint))
}

// Save writes the set to a temporary file and atomically publishes it. A
// crash mid-write can never leave a partial sidecar at the final path.
func (s *SegmentStore) Save(set *segment.SegmentSet, fingerprint string) (string, error) {
	location := s.Location(set.RecordingID, fingerprint)
	finalPath := filepath.Join(s.root, location)

	tmp, err := os.CreateTemp(filepath.Dir(finalPath), ".segments-*")
	if err != nil {
		return "", errs.Wrap(errs.CodeCacheCorruption, "cannot create temp sidecar", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "# recording %s\n", set.RecordingID)
	fmt.Fprintf(w, "# strategy %s\n", set.Strategy)
	fmt.Fprintf(w, "# fingerprint %s\n", fingerprint)
	fmt.Fprintf(w, "# discarded %d\n", set.Discarded)
	fmt.Fprintf(w, "# clipped %d\n", set.Clipped)
	for _, seg := range set.Segments {
		fmt.Fprintf(w, "%s\t%s\n",
			strconv.FormatFloat(seg.Onset, 'f', 6, 64),
			strconv.FormatFloat(seg.Offset, 'f', 6, 64))
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return "", errs.Wrap(errs.CodeCacheCorruption, "sidecar write failed", err)
	}
	if err := tmp.Close(); err != nil {
		return "", errs.Wrap(errs.CodeCacheCorruption, "sidecar close failed", err)
	}

	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", errs.Wrap(errs.CodeCacheCorruption, "sidecar publish failed", err)
	}

	return location, nil
}

// Load reads a sidecar back into a SegmentSet
func (s *SegmentStore) Load(location string) (*segment.SegmentSet, error) {
	f, err := os.Open(filepath.Join(s.root, location))
	if err != nil {
		return nil, errs.Wrap(errs.CodeCacheCorruption, "cannot open segment sidecar", err).
			WithField("location", location)
	}
	defer f.Close()

	set := &segment.SegmentSet{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			parseMetaLine(set, line)
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errs.Newf(errs.CodeCacheCorruption,
				"malformed sidecar line %q in %s", line, location)
		}
		onset, err1 := strconv.ParseFloat(fields[0], 64)
		offset, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			return nil, errs.Newf(errs.CodeCacheCorruption,
				"non-numeric sidecar line %q in %s", line, location)
		}
		set.Segments = append(set.Segments, segment.Segment{Onset: onset, Offset: offset})
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.CodeCacheCorruption, "sidecar read failed", err)
	}

	return set, nil
}

func parseMetaLine(set *segment.SegmentSet, line string) {
	fields := strings.Fields(strings.TrimPrefix(line, "#"))
	if len(fields) != 2 {
		return
	}
	switch fields[0] {
	case "recording":
		set.RecordingID = fields[1]
	case "strategy":
		set.Strategy = fields[1]
	case "fingerprint":
		set.Fingerprint = fields[1]
	case "discarded":
		if n, err := strconv.Atoi(fields[1]); err == nil {
			set.Discarded = n
		}
	case "clipped":
		if n, err := strconv.Atoi(fields[1]); err == nil {
			set.Clipped = n
		}
	}
}
