package aggregate

import (
	"context"
	"strings"

	"github.com/RyanBlaney/sonido-vocal/dataset"
	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/registry"
	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/spectro"
)

// segmentFingerprints derives the base and final fingerprints for the
// configured segmentation. With refinement enabled the final stage is
// "refine" and its fingerprint layers on the base.
func segmentFingerprints(cfg FieldConfig) (stage, fp string, err error) {
	if cfg.SegmentParams == nil {
		return "", "", errs.New(errs.CodeInvalidParameter, "segmentation params are required")
	}
	baseFP, err := registry.Fingerprint(registry.StageSegments, cfg.SegmentParams.Map())
	if err != nil {
		return "", "", err
	}
	if cfg.Refine == nil {
		return registry.StageSegments, baseFP, nil
	}
	refinedFP, err := registry.FingerprintLayered(registry.StageRefine, cfg.Refine.Map(), baseFP)
	if err != nil {
		return "", "", err
	}
	return registry.StageRefine, refinedFP, nil
}

// fieldFingerprint derives the fingerprint a field resolves under for the
// given config, without touching disk. Get uses it to detect that a
// resolved field no longer matches the caller's parameters.
func fieldFingerprint(name string, cfg FieldConfig) (string, error) {
	_, segFP, err := segmentFingerprints(cfg)
	if err != nil {
		return "", err
	}
	if name == FieldSegments {
		return segFP, nil
	}

	specFP, err := registry.FingerprintLayered(registry.StageSpectrograms, cfg.Spec.Map(), segFP)
	if err != nil {
		return "", err
	}
	switch {
	case name == FieldSpectrograms:
		return specFP, nil
	case strings.HasPrefix(name, featurePrefix):
		return registry.FingerprintLayered("features",
			map[string]any{"name": strings.TrimPrefix(name, featurePrefix)}, specFP)
	case strings.HasPrefix(name, projectionPrefix):
		return registry.FingerprintLayered("projection",
			map[string]any{"spec": strings.TrimPrefix(name, projectionPrefix)}, specFP)
	default:
		return "", errs.Newf(errs.CodeInvalidParameter, "unknown field %q", name)
	}
}

// segmentSet resolves one recording's SegmentSet under the configured
// fingerprint: registry hit loads the sidecar, miss (or a corrupt
// artifact) recomputes and publishes. The per-key lock serializes writers
// for the same (recording, stage); different recordings proceed in
// parallel.
func (c *Container) segmentSet(ctx context.Context, rec dataset.Recording, cfg FieldConfig) (*segment.SegmentSet, error) {
	stage, fp, err := segmentFingerprints(cfg)
	if err != nil {
		return nil, err
	}

	lock := c.deps.Index.KeyLock(rec.ID, stage)
	lock.Lock()
	defer lock.Unlock()

	entry, found, err := c.deps.Index.Lookup(rec.ID, stage, fp)
	if err != nil {
		return nil, err
	}
	if found {
		set, loadErr := c.deps.Segments.Load(entry.Location)
		if loadErr == nil && set.Len() == entry.RowCount {
			return set, nil
		}
		// A registered artifact that cannot be read back, or whose row
		// count disagrees with its registry entry, is treated as corrupt:
		// recompute and republish, never use it silently.
		c.logger.Warn("Cached segment artifact is corrupt, recomputing", logging.Fields{
			"recording":   rec.ID,
			"stage":       stage,
			"fingerprint": fp,
			"error":       loadErr,
		})
		if err := c.deps.Index.Invalidate(rec.ID, stage, fp); err != nil {
			return nil, err
		}
	}

	set, err := c.computeSegments(ctx, rec, cfg, fp)
	if err != nil {
		return nil, err
	}

	location, err := c.deps.Segments.Save(set, fp)
	if err != nil {
		return nil, err
	}
	err = c.deps.Index.Register(rec.ID, stage, fp, registry.Entry{
		Location: location,
		Checksum: fp,
		RowCount: set.Len(),
	})
	if err != nil {
		return nil, err
	}

	return set, nil
}

func (c *Container) computeSegments(ctx context.Context, rec dataset.Recording, cfg FieldConfig, fp string) (*segment.SegmentSet, error) {
	audio, err := c.loadAudio(ctx, rec)
	if err != nil {
		return nil, err
	}

	set, err := segment.Run(audio, cfg.Strategy, cfg.SegmentParams)
	if err != nil {
		return nil, err
	}
	set.RecordingID = rec.ID

	if cfg.Refine != nil {
		set, err = segment.Refine(audio, set, *cfg.Refine)
		if err != nil {
			return nil, err
		}
	}
	set.Fingerprint = fp

	return set, nil
}

// resolveSegments resolves every recording's SegmentSet and flattens them
// into one aligned column, ordered by recording then segment index
func (c *Container) resolveSegments(ctx context.Context, cfg FieldConfig) (*Field, error) {
	_, fp, err := segmentFingerprints(cfg)
	if err != nil {
		return nil, err
	}

	var keys []RowKey
	var rows []SegmentRow
	for _, rec := range c.recordings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set, err := c.segmentSet(ctx, rec, cfg)
		if err != nil {
			return nil, err
		}
		for i, seg := range set.Segments {
			key := RowKey{RecordingID: rec.ID, SegmentIndex: i}
			keys = append(keys, key)
			rows = append(rows, SegmentRow{
				Key:     key,
				Onset:   seg.Onset,
				Offset:  seg.Offset,
				Age:     rec.Age,
				Session: rec.Session,
			})
		}
	}

	c.logger.Debug("Field resolved", logging.Fields{
		"field":       FieldSegments,
		"fingerprint": fp,
		"rows":        len(rows),
	})

	return &Field{Name: FieldSegments, Fingerprint: fp, Keys: keys, Data: rows}, nil
}

// spectrogramRecords resolves one recording's spectrogram records for the
// given SegmentSet. The spectrogram fingerprint layers the spectrogram
// config on the segment fingerprint, so changed segmentation parameters
// always produce a distinct spectrogram artifact.
func (c *Container) spectrogramRecords(ctx context.Context, rec dataset.Recording, set *segment.SegmentSet, cfg FieldConfig) ([]spectro.Record, string, error) {
	fp, err := registry.FingerprintLayered(registry.StageSpectrograms, cfg.Spec.Map(), set.Fingerprint)
	if err != nil {
		return nil, "", err
	}

	lock := c.deps.Index.KeyLock(rec.ID, registry.StageSpectrograms)
	lock.Lock()
	defer lock.Unlock()

	entry, found, err := c.deps.Index.Lookup(rec.ID, registry.StageSpectrograms, fp)
	if err != nil {
		return nil, "", err
	}
	if found {
		records, loadErr := c.deps.Spectrograms.Load(entry.Location)
		if loadErr == nil && c.recordsMatchSet(records, entry.RowCount, set) {
			return records, fp, nil
		}
		c.logger.Warn("Cached spectrogram artifact is corrupt, recomputing", logging.Fields{
			"recording":   rec.ID,
			"fingerprint": fp,
			"error":       loadErr,
		})
		if err := c.deps.Index.Invalidate(rec.ID, registry.StageSpectrograms, fp); err != nil {
			return nil, "", err
		}
	}

	audio, err := c.loadAudio(ctx, rec)
	if err != nil {
		return nil, "", err
	}
	builder, err := spectro.NewBuilder(cfg.Spec)
	if err != nil {
		return nil, "", err
	}
	result, err := builder.Build(audio, set)
	if err != nil {
		return nil, "", err
	}
	for i := range result.Records {
		result.Records[i].ConfigFP = fp
	}

	location, err := c.deps.Spectrograms.Save(rec.ID, fp, result.Records)
	if err != nil {
		return nil, "", err
	}
	err = c.deps.Index.Register(rec.ID, registry.StageSpectrograms, fp, registry.Entry{
		Location: location,
		Checksum: fp,
		RowCount: len(result.Records),
	})
	if err != nil {
		return nil, "", err
	}

	return result.Records, fp, nil
}

// recordsMatchSet verifies a loaded spectrogram artifact against its
// registry entry and owning SegmentSet: row count as registered, indices
// strictly increasing within the set's bounds, and every record produced
// from this exact set. Skipped segments leave index gaps; they never
// change the ordering.
func (c *Container) recordsMatchSet(records []spectro.Record, rowCount int, set *segment.SegmentSet) bool {
	if len(records) != rowCount || len(records) > set.Len() {
		return false
	}
	prev := -1
	for _, r := range records {
		if r.Index <= prev || r.Index >= set.Len() {
			return false
		}
		if r.SegmentFP != set.Fingerprint {
			return false
		}
		prev = r.Index
	}
	return true
}

// resolveSpectrograms resolves every recording's records into one aligned
// column. Rows are keyed by segment index, so a row here always refers to
// the same segment as the matching row of the segments field.
func (c *Container) resolveSpectrograms(ctx context.Context, cfg FieldConfig) (*Field, error) {
	fieldFP, err := fieldFingerprint(FieldSpectrograms, cfg)
	if err != nil {
		return nil, err
	}

	var keys []RowKey
	var records []spectro.Record

	for _, rec := range c.recordings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set, err := c.segmentSet(ctx, rec, cfg)
		if err != nil {
			return nil, err
		}
		recs, _, err := c.spectrogramRecords(ctx, rec, set, cfg)
		if err != nil {
			return nil, err
		}

		for _, r := range recs {
			keys = append(keys, RowKey{RecordingID: rec.ID, SegmentIndex: r.Index})
			records = append(records, r)
		}
	}

	if err := c.checkAgainstSegments(keys); err != nil {
		return nil, err
	}

	c.logger.Debug("Field resolved", logging.Fields{
		"field":       FieldSpectrograms,
		"fingerprint": fieldFP,
		"rows":        len(records),
	})

	return &Field{Name: FieldSpectrograms, Fingerprint: fieldFP, Keys: keys, Data: records}, nil
}

// checkAgainstSegments compares freshly resolved spectrogram rows with an
// already-resolved segments field. A spectrogram row whose segment does
// not exist in memory means the two fields disagree about the same
// recordings; that is a consistency failure, never something to repair
// silently.
func (c *Container) checkAgainstSegments(keys []RowKey) error {
	segField, ok := c.resolved(FieldSegments)
	if !ok {
		return nil
	}
	known := make(map[RowKey]struct{}, len(segField.Keys))
	for _, k := range segField.Keys {
		known[k] = struct{}{}
	}
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			return errs.Newf(errs.CodeConsistency,
				"spectrogram row %s/%d has no matching segment row",
				k.RecordingID, k.SegmentIndex)
		}
	}
	return nil
}
