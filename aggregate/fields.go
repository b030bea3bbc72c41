package aggregate

import (
	"context"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/registry"
	"github.com/RyanBlaney/sonido-vocal/spectro"
)

// Scalar feature names accepted under "features:"
const (
	FeatureRMS      = "rms"      // mean spectrogram energy in dB
	FeatureDuration = "duration" // segment length in seconds
	FeaturePeakBand = "peakband" // dominant frequency bin index
)

// resolveFeature computes one scalar per spectrogram row. Features live
// in memory only; their identity layers the feature name on the
// spectrogram fingerprint.
func (c *Container) resolveFeature(ctx context.Context, name string, cfg FieldConfig) (*Field, error) {
	specField, err := c.Get(ctx, FieldSpectrograms, cfg)
	if err != nil {
		return nil, err
	}
	records := specField.Data.([]spectro.Record)

	var values []float64
	switch name {
	case FeatureRMS:
		values = make([]float64, len(records))
		for i := range records {
			values[i] = meanValue(records[i].Data)
		}
	case FeatureDuration:
		values, err = c.durations(ctx, specField, cfg)
		if err != nil {
			return nil, err
		}
	case FeaturePeakBand:
		values = make([]float64, len(records))
		for i := range records {
			values[i] = float64(peakBand(&records[i]))
		}
	default:
		return nil, errs.Newf(errs.CodeInvalidParameter,
			"unknown feature %q (known: %s, %s, %s)", name, FeatureRMS, FeatureDuration, FeaturePeakBand)
	}

	fp, err := registry.FingerprintLayered("features",
		map[string]any{"name": name}, specField.Fingerprint)
	if err != nil {
		return nil, err
	}

	keys := make([]RowKey, len(specField.Keys))
	copy(keys, specField.Keys)

	return &Field{Name: featurePrefix + name, Fingerprint: fp, Keys: keys, Data: values}, nil
}

// durations reads segment bounds for each spectrogram row. Every
// spectrogram row must have a segment row behind it; a missing one means
// the fields have diverged.
func (c *Container) durations(ctx context.Context, specField *Field, cfg FieldConfig) ([]float64, error) {
	segField, err := c.Get(ctx, FieldSegments, cfg)
	if err != nil {
		return nil, err
	}
	byKey := make(map[RowKey]SegmentRow, segField.Len())
	for _, row := range segField.Data.([]SegmentRow) {
		byKey[row.Key] = row
	}

	values := make([]float64, len(specField.Keys))
	for i, key := range specField.Keys {
		row, ok := byKey[key]
		if !ok {
			return nil, errs.Newf(errs.CodeConsistency,
				"spectrogram row %s/%d has no matching segment row",
				key.RecordingID, key.SegmentIndex)
		}
		values[i] = row.Offset - row.Onset
	}
	return values, nil
}

func meanValue(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// peakBand returns the frequency bin with the highest time-averaged
// energy
func peakBand(r *spectro.Record) int {
	best, bestSum := 0, 0.0
	for f := range r.Shape.Freq {
		sum := 0.0
		for t := range r.Shape.Time {
			sum += r.At(f, t)
		}
		if f == 0 || sum > bestSum {
			best, bestSum = f, sum
		}
	}
	return best
}

// resolveProjection computes a low-dimensional embedding of the
// spectrogram rows. The only spec is "pca<k>": principal components of
// the flattened spectrograms, projected to k dimensions.
func (c *Container) resolveProjection(ctx context.Context, spec string, cfg FieldConfig) (*Field, error) {
	if !strings.HasPrefix(spec, "pca") {
		return nil, errs.Newf(errs.CodeInvalidParameter, "unknown projection %q (known: pca<k>)", spec)
	}
	k, err := strconv.Atoi(strings.TrimPrefix(spec, "pca"))
	if err != nil || k < 1 {
		return nil, errs.Newf(errs.CodeInvalidParameter, "invalid projection dimension in %q", spec)
	}

	specField, err := c.Get(ctx, FieldSpectrograms, cfg)
	if err != nil {
		return nil, err
	}
	records := specField.Data.([]spectro.Record)
	if len(records) < 2 {
		return nil, errs.Newf(errs.CodeShapeMismatch,
			"projection needs at least 2 rows, have %d", len(records))
	}

	dim := len(records[0].Data)
	data := make([]float64, 0, len(records)*dim)
	for i := range records {
		if len(records[i].Data) != dim {
			return nil, errs.Newf(errs.CodeConsistency,
				"spectrogram row %d has %d values, expected %d", i, len(records[i].Data), dim)
		}
		data = append(data, records[i].Data...)
	}
	m := mat.NewDense(len(records), dim, data)

	var pc stat.PC
	if ok := pc.PrincipalComponents(m, nil); !ok {
		return nil, errs.New(errs.CodeShapeMismatch, "principal component decomposition failed")
	}
	var vectors mat.Dense
	pc.VectorsTo(&vectors)
	_, components := vectors.Dims()
	if k > components {
		return nil, errs.Newf(errs.CodeInvalidParameter,
			"projection dimension %d exceeds available components %d", k, components)
	}

	// Center, then project onto the first k components.
	means := make([]float64, dim)
	for j := range dim {
		means[j] = stat.Mean(mat.Col(nil, j, m), nil)
	}
	centered := mat.NewDense(len(records), dim, nil)
	for i := range len(records) {
		for j := range dim {
			centered.Set(i, j, m.At(i, j)-means[j])
		}
	}
	var projected mat.Dense
	projected.Mul(centered, vectors.Slice(0, dim, 0, k))

	rows := make([][]float64, len(records))
	for i := range rows {
		rows[i] = mat.Row(nil, i, &projected)
	}

	fp, err := registry.FingerprintLayered("projection",
		map[string]any{"spec": spec}, specField.Fingerprint)
	if err != nil {
		return nil, err
	}

	keys := make([]RowKey, len(specField.Keys))
	copy(keys, specField.Keys)

	return &Field{Name: projectionPrefix + spec, Fingerprint: fp, Keys: keys, Data: rows}, nil
}

// View is a filtered, row-aligned selection over the container's fields
type View struct {
	container *Container
	selected  map[RowKey]struct{}
}

// Where filters on a resolved field's rows and returns a view selecting
// the keys the predicate accepted. The field must already be resolved:
// filtering never triggers resolution.
func (c *Container) Where(name string, pred func(Row) bool) (*View, error) {
	field, ok := c.resolved(name)
	if !ok {
		return nil, errs.Newf(errs.CodeInvalidParameter,
			"cannot filter on unresolved field %q", name)
	}

	selected := make(map[RowKey]struct{})
	for i, key := range field.Keys {
		if pred(Row{Key: key, Value: valueAt(field, i)}) {
			selected[key] = struct{}{}
		}
	}
	return &View{container: c, selected: selected}, nil
}

// Len returns the number of selected rows
func (v *View) Len() int {
	return len(v.selected)
}

// Get resolves a field through the parent container and restricts it to
// the view's rows, preserving order and alignment
func (v *View) Get(ctx context.Context, name string, cfg FieldConfig) (*Field, error) {
	field, err := v.container.Get(ctx, name, cfg)
	if err != nil {
		return nil, err
	}

	out := &Field{Name: field.Name, Fingerprint: field.Fingerprint}
	for i, key := range field.Keys {
		if _, ok := v.selected[key]; !ok {
			continue
		}
		out.Keys = append(out.Keys, key)
		appendValue(out, field, i)
	}
	return out, nil
}

// valueAt returns the i-th row value of a field
func valueAt(f *Field, i int) any {
	switch data := f.Data.(type) {
	case []SegmentRow:
		return data[i]
	case []spectro.Record:
		return data[i]
	case []float64:
		return data[i]
	case [][]float64:
		return data[i]
	}
	return nil
}

// appendValue copies the i-th row of src into dst, keeping Data's
// concrete type
func appendValue(dst, src *Field, i int) {
	switch data := src.Data.(type) {
	case []SegmentRow:
		cur, _ := dst.Data.([]SegmentRow)
		dst.Data = append(cur, data[i])
	case []spectro.Record:
		cur, _ := dst.Data.([]spectro.Record)
		dst.Data = append(cur, data[i])
	case []float64:
		cur, _ := dst.Data.([]float64)
		dst.Data = append(cur, data[i])
	case [][]float64:
		cur, _ := dst.Data.([][]float64)
		dst.Data = append(cur, data[i])
	}
}
