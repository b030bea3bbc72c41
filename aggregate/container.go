package aggregate

import (
	"context"
	"strings"
	"sync"

	"github.com/RyanBlaney/sonido-vocal/dataset"
	"github.com/RyanBlaney/sonido-vocal/errs"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/registry"
	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/spectro"
	"github.com/RyanBlaney/sonido-vocal/store"
	"github.com/RyanBlaney/sonido-vocal/transcode"
)

// Field names resolved by the container. Derived fields take a suffix:
// "features:rms", "features:duration", "features:peakband",
// "projection:pca2".
const (
	FieldSegments     = "segments"
	FieldSpectrograms = "spectrograms"
	featurePrefix     = "features:"
	projectionPrefix  = "projection:"
)

// RowKey identifies one row of the aggregate view: one segment of one
// recording
type RowKey struct {
	RecordingID  string
	SegmentIndex int
}

// Row pairs a key with the field's value at that row, for predicates
type Row struct {
	Key   RowKey
	Value any
}

// Field is one resolved column of the aggregate view. Data holds
// []SegmentRow, []spectro.Record, []float64, or [][]float64 depending on
// the field.
type Field struct {
	Name        string
	Fingerprint string
	Keys        []RowKey
	Data        any
}

// Len returns the row count
func (f *Field) Len() int {
	return len(f.Keys)
}

// SegmentRow is one segment with its owning recording attached
type SegmentRow struct {
	Key     RowKey
	Onset   float64
	Offset  float64
	Age     *int
	Session string
}

// FieldConfig selects the upstream parameters a Get call resolves
// against. Fingerprints are derived from it; passing a config matching a
// historical fingerprint retrieves that version without recomputation.
type FieldConfig struct {
	Strategy      string
	SegmentParams segment.Params
	Refine        *segment.RefineParams
	Spec          spectro.Config
}

// AudioLoader yields decoded audio for a recording. The default loader
// shells out to ffmpeg; tests substitute synthetic PCM.
type AudioLoader interface {
	Load(ctx context.Context, rec dataset.Recording) (*transcode.AudioData, error)
}

// DecoderLoader adapts transcode.Decoder to AudioLoader
type DecoderLoader struct {
	Decoder *transcode.Decoder
}

func (l DecoderLoader) Load(ctx context.Context, rec dataset.Recording) (*transcode.AudioData, error) {
	return l.Decoder.DecodeFile(ctx, rec.Path)
}

// Deps wires the container to its collaborators
type Deps struct {
	Loader       AudioLoader
	Index        *registry.Index
	Segments     *store.SegmentStore
	Spectrograms *store.SpectrogramStore
}

type fieldStatus int

const (
	fieldUnresolved fieldStatus = iota
	fieldResolving
	fieldResolved
)

type fieldState struct {
	status fieldStatus
	field  *Field
	err    error
	done   chan struct{} // closed when a Resolving field settles
}

// Container is the lazy, consistency-checked view unifying all derived
// fields for one source-animal identity. Fields are resolved independently
// on first access; a field never requested is never computed.
type Container struct {
	identity   string
	recordings []dataset.Recording
	deps       Deps
	logger     logging.Logger

	mu     sync.Mutex
	fields map[string]*fieldState
	audio  map[string]*transcode.AudioData
}

// NewContainer creates an empty container for one identity. Nothing is
// read or computed until a field is requested.
func NewContainer(identity string, recordings []dataset.Recording, deps Deps) *Container {
	return &Container{
		identity:   identity,
		recordings: recordings,
		deps:       deps,
		logger: logging.WithFields(logging.Fields{
			"component": "data_container",
			"identity":  identity,
		}),
		fields: make(map[string]*fieldState),
		audio:  make(map[string]*transcode.AudioData),
	}
}

// Identity returns the source-animal identity this container serves
func (c *Container) Identity() string {
	return c.identity
}

// Get lazily resolves a field. Per field the lifecycle is Unresolved ->
// Resolving -> Resolved; concurrent callers of the same field block until
// the first resolution settles instead of recomputing. A resolved field is
// returned only when its fingerprint matches the requested config; a
// config change drops the field back to Unresolved and re-resolves, so a
// caller can never receive rows produced under parameters it did not ask
// for.
func (c *Container) Get(ctx context.Context, name string, cfg FieldConfig) (*Field, error) {
	want, err := fieldFingerprint(name, cfg)
	if err != nil {
		return nil, err
	}

	for {
		c.mu.Lock()
		state, ok := c.fields[name]
		if ok && state.status == fieldResolved {
			if state.field.Fingerprint == want {
				c.mu.Unlock()
				return state.field, state.err
			}
			// The field was resolved under different parameters. On-disk
			// artifacts under the old fingerprint stay untouched.
			delete(c.fields, name)
			ok = false
		}
		if ok && state.status == fieldResolving {
			done := state.done
			c.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		state = &fieldState{status: fieldResolving, done: make(chan struct{})}
		c.fields[name] = state
		c.mu.Unlock()

		field, err := c.resolve(ctx, name, cfg)

		c.mu.Lock()
		if err != nil {
			// Leave the field Unresolved so a later call can retry.
			delete(c.fields, name)
		} else {
			state.status = fieldResolved
			state.field = field
		}
		state.err = err
		close(state.done)
		c.mu.Unlock()

		return field, err
	}
}

// Invalidate drops a resolved field back to Unresolved. On-disk artifacts
// are untouched; the next Get re-resolves from the registry.
func (c *Container) Invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.fields[name]; ok && state.status == fieldResolving {
		return // the in-flight resolution will publish its own result
	}
	delete(c.fields, name)
}

// resolved returns an already-resolved field without triggering
// resolution
func (c *Container) resolved(name string) (*Field, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.fields[name]
	if !ok || state.status != fieldResolved {
		return nil, false
	}
	return state.field, true
}

func (c *Container) resolve(ctx context.Context, name string, cfg FieldConfig) (*Field, error) {
	switch {
	case name == FieldSegments:
		return c.resolveSegments(ctx, cfg)
	case name == FieldSpectrograms:
		return c.resolveSpectrograms(ctx, cfg)
	case strings.HasPrefix(name, featurePrefix):
		return c.resolveFeature(ctx, strings.TrimPrefix(name, featurePrefix), cfg)
	case strings.HasPrefix(name, projectionPrefix):
		return c.resolveProjection(ctx, strings.TrimPrefix(name, projectionPrefix), cfg)
	default:
		return nil, errs.Newf(errs.CodeInvalidParameter, "unknown field %q", name)
	}
}

// loadAudio decodes a recording once and caches it for the container's
// lifetime
func (c *Container) loadAudio(ctx context.Context, rec dataset.Recording) (*transcode.AudioData, error) {
	c.mu.Lock()
	if audio, ok := c.audio[rec.ID]; ok {
		c.mu.Unlock()
		return audio, nil
	}
	c.mu.Unlock()

	audio, err := c.deps.Loader.Load(ctx, rec)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.audio[rec.ID] = audio
	c.mu.Unlock()
	return audio, nil
}
