package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/RyanBlaney/sonido-vocal/aggregate"
	"github.com/RyanBlaney/sonido-vocal/dataset"
	"github.com/RyanBlaney/sonido-vocal/logging"
	"github.com/RyanBlaney/sonido-vocal/segment"
	"github.com/RyanBlaney/sonido-vocal/spectro"
)

// Plan describes the work to materialize for every recording. A nil Spec
// stops after segmentation.
type Plan struct {
	Strategy      string
	SegmentParams segment.Params
	Refine        *segment.RefineParams
	Spec          *spectro.Config
}

// RecordingError pairs a failed recording with its error
type RecordingError struct {
	RecordingID string
	Err         error
}

// Report summarizes one batch run
type Report struct {
	RunID      string
	Started    time.Time
	Finished   time.Time
	Recordings int
	Segments   int
	Records    int
	Failed     []RecordingError
	Err        error // every per-recording error, combined
}

// Driver materializes segmentation and spectrogram artifacts for a set of
// recordings. Work is per-recording: one bad file is reported and skipped,
// the rest of the batch proceeds. Re-running the same plan is cheap;
// recordings whose artifacts are already registered do no audio work.
type Driver struct {
	deps    aggregate.Deps
	workers int
	logger  logging.Logger
}

// NewDriver creates a batch driver. Workers defaults to 4 when
// non-positive.
func NewDriver(deps aggregate.Deps, workers int) *Driver {
	if workers <= 0 {
		workers = 4
	}
	return &Driver{
		deps:    deps,
		workers: workers,
		logger: logging.WithFields(logging.Fields{
			"component": "batch_driver",
		}),
	}
}

type jobResult struct {
	recordingID string
	segments    int
	records     int
	err         error
}

// Run processes every recording under the plan and returns a report.
// Cancellation stops scheduling new recordings; artifacts already
// published stay valid, so a canceled run resumes from where it stopped.
func (d *Driver) Run(ctx context.Context, recordings []dataset.Recording, plan Plan) (*Report, error) {
	report := &Report{
		RunID:      uuid.NewString(),
		Started:    time.Now(),
		Recordings: len(recordings),
	}

	d.logger.Info("Batch run started", logging.Fields{
		"run_id":     report.RunID,
		"recordings": len(recordings),
		"strategy":   plan.Strategy,
		"workers":    d.workers,
	})

	results := make(chan jobResult, len(recordings))
	semaphore := make(chan struct{}, d.workers)
	var wg sync.WaitGroup

	for _, rec := range recordings {
		select {
		case <-ctx.Done():
			results <- jobResult{recordingID: rec.ID, err: ctx.Err()}
			continue
		case semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(rec dataset.Recording) {
			defer wg.Done()
			defer func() { <-semaphore }()
			results <- d.process(ctx, rec, plan)
		}(rec)
	}

	wg.Wait()
	close(results)

	for res := range results {
		if res.err != nil {
			report.Failed = append(report.Failed, RecordingError{
				RecordingID: res.recordingID,
				Err:         res.err,
			})
			report.Err = multierr.Append(report.Err, res.err)
			continue
		}
		report.Segments += res.segments
		report.Records += res.records
	}

	report.Finished = time.Now()

	d.logger.Info("Batch run finished", logging.Fields{
		"run_id":   report.RunID,
		"elapsed":  report.Finished.Sub(report.Started).String(),
		"segments": report.Segments,
		"records":  report.Records,
		"failed":   len(report.Failed),
	})

	return report, nil
}

// process materializes one recording's artifacts through a
// single-recording container, so cache lookups, per-key write locks, and
// corruption recovery behave exactly as they do at query time
func (d *Driver) process(ctx context.Context, rec dataset.Recording, plan Plan) jobResult {
	res := jobResult{recordingID: rec.ID}

	cfg := aggregate.FieldConfig{
		Strategy:      plan.Strategy,
		SegmentParams: plan.SegmentParams,
		Refine:        plan.Refine,
	}
	if plan.Spec != nil {
		cfg.Spec = *plan.Spec
	}

	container := aggregate.NewContainer(rec.Identity, []dataset.Recording{rec}, d.deps)

	segField, err := container.Get(ctx, aggregate.FieldSegments, cfg)
	if err != nil {
		d.logger.Error(err, "Recording failed", logging.Fields{
			"recording": rec.ID,
			"stage":     "segments",
		})
		res.err = err
		return res
	}
	res.segments = segField.Len()

	if plan.Spec == nil {
		return res
	}

	specField, err := container.Get(ctx, aggregate.FieldSpectrograms, cfg)
	if err != nil {
		d.logger.Error(err, "Recording failed", logging.Fields{
			"recording": rec.ID,
			"stage":     "spectrograms",
		})
		res.err = err
		return res
	}
	res.records = specField.Len()

	return res
}
