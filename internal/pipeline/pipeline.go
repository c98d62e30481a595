// Package pipeline drives one batch pass: select pending records, fetch each
// original, build its preview, publish it and record the location.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/atomic"

	"github.com/Lunanaall/thumbnailer/internal/model"
	"github.com/Lunanaall/thumbnailer/internal/repository/image"
	"github.com/Lunanaall/thumbnailer/internal/storage/blob"
)

const (
	DefaultWorkers = 4
	previewType    = "image/jpeg"
)

// metadataStore selects candidates and records completed previews.
type metadataStore interface {
	FetchPending(ctx context.Context) ([]model.ImageRecord, error)
	RecordCompletion(ctx context.Context, id int64, location string) error
}

// assetStore reads originals and writes previews.
type assetStore interface {
	Fetch(ctx context.Context, container, key string) ([]byte, error)
	Publish(ctx context.Context, container, key string, data []byte, contentType string) (string, error)
}

// transformer turns original bytes into preview bytes.
type transformer interface {
	Transform(data []byte) ([]byte, error)
}

// claimer guards a record against concurrent workers.
type claimer interface {
	Claim(ctx context.Context, id int64) (bool, error)
	Release(ctx context.Context, id int64) error
}

// Options controls a run.
type Options struct {
	OriginalsContainer  string
	ThumbnailsContainer string
	KeyPrefix           string
	// Workers bounds concurrent items. 1 processes sequentially.
	Workers int
	// DryRun selects and reports candidates without touching them.
	DryRun bool
}

// Failure describes one item that did not complete.
type Failure struct {
	ImageID int64
	Stage   Stage
	Err     error
}

// Summary is the outcome of a run.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Duration  time.Duration
	Failures  []Failure
}

// OK reports whether no item failed.
func (s Summary) OK() bool { return s.Failed == 0 }

// Pipeline processes pending records. Dependencies are supplied explicitly.
type Pipeline struct {
	store       metadataStore
	assets      assetStore
	transformer transformer
	claimer     claimer
	opts        Options
	log         zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClaimer enables per-record leases.
func WithClaimer(c claimer) Option {
	return func(p *Pipeline) { p.claimer = c }
}

// WithLogger sets the run logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// New creates a Pipeline.
func New(store metadataStore, assets assetStore, t transformer, opts Options, options ...Option) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = DefaultWorkers
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}

	p := &Pipeline{
		store:       store,
		assets:      assets,
		transformer: t,
		opts:        opts,
		log:         zerolog.Nop(),
	}
	for _, o := range options {
		o(p)
	}

	return p
}

// errSkipped marks items that were left to another worker.
var errSkipped = errors.New("skipped")

// Run performs one pass over the pending records. Per-item failures are
// reported in the summary; only a selection failure or cancellation is
// returned as an error.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	records, err := p.store.FetchPending(ctx)
	if err != nil {
		return Summary{}, &SelectionError{Err: err}
	}

	p.log.Info().Int("candidates", len(records)).Bool("dry_run", p.opts.DryRun).Msg("selected pending images")

	if p.opts.DryRun {
		p.report(records)
		return Summary{Total: len(records), Duration: time.Since(start)}, nil
	}

	var (
		succeeded = atomic.NewInt64(0)
		failed    = atomic.NewInt64(0)
		skipped   = atomic.NewInt64(0)

		mu       sync.Mutex
		failures []Failure
	)

	wp := pool.New().WithMaxGoroutines(p.opts.Workers)
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}

		wp.Go(func() {
			err := p.processItem(ctx, rec)
			switch {
			case err == nil:
				succeeded.Inc()
			case errors.Is(err, errSkipped):
				skipped.Inc()
			default:
				failed.Inc()

				mu.Lock()
				failures = append(failures, Failure{ImageID: rec.ID, Stage: StageOf(err), Err: err})
				mu.Unlock()
			}
		})
	}
	wp.Wait()

	sort.Slice(failures, func(i, j int) bool { return failures[i].ImageID < failures[j].ImageID })

	summary := Summary{
		Total:     len(records),
		Succeeded: int(succeeded.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Duration:  time.Since(start),
		Failures:  failures,
	}

	p.log.Info().
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Dur("duration", summary.Duration).
		Msg("run finished")

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}

	return summary, nil
}

func (p *Pipeline) report(records []model.ImageRecord) {
	for _, rec := range records {
		ev := p.log.Info().Int64("image_id", rec.ID).Str("original", rec.OriginalLocation)
		if key, err := blob.KeyFromLocation(rec.OriginalLocation, p.opts.OriginalsContainer); err == nil {
			ev = ev.Str("preview_key", DerivedKey(key, p.opts.KeyPrefix))
		}
		ev.Msg("pending image")
	}
}

// processItem walks one record through claim, fetch, transform, publish and
// record. The returned error is a stage error, errSkipped or nil.
func (p *Pipeline) processItem(ctx context.Context, rec model.ImageRecord) (err error) {
	log := p.log.With().Int64("image_id", rec.ID).Logger()
	stage := StageClaim

	defer func() {
		if r := recover(); r != nil {
			err = stageError(stage, rec.ID, fmt.Errorf("panic: %v", r))
		}
		if err != nil && !errors.Is(err, errSkipped) {
			log.Error().Err(err).Str("stage", string(StageOf(err))).Msg("image processing failed")
		}
	}()

	if p.claimer != nil {
		ok, err := p.claimer.Claim(ctx, rec.ID)
		if err != nil {
			return &ClaimError{ImageID: rec.ID, Err: err}
		}
		if !ok {
			log.Debug().Msg("image leased by another worker, skipping")
			return errSkipped
		}
		defer p.release(ctx, rec.ID, log)
	}

	stage = StageFetch
	key, err := blob.KeyFromLocation(rec.OriginalLocation, p.opts.OriginalsContainer)
	if err != nil {
		return &FetchError{ImageID: rec.ID, Container: p.opts.OriginalsContainer, Key: rec.OriginalLocation, Err: err}
	}

	original, err := p.assets.Fetch(ctx, p.opts.OriginalsContainer, key)
	if err != nil {
		return &FetchError{ImageID: rec.ID, Container: p.opts.OriginalsContainer, Key: key, Err: err}
	}

	stage = StageTransform
	preview, err := p.transformer.Transform(original)
	if err != nil {
		return &TransformError{ImageID: rec.ID, Err: err}
	}

	stage = StagePublish
	dstKey := DerivedKey(key, p.opts.KeyPrefix)
	location, err := p.assets.Publish(ctx, p.opts.ThumbnailsContainer, dstKey, preview, previewType)
	if err != nil {
		return &PublishError{ImageID: rec.ID, Container: p.opts.ThumbnailsContainer, Key: dstKey, Err: err}
	}

	stage = StageRecord
	if err := p.store.RecordCompletion(ctx, rec.ID, location); err != nil {
		if errors.Is(err, image.ErrNotPending) || errors.Is(err, image.ErrLeaseLost) {
			log.Info().Err(err).Msg("image completed elsewhere, skipping")
			return errSkipped
		}

		return &RecordError{ImageID: rec.ID, Location: location, Err: err}
	}

	log.Info().Str("location", location).Int("bytes", len(preview)).Msg("preview recorded")

	return nil
}

// release runs even when the run context is cancelled so the lease does not
// linger until its TTL.
func (p *Pipeline) release(ctx context.Context, id int64, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := p.claimer.Release(ctx, id); err != nil {
		log.Warn().Err(err).Msg("failed to release lease")
	}
}

func stageError(stage Stage, id int64, err error) error {
	switch stage {
	case StageClaim:
		return &ClaimError{ImageID: id, Err: err}
	case StageFetch:
		return &FetchError{ImageID: id, Err: err}
	case StageTransform:
		return &TransformError{ImageID: id, Err: err}
	case StagePublish:
		return &PublishError{ImageID: id, Err: err}
	default:
		return &RecordError{ImageID: id, Err: err}
	}
}
