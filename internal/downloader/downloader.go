package downloader

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/multifetch/internal/downloader/progress"
	"github.com/italolelis/multifetch/internal/engine"
	"github.com/italolelis/multifetch/internal/logctx"
	"github.com/italolelis/multifetch/internal/storage"
	"github.com/italolelis/multifetch/internal/telemetry"
	"github.com/italolelis/multifetch/internal/transfer"
	"github.com/italolelis/multifetch/internal/transport"
)

// ErrDuplicateDestination fails a target whose destination is already used by
// an earlier target of the same batch.
var ErrDuplicateDestination = errors.New("duplicate destination")

// Target is one download: where to fetch from and where to store the body.
type Target struct {
	URL         string `json:"url"`
	Destination string `json:"destination"`
}

// Batch summarizes a finished run.
type Batch struct {
	ID        string
	Outcomes  []transfer.Outcome
	Succeeded int
	Failed    int
	Bytes     int64
	Duration  time.Duration
	Err       error
}

// Summarize counts the outcomes of a run.
func Summarize(outcomes []transfer.Outcome) Batch {
	b := Batch{Outcomes: outcomes}

	for _, o := range outcomes {
		if o.Result == transfer.Succeeded {
			b.Succeeded++
			b.Bytes += o.BytesWritten
		} else {
			b.Failed++
		}
	}

	return b
}

// EngineFactory returns a fresh engine for each batch, so the registry is
// scoped to one run.
type EngineFactory func() *engine.Engine

// Options configures the downloader.
type Options struct {
	// MaxConcurrent caps the number of transfers in flight. Zero submits every
	// target at once.
	MaxConcurrent int

	// MaxWait bounds each wait of the engine loop.
	MaxWait time.Duration

	// ProgressInterval is the number of bytes between progress logs of a
	// transfer. Zero disables progress logs.
	ProgressInterval int64

	Telemetry *telemetry.Telemetry
}

type Downloader struct {
	sinks     transfer.SinkFactory
	newEngine EngineFactory
	repo      storage.OutcomeWriteRepository
	opts      Options

	// OnBatchFinished, when set, is called after every RunBatch.
	OnBatchFinished func(ctx context.Context, b Batch)
}

func NewDownloader(sinks transfer.SinkFactory, newEngine EngineFactory, repo storage.OutcomeWriteRepository, opts Options) *Downloader {
	if opts.MaxWait <= 0 {
		opts.MaxWait = engine.DefaultMaxWait
	}

	return &Downloader{
		sinks:     sinks,
		newEngine: newEngine,
		repo:      repo,
		opts:      opts,
	}
}

// Run downloads every target and returns one outcome per target, in
// completion order. A target whose sink cannot be opened fails immediately
// without affecting the others. The error is non-nil only when the whole
// batch failed: the multiplexer broke, handle uniqueness was violated or ctx
// was cancelled. Even then the outcome list is complete.
func (d *Downloader) Run(ctx context.Context, targets []Target) ([]transfer.Outcome, error) {
	return d.run(ctx, targets, nil)
}

// RunBatch runs targets as batch id, persisting the batch and every outcome as
// it is reported.
func (d *Downloader) RunBatch(ctx context.Context, id string, targets []Target) (Batch, error) {
	ctx = logctx.With(ctx, "batch_id", id)
	logger := logctx.LoggerFromContext(ctx)

	if d.repo != nil {
		if err := d.repo.SaveBatch(id, len(targets)); err != nil {
			logger.Error("failed to save batch", "err", err)
		}
	}

	start := time.Now()

	outcomes, err := d.run(ctx, targets, func(o transfer.Outcome) {
		d.persist(ctx, id, o)
	})

	b := Summarize(outcomes)
	b.ID = id
	b.Duration = time.Since(start)
	b.Err = err

	if d.repo != nil {
		status := storage.BatchCompleted
		if err != nil {
			status = storage.BatchAborted
		}

		if ferr := d.repo.FinishBatch(id, status); ferr != nil {
			logger.Error("failed to finish batch", "err", ferr)
		}
	}

	logger.Info("batch finished",
		"succeeded", b.Succeeded,
		"failed", b.Failed,
		"size", humanize.Bytes(uint64(b.Bytes)),
		"duration", b.Duration.String())

	if d.OnBatchFinished != nil {
		d.OnBatchFinished(ctx, b)
	}

	return b, err
}

func (d *Downloader) run(ctx context.Context, targets []Target, onOutcome func(transfer.Outcome)) ([]transfer.Outcome, error) {
	var (
		outcomes = make([]transfer.Outcome, 0, len(targets))
		fatal    error
	)

	err := d.opts.Telemetry.InstrumentBatch(ctx, len(targets), func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		logger := logctx.LoggerFromContext(ctx)
		eng := d.newEngine()
		defer eng.Close()

		sinks := d.progressSinks(logger)
		next := 0
		seen := make(map[string]bool, len(targets))

		record := func(o transfer.Outcome) {
			outcomes = append(outcomes, o)

			if onOutcome != nil {
				onOutcome(o)
			}
		}

		// admit creates and submits targets while there is room in flight.
		// It runs before the loop and again from the engine's report callback,
		// so contexts are created only as slots free.
		admit := func() {
			for next < len(targets) && fatal == nil && !eng.Stopped() && ctx.Err() == nil {
				if d.opts.MaxConcurrent > 0 && eng.InFlight() >= d.opts.MaxConcurrent {
					return
				}

				tgt := targets[next]
				next++

				// Two transfers never share a sink: a failing one would delete
				// the other's file.
				dest := filepath.Clean(tgt.Destination)
				if seen[dest] {
					logger.Warn("destination already used in this batch", "url", tgt.URL, "destination", tgt.Destination)
					record(transfer.Failure(tgt.URL, tgt.Destination, ErrDuplicateDestination))

					continue
				}

				seen[dest] = true

				t, err := transfer.New(tgt.URL, tgt.Destination, sinks)
				if err != nil {
					logger.Warn("failed to create transfer", "url", tgt.URL, "destination", tgt.Destination, "err", err)
					record(transfer.Failure(tgt.URL, tgt.Destination, err))

					continue
				}

				if _, err := eng.Submit(ctx, t); err != nil {
					t.Abandon(err)
					record(t.Outcome())

					if isFatal(err) {
						logger.Error("failed to submit transfer, aborting batch", "url", tgt.URL, "err", err)

						fatal = err

						cancel()
					}
				}
			}
		}

		admit()

		runErr := eng.Run(ctx, d.opts.MaxWait, func(o transfer.Outcome) {
			record(o)
			admit()
		})

		if fatal != nil {
			runErr = fatal
		}

		// Targets never admitted are reported without creating their sink.
		if next < len(targets) {
			reason := transfer.ErrCancelled

			var merr *transfer.MultiplexerError
			if fatal != nil || errors.As(runErr, &merr) {
				reason = transfer.ErrAborted
			}

			for _, tgt := range targets[next:] {
				record(transfer.Failure(tgt.URL, tgt.Destination, reason))
			}

			next = len(targets)
		}

		return runErr
	})

	return outcomes, err
}

func (d *Downloader) persist(ctx context.Context, batchID string, o transfer.Outcome) {
	if d.repo == nil {
		return
	}

	err := d.repo.SaveOutcome(storage.OutcomeRecord{
		BatchID:     batchID,
		URL:         o.URL,
		Destination: o.Destination,
		Result:      o.Result.String(),
		Reason:      o.Reason(),
		StatusCode:  o.StatusCode,
		Bytes:       o.BytesWritten,
		FinishedAt:  time.Now().Format(time.RFC3339),
	})
	if err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to save outcome", "url", o.URL, "err", err)
	}
}

// isFatal reports whether a Submit error breaks the whole batch rather than
// just its target.
func isFatal(err error) bool {
	var dup *transfer.DuplicateHandleError

	return errors.As(err, &dup) || errors.Is(err, transport.ErrClosed)
}

func (d *Downloader) progressSinks(logger *slog.Logger) transfer.SinkFactory {
	if d.opts.ProgressInterval <= 0 {
		return d.sinks
	}

	return &progressSinks{SinkFactory: d.sinks, interval: d.opts.ProgressInterval, logger: logger}
}

// progressSinks logs how much of each transfer was written so far.
type progressSinks struct {
	transfer.SinkFactory

	interval int64
	logger   *slog.Logger
}

func (s *progressSinks) Open(path string) (transfer.Sink, error) {
	sink, err := s.SinkFactory.Open(path)
	if err != nil {
		return nil, err
	}

	return progress.NewWriter(sink, s.interval, func(written int64) {
		s.logger.Debug("download progress", "destination", path, "downloaded", humanize.Bytes(uint64(written)))
	}), nil
}
