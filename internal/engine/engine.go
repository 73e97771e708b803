package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/multifetch/internal/logctx"
	"github.com/italolelis/multifetch/internal/telemetry"
	"github.com/italolelis/multifetch/internal/transfer"
	"github.com/italolelis/multifetch/internal/transport"
)

const (
	DefaultConnectTimeout = 6 * time.Second
	DefaultMaxWait        = 30 * time.Second
)

// ErrStopped is returned by Submit once the engine aborted, was cancelled or
// saw a duplicate handle.
var ErrStopped = errors.New("engine: stopped")

// Multiplexer is the non-blocking HTTP transport the engine drives.
type Multiplexer interface {
	Add(req transport.Request) (transport.Handle, error)
	Perform() (int, error)
	Wait(ctx context.Context, d time.Duration) error
	InfoRead() []transport.Completion
	Remove(h transport.Handle) error
}

// ReportFunc receives the outcome of every finalized transfer. It runs on the
// goroutine executing Run and may call Submit.
type ReportFunc func(transfer.Outcome)

// Options configures transfers submitted to the engine.
type Options struct {
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
	Telemetry      *telemetry.Telemetry
}

// Engine drives every submitted transfer to completion with a single
// perform/wait/drain loop.
type Engine struct {
	mux       Multiplexer
	opts      Options
	registry  *Registry
	telemetry *telemetry.Telemetry
	stopped   atomic.Bool
}

func New(mux Multiplexer, opts Options) *Engine {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}

	return &Engine{
		mux:       mux,
		opts:      opts,
		registry:  NewRegistry(),
		telemetry: opts.Telemetry,
	}
}

// Submit registers t with the multiplexer and the registry. A
// *transfer.DuplicateHandleError means the multiplexer broke handle
// uniqueness: the engine stops and the batch cannot continue.
func (e *Engine) Submit(ctx context.Context, t *transfer.Transfer) (transport.Handle, error) {
	if e.stopped.Load() {
		return 0, ErrStopped
	}

	h, err := e.mux.Add(transport.Request{
		URL:            t.URL,
		ConnectTimeout: e.opts.ConnectTimeout,
		TotalTimeout:   e.opts.TotalTimeout,
		Write:          t.Write,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add transfer: %w", err)
	}

	if err := e.registry.Insert(h, t); err != nil {
		// h still belongs to the transfer registered first, so it is not
		// removed from the multiplexer. The engine accepts nothing more.
		e.stopped.Store(true)

		return 0, err
	}

	e.telemetry.AddActiveTransfers(ctx, 1)

	logctx.LoggerFromContext(ctx).Debug("transfer submitted", "handle", h, "url", t.URL, "destination", t.Destination)

	return h, nil
}

// Stopped reports whether the engine aborted or was cancelled. A stopped
// engine accepts no further transfers.
func (e *Engine) Stopped() bool {
	return e.stopped.Load()
}

// Close releases the multiplexer when it holds resources of its own. Call it
// after Run returned.
func (e *Engine) Close() error {
	if c, ok := e.mux.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

// InFlight returns the number of transfers registered and not yet reconciled.
func (e *Engine) InFlight() int {
	return e.registry.Len()
}

// Run loops until no transfer is in flight. Each iteration performs pending
// I/O, blocks for at most maxWait and reconciles every finished transfer.
//
// Individual transfer failures never stop the loop. A failing multiplexer
// aborts every in-flight transfer and returns a *transfer.MultiplexerError;
// a cancelled ctx finalizes them as cancelled and returns ctx.Err().
func (e *Engine) Run(ctx context.Context, maxWait time.Duration, report ReportFunc) error {
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	for e.registry.Len() > 0 {
		if err := ctx.Err(); err != nil {
			e.stopped.Store(true)
			e.drain(ctx, report)
			e.abandonAll(ctx, transfer.ErrCancelled, report)

			return err
		}

		if _, err := e.mux.Perform(); err != nil {
			return e.abort(ctx, "perform", err, report)
		}

		if err := e.mux.Wait(ctx, maxWait); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				continue
			}

			return e.abort(ctx, "wait", err, report)
		}

		e.drain(ctx, report)
	}

	return nil
}

// drain reconciles every completion the multiplexer reported so far.
func (e *Engine) drain(ctx context.Context, report ReportFunc) {
	logger := logctx.LoggerFromContext(ctx)

	for _, c := range e.mux.InfoRead() {
		t, err := e.registry.Remove(c.Handle)
		if err != nil {
			logger.Warn("completion does not match any transfer", "handle", c.Handle, "err", err)
			e.telemetry.RecordAnomaly(ctx, "handle_not_found")

			_ = e.mux.Remove(c.Handle)

			continue
		}

		t.Finalize(c.StatusCode, c.Err)

		if err := e.mux.Remove(c.Handle); err != nil {
			logger.Warn("failed to release transfer handle", "handle", c.Handle, "err", err)
		}

		e.finish(ctx, t.Outcome(), report)
	}
}

func (e *Engine) abort(ctx context.Context, operation string, cause error, report ReportFunc) error {
	err := &transfer.MultiplexerError{Operation: operation, InFlight: e.registry.Len(), Err: cause}

	logctx.LoggerFromContext(ctx).Error("multiplexer failed, aborting batch", "operation", operation, "in_flight", err.InFlight, "err", cause)
	e.telemetry.RecordMultiplexerError(ctx, operation)

	e.abandonAll(ctx, transfer.ErrAborted, report)

	return err
}

func (e *Engine) abandonAll(ctx context.Context, reason error, report ReportFunc) {
	e.stopped.Store(true)

	for _, entry := range e.registry.Drain() {
		_ = e.mux.Remove(entry.Handle)

		entry.Transfer.Abandon(reason)
		e.finish(ctx, entry.Transfer.Outcome(), report)
	}
}

func (e *Engine) finish(ctx context.Context, o transfer.Outcome, report ReportFunc) {
	logger := logctx.LoggerFromContext(ctx)

	e.telemetry.AddActiveTransfers(ctx, -1)
	e.telemetry.RecordTransfer(ctx, o.Result.String(), o.Reason(), o.Duration, o.BytesWritten)

	if o.Result == transfer.Succeeded {
		logger.Info("transfer succeeded",
			"url", o.URL,
			"destination", o.Destination,
			"size", humanize.Bytes(uint64(o.BytesWritten)),
			"duration", o.Duration.String())
	} else {
		logger.Warn("transfer failed",
			"url", o.URL,
			"destination", o.Destination,
			"status_code", o.StatusCode,
			"reason", o.Reason(),
			"err", o.Err)
	}

	if report != nil {
		report(o)
	}
}
