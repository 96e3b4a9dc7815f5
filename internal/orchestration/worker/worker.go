// Package worker is the rank-side half of the protocol. A worker receives its
// configuration from the coordinator, derives its own row range, optionally
// waits at the start barrier, computes, and sends its buffer back exactly once.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/mandelgather/internal/compute"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/orchestration/tracing"
	"github.com/zjrosen/mandelgather/internal/orchestration/transport"
	"github.com/zjrosen/mandelgather/internal/partition"
)

// ErrProtocol is returned when the coordinator sends something out of order.
var ErrProtocol = errors.New("protocol violation")

// StatusFunc observes the worker's lifecycle transitions.
type StatusFunc func(status events.WorkerStatus)

// Option configures Run.
type Option func(*runner)

// WithStatus registers fn to be called on every status change.
func WithStatus(fn StatusFunc) Option {
	return func(r *runner) { r.onStatus = fn }
}

// WithTracer records a compute span per rank.
func WithTracer(t trace.Tracer) Option {
	return func(r *runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

type runner struct {
	link     transport.Link
	onStatus StatusFunc
	tracer   trace.Tracer
}

func (r *runner) setStatus(s events.WorkerStatus) {
	if r.onStatus != nil {
		r.onStatus(s)
	}
}

// Run executes one rank to completion over link and returns the result it
// sent. Any failure after the configuration arrives is also reported to the
// coordinator as an error envelope.
func Run(ctx context.Context, link transport.Link, opts ...Option) (message.Result, error) {
	r := &runner{link: link, tracer: noop.NewTracerProvider().Tracer("noop")}
	for _, opt := range opts {
		opt(r)
	}
	r.setStatus(events.WorkerIdle)

	env, err := link.Recv(ctx)
	if err != nil {
		r.setStatus(events.WorkerFailed)
		return message.Result{}, fmt.Errorf("waiting for config: %w", err)
	}
	if env.Kind != message.KindConfig || env.Config == nil {
		r.setStatus(events.WorkerFailed)
		return message.Result{}, fmt.Errorf("%w: expected config, got %s", ErrProtocol, env.Kind)
	}

	res, err := r.run(ctx, env.RunID, env.To, *env.Config)
	if err != nil {
		r.setStatus(events.WorkerFailed)
		fail := message.New(message.KindError, env.RunID, env.To, message.CoordinatorRank)
		fail.Error = err.Error()
		if sendErr := link.Send(ctx, fail); sendErr != nil {
			log.Debug(log.CatWorker, "Could not report failure", "rank", env.To, "error", sendErr)
		}
		return message.Result{}, err
	}
	r.setStatus(events.WorkerDone)
	return res, nil
}

func (r *runner) run(ctx context.Context, runID string, rank int, cfg message.Config) (message.Result, error) {
	if err := cfg.Params.Validate(); err != nil {
		return message.Result{}, err
	}
	rows, err := partition.ComputeRowRange(rank, cfg.WorkerCount, cfg.Params.Height)
	if err != nil {
		return message.Result{}, err
	}
	log.Debug(log.CatWorker, "Received config", "rank", rank, "range", rows.String(), "barrier", cfg.Barrier)

	if cfg.Barrier {
		r.setStatus(events.WorkerReady)
		if err := r.link.Send(ctx, message.New(message.KindReady, runID, rank, message.CoordinatorRank)); err != nil {
			return message.Result{}, fmt.Errorf("sending ready: %w", err)
		}
		start, err := r.link.Recv(ctx)
		if err != nil {
			return message.Result{}, fmt.Errorf("waiting at barrier: %w", err)
		}
		if start.Kind != message.KindStart {
			return message.Result{}, fmt.Errorf("%w: expected start, got %s", ErrProtocol, start.Kind)
		}
	}

	r.setStatus(events.WorkerComputing)
	spanCtx, span := r.tracer.Start(tracing.Extract(ctx, cfg.Trace), tracing.SpanCompute, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, runID),
		attribute.Int(tracing.AttrRank, rank),
		attribute.Int(tracing.AttrRowStart, rows.Start),
		attribute.Int(tracing.AttrRowEnd, rows.End),
		attribute.Int(tracing.AttrPixels, rows.Pixels(cfg.Params.Width)),
	))

	progress := r.progressFunc(spanCtx, runID, rank, rows.Len(), cfg.ProgressSteps)
	began := time.Now()
	payload := compute.Rows(cfg.Params, rows, progress)
	elapsed := time.Since(began)

	res := message.Result{
		Rank:        rank,
		Range:       rows,
		Digest:      cfg.Params.Digest(),
		Payload:     payload,
		ComputeTime: elapsed,
	}
	err = r.link.Send(spanCtx, message.NewResult(runID, res))
	if err == nil {
		span.AddEvent(tracing.EventResultSent)
	}
	tracing.End(span, err)
	if err != nil {
		return message.Result{}, fmt.Errorf("sending result: %w", err)
	}
	log.Debug(log.CatWorker, "Sent result", "rank", rank, "pixels", len(payload), "elapsed", elapsed)
	return res, nil
}

// progressFunc returns a throttled callback that sends progress envelopes, or
// nil when progress reporting is off.
func (r *runner) progressFunc(ctx context.Context, runID string, rank, total, steps int) compute.ProgressFunc {
	if steps <= 0 || total == 0 {
		return nil
	}
	return compute.Throttle(total, steps, func(done int) {
		env := message.New(message.KindProgress, runID, rank, message.CoordinatorRank)
		env.Progress = &message.Progress{RowsDone: done, RowsTotal: total}
		if err := r.link.Send(ctx, env); err != nil {
			log.Debug(log.CatWorker, "Dropped progress", "rank", rank, "error", err)
		}
	})
}
