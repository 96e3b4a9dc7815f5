package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/mandelgather/internal/compute"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/orchestration/metrics"
	"github.com/zjrosen/mandelgather/internal/orchestration/tracing"
	"github.com/zjrosen/mandelgather/internal/orchestration/transport"
	"github.com/zjrosen/mandelgather/internal/partition"
)

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("coordinator already ran")

// Run executes the whole protocol. The returned report is never nil; on
// failure it carries the error and no grid. An emitter failure leaves the
// run Complete and the grid in the report, and is returned as the error.
func (c *Coordinator) Run(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	c.running = true
	c.mu.Unlock()
	defer c.journal.Close()

	p := c.cfg.Params
	report := &Report{
		RunID:      c.runID,
		Params:     p,
		Digest:     c.digest,
		Transport:  c.pool.Backend(),
		GatherMode: c.cfg.GatherMode,
		Metrics:    metrics.RunMetrics{Pixels: p.Pixels(), Workers: c.cfg.WorkerCount},
	}

	ctx, span := c.tracer.Start(ctx, tracing.SpanRun, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, c.runID),
		attribute.Int(tracing.AttrWorkerCount, c.cfg.WorkerCount),
		attribute.String(tracing.AttrTransport, string(c.pool.Backend())),
		attribute.String(tracing.AttrGatherMode, string(c.cfg.GatherMode)),
		attribute.String(tracing.AttrDigest, c.digest),
		attribute.Int(tracing.AttrWidth, p.Width),
		attribute.Int(tracing.AttrHeight, p.Height),
		attribute.Int(tracing.AttrMaxIters, p.MaxIters),
	))

	log.Info(log.CatGather, "Starting run",
		"run", c.runID,
		"workers", c.cfg.WorkerCount,
		"transport", string(c.pool.Backend()),
		"mode", string(c.cfg.GatherMode),
		"params", p.String())
	if partition.Degenerate(c.cfg.WorkerCount, p.Height) {
		log.Warn(log.CatPartition, "More ranks than rows, some ranks get no work", "workers", c.cfg.WorkerCount, "height", p.Height)
	}

	grid, err := c.aggregate(ctx, report)
	if err != nil {
		_ = c.setStatus(StatusFailed, err)
		report.Status = StatusFailed
		report.Err = err
		report.Journal = c.journal.Tail(JournalTail)
		tracing.End(span, err)
		log.ErrorErr(log.CatGather, "Run failed", err, "run", c.runID, "journal", len(c.journal.Entries()))
		return report, err
	}

	report.Grid = grid
	report.Checksum = grid.Checksum()
	report.Status = StatusComplete
	span.SetAttributes(attribute.String(tracing.AttrChecksum, report.Checksum))
	log.Info(log.CatGather, "Run complete",
		"run", c.runID,
		"elapsed", report.Metrics.Elapsed,
		"checksum", report.Checksum,
		"throughput", report.Metrics.FormatThroughput())

	if c.cfg.Emitter != nil {
		emitCtx, emitSpan := c.tracer.Start(ctx, tracing.SpanEmit)
		err = c.cfg.Emitter.Emit(emitCtx, grid)
		tracing.End(emitSpan, err)
		if err != nil {
			report.Err = err
			tracing.End(span, err)
			return report, err
		}
	}
	tracing.End(span, nil)
	return report, nil
}

// aggregate runs everything from pool start to a complete grid. The pool is
// always torn down before it returns.
func (c *Coordinator) aggregate(ctx context.Context, report *Report) (grid *gather.Grid, err error) {
	p := c.cfg.Params
	n := c.cfg.WorkerCount

	agg, err := gather.NewAggregator(p, n)
	if err != nil {
		return nil, err
	}

	defer func() {
		if cerr := c.pool.Close(); cerr != nil {
			log.Debug(log.CatPool, "Pool close", "error", cerr)
		}
	}()
	mux, err := c.pool.Start()
	if err != nil {
		return nil, err
	}

	if c.cfg.SimulateLoss != NoLoss {
		link, lerr := mux.Link(c.cfg.SimulateLoss)
		if lerr != nil {
			return nil, lerr
		}
		mux.Attach(c.cfg.SimulateLoss, transport.NewLossy(link))
		log.Warn(log.CatGather, "Simulating loss of rank result", "rank", c.cfg.SimulateLoss)
	}
	ranks := mux.Ranks()

	if err := c.distribute(ctx, mux, ranks); err != nil {
		return nil, err
	}
	if c.cfg.Barrier {
		if err := c.barrier(ctx, mux, ranks, agg); err != nil {
			return nil, err
		}
	}

	// Timing covers computation and aggregation only.
	c.mu.Lock()
	c.began = time.Now()
	c.mu.Unlock()
	began := time.Now()
	if err := c.setStatus(StatusComputing, nil); err != nil {
		return nil, err
	}

	own, err := c.computeOwn(ctx)
	if err != nil {
		return nil, err
	}
	if err := agg.Place(own); err != nil {
		return nil, err
	}
	report.Metrics.Add(metrics.RankTiming{Rank: own.Rank, Rows: own.Range.Len(), ComputeTime: own.ComputeTime})

	if err := c.setStatus(StatusTransferring, nil); err != nil {
		return nil, err
	}
	gctx, gspan := c.tracer.Start(ctx, tracing.SpanGather)
	gerr := gather.Run(gctx, c.cfg.GatherMode, mux, agg, ranks, gather.Options{
		Timeout: c.cfg.GatherTimeout,
		OnPlaced: func(res message.Result) {
			gspan.AddEvent(tracing.EventResultPlaced, trace.WithAttributes(attribute.Int(tracing.AttrRank, res.Rank)))
			c.journal.Record(message.NewResult(c.runID, res))
			report.Metrics.Add(metrics.RankTiming{Rank: res.Rank, Rows: res.Range.Len(), ComputeTime: res.ComputeTime})
		},
	})
	if gerr != nil {
		var inc *gather.IncompleteError
		if errors.As(gerr, &inc) {
			gspan.SetAttributes(attribute.IntSlice(tracing.AttrMissing, inc.Missing))
		}
		tracing.End(gspan, gerr)
		return nil, gerr
	}
	tracing.End(gspan, nil)

	grid, err = agg.Grid()
	if err != nil {
		return nil, err
	}
	report.Metrics.Elapsed = time.Since(began)
	if err := c.setStatus(StatusComplete, nil); err != nil {
		return nil, err
	}
	return grid, nil
}

// distribute sends the authoritative configuration to every worker rank.
func (c *Coordinator) distribute(ctx context.Context, mux *transport.Mux, ranks []int) error {
	cfg := message.Config{
		WorkerCount:   c.cfg.WorkerCount,
		Params:        c.cfg.Params,
		Digest:        c.digest,
		Barrier:       c.cfg.Barrier,
		ProgressSteps: c.cfg.ProgressSteps,
		Trace:         tracing.Inject(ctx),
	}
	for _, rank := range ranks {
		env := message.NewConfig(c.runID, rank, cfg)
		if err := mux.Send(ctx, env); err != nil {
			return &gather.IncompleteError{Missing: []int{rank}, Cause: fmt.Errorf("sending config: %w", err)}
		}
		c.journal.Record(env)
	}
	trace.SpanFromContext(ctx).AddEvent(tracing.EventConfigSent)
	return nil
}

// barrier waits for every rank to report Ready, then releases them all.
func (c *Coordinator) barrier(ctx context.Context, mux *transport.Mux, ranks []int, agg *gather.Aggregator) error {
	ctx, span := c.tracer.Start(ctx, tracing.SpanBarrier)
	if c.cfg.GatherTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.GatherTimeout)
		defer cancel()
	}

	for _, rank := range ranks {
		env, err := mux.Recv(ctx, rank)
		if err == nil && env.Kind == message.KindError {
			err = errors.New(env.Error)
		} else if err == nil && env.Kind != message.KindReady {
			err = fmt.Errorf("expected ready, got %s", env.Kind)
		}
		if err != nil {
			err = &gather.IncompleteError{Missing: agg.Missing(), Cause: fmt.Errorf("rank %d at barrier: %w", rank, err)}
			tracing.End(span, err)
			return err
		}
		c.journal.Record(env)
	}
	for _, rank := range ranks {
		env := message.New(message.KindStart, c.runID, message.CoordinatorRank, rank)
		if err := mux.Send(ctx, env); err != nil {
			err = &gather.IncompleteError{Missing: agg.Missing(), Cause: fmt.Errorf("releasing rank %d: %w", rank, err)}
			tracing.End(span, err)
			return err
		}
		c.journal.Record(env)
	}
	span.AddEvent(tracing.EventBarrierRelease)
	tracing.End(span, nil)
	log.Debug(log.CatGather, "Barrier released", "ranks", len(ranks))
	return nil
}

// computeOwn computes rank 0's rows in this goroutine.
func (c *Coordinator) computeOwn(ctx context.Context) (message.Result, error) {
	p := c.cfg.Params
	rows, err := partition.ComputeRowRange(message.CoordinatorRank, c.cfg.WorkerCount, p.Height)
	if err != nil {
		return message.Result{}, err
	}

	_, span := c.tracer.Start(ctx, tracing.SpanCompute, trace.WithAttributes(
		attribute.String(tracing.AttrRunID, c.runID),
		attribute.Int(tracing.AttrRank, message.CoordinatorRank),
		attribute.Int(tracing.AttrRowStart, rows.Start),
		attribute.Int(tracing.AttrRowEnd, rows.End),
		attribute.Int(tracing.AttrPixels, rows.Pixels(p.Width)),
	))

	c.pool.Publish(events.WorkerEvent{Type: events.WorkerStatusChange, Rank: message.CoordinatorRank, Status: events.WorkerComputing})
	var progress compute.ProgressFunc
	if c.cfg.ProgressSteps > 0 && !rows.Empty() {
		progress = compute.Throttle(rows.Len(), c.cfg.ProgressSteps, func(done int) {
			c.pool.Publish(events.WorkerEvent{
				Type:      events.WorkerProgress,
				Rank:      message.CoordinatorRank,
				Status:    events.WorkerComputing,
				RowsDone:  done,
				RowsTotal: rows.Len(),
			})
		})
	}

	began := time.Now()
	payload := compute.Rows(p, rows, progress)
	elapsed := time.Since(began)
	tracing.End(span, nil)
	c.pool.Publish(events.WorkerEvent{Type: events.WorkerStatusChange, Rank: message.CoordinatorRank, Status: events.WorkerDone, Elapsed: elapsed})

	return message.Result{
		Rank:        message.CoordinatorRank,
		Range:       rows,
		Digest:      c.digest,
		Payload:     payload,
		ComputeTime: elapsed,
	}, nil
}
