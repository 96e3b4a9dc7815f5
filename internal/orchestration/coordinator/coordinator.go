// Package coordinator runs rank 0: it distributes the configuration, releases
// the start barrier, computes its own rows, gathers every other rank's buffer
// into the grid and hands the finished grid to an emitter.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/orchestration/metrics"
	"github.com/zjrosen/mandelgather/internal/orchestration/pool"
)

// Status is the aggregation state machine.
type Status = events.RunStatus

const (
	StatusIdle         = events.RunIdle
	StatusComputing    = events.RunComputing
	StatusTransferring = events.RunTransferring
	StatusComplete     = events.RunComplete
	StatusFailed       = events.RunFailed
)

// NoLoss disables fault injection. Rank 0 is the coordinator itself, so it
// can never be the lost rank.
const NoLoss = 0

// ErrInvalidTransition is returned when the state machine is driven out of order.
var ErrInvalidTransition = errors.New("invalid status transition")

// Emitter consumes a complete grid. It is never called with a partial one.
type Emitter interface {
	Emit(ctx context.Context, g *gather.Grid) error
}

// Config describes one run.
type Config struct {
	Params        fractal.Params
	WorkerCount   int
	Backend       pool.Backend
	GatherMode    gather.Mode
	Barrier       bool
	ProgressSteps int
	GatherTimeout time.Duration

	// SimulateLoss drops every result from this worker rank in transit.
	SimulateLoss int

	// Process backend.
	Executable     string
	WorkerArgs     []string
	WorkerEnv      []string
	CommandFactory pool.CommandFactoryFunc

	Tracer  trace.Tracer
	Emitter Emitter
}

// Validate checks everything that can be checked before any rank starts.
func (c Config) Validate() error {
	if err := c.Params.Validate(); err != nil {
		return err
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount)
	}
	if c.GatherMode != "" {
		if _, err := gather.ParseMode(string(c.GatherMode)); err != nil {
			return err
		}
	}
	if c.SimulateLoss != NoLoss && (c.SimulateLoss < 1 || c.SimulateLoss >= c.WorkerCount) {
		return fmt.Errorf("simulated loss rank %d must be a worker rank in [1, %d)", c.SimulateLoss, c.WorkerCount)
	}
	return nil
}

// Report is what a run produced.
type Report struct {
	RunID      string
	Status     Status
	Params     fractal.Params
	Digest     string
	Transport  pool.Backend
	GatherMode gather.Mode
	Grid       *gather.Grid // nil unless aggregation completed
	Checksum   string
	Metrics    metrics.RunMetrics
	Err        error
	// Journal holds the last JournalTail protocol messages of a failed run.
	Journal []message.Entry
}

// JournalTail is how many journal entries a failed report carries.
const JournalTail = 8

// Coordinator drives one run. Create it with New, subscribe to Events and
// Workers if needed, then call Run once.
type Coordinator struct {
	cfg     Config
	runID   string
	digest  string
	tracer  trace.Tracer
	pool    *pool.Pool
	journal *message.Journal
	bus     *events.Bus[events.RunEvent]

	mu      sync.RWMutex
	status  Status
	began   time.Time
	running bool
}

// New validates cfg and prepares the worker pool without starting it.
func New(cfg Config) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GatherMode == "" {
		cfg.GatherMode = gather.ModeCollective
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}

	p, err := pool.New(pool.Config{
		Backend:        cfg.Backend,
		WorkerCount:    cfg.WorkerCount,
		Executable:     cfg.Executable,
		Args:           cfg.WorkerArgs,
		Env:            cfg.WorkerEnv,
		CommandFactory: cfg.CommandFactory,
		Tracer:         tracer,
	})
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		cfg:     cfg,
		runID:   uuid.New().String(),
		digest:  cfg.Params.Digest(),
		tracer:  tracer,
		pool:    p,
		journal: message.NewJournal(),
		bus:     events.NewBus[events.RunEvent](),
		status:  StatusIdle,
	}, nil
}

// RunID identifies this run in logs, traces and the run ledger.
func (c *Coordinator) RunID() string {
	return c.runID
}

// Status returns the current state.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Events publishes a RunEvent on every status change.
func (c *Coordinator) Events() *events.Bus[events.RunEvent] {
	return c.bus
}

// Workers publishes per-rank events, rank 0 included.
func (c *Coordinator) Workers() *events.Bus[events.WorkerEvent] {
	return c.pool.Bus()
}

// Journal records every envelope the coordinator sent or accepted. Its bus
// is closed when Run returns.
func (c *Coordinator) Journal() *message.Journal {
	return c.journal
}

var transitions = map[Status][]Status{
	StatusIdle:         {StatusComputing, StatusFailed},
	StatusComputing:    {StatusTransferring, StatusFailed},
	StatusTransferring: {StatusComplete, StatusFailed},
}

// setStatus moves the state machine forward, rejecting anything else.
func (c *Coordinator) setStatus(next Status, cause error) error {
	c.mu.Lock()
	cur := c.status
	allowed := false
	for _, s := range transitions[cur] {
		if s == next {
			allowed = true
			break
		}
	}
	if !allowed {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	c.status = next
	var elapsed time.Duration
	if !c.began.IsZero() {
		elapsed = time.Since(c.began)
	}
	c.mu.Unlock()

	log.Debug(log.CatGather, "Run status", "run", c.runID, "from", string(cur), "to", string(next))
	c.bus.Publish(events.Updated, events.RunEvent{
		RunID:   c.runID,
		Status:  next,
		Elapsed: elapsed,
		Error:   cause,
	})
	return nil
}
