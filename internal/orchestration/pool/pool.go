// Package pool starts and tracks the worker ranks of a run. Ranks run either
// as goroutines in this process or as child processes of the same binary; in
// both cases the coordinator talks to them through a transport.Mux.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/orchestration/transport"
	"github.com/zjrosen/mandelgather/internal/orchestration/worker"
)

// Backend selects where worker ranks run.
type Backend string

const (
	// BackendLocal runs each rank as a goroutine joined by channels.
	BackendLocal Backend = "local"
	// BackendProcess runs each rank as a subprocess speaking JSON on stdio.
	BackendProcess Backend = "process"
)

// ParseBackend validates a backend name.
func ParseBackend(s string) (Backend, error) {
	switch Backend(s) {
	case BackendLocal, BackendProcess:
		return Backend(s), nil
	default:
		return "", fmt.Errorf("unknown transport %q (want %q or %q)", s, BackendLocal, BackendProcess)
	}
}

// DefaultBufferCapacity is the number of stderr lines kept per subprocess rank.
const DefaultBufferCapacity = 100

// DefaultShutdownGrace is how long Close waits for ranks before killing them.
const DefaultShutdownGrace = 5 * time.Second

var (
	// ErrPoolClosed is returned when Start is called on a closed pool.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("worker pool already started")
)

// Config configures a pool.
type Config struct {
	Backend     Backend
	WorkerCount int // total ranks including the coordinator

	// Process backend. Executable defaults to the running binary and Args to
	// the hidden worker command.
	Executable     string
	Args           []string
	Env            []string
	CommandFactory CommandFactoryFunc

	BufferCapacity int
	ShutdownGrace  time.Duration

	// Tracer is handed to in-process ranks.
	Tracer trace.Tracer
}

// Pool owns ranks 1..WorkerCount-1. Rank 0 is the coordinator itself.
type Pool struct {
	cfg     Config
	mux     *transport.Mux
	workers map[int]*Worker
	bus     *events.Bus[events.WorkerEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	started atomic.Bool
	closed  atomic.Bool
}

// New validates cfg and returns an unstarted pool.
func New(cfg Config) (*Pool, error) {
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", cfg.WorkerCount)
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendLocal
	}
	if _, err := ParseBackend(string(cfg.Backend)); err != nil {
		return nil, err
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:     cfg,
		mux:     transport.NewMux(),
		workers: make(map[int]*Worker),
		bus:     events.NewBus[events.WorkerEvent](),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches every worker rank and returns the coordinator's Mux.
func (p *Pool) Start() (*transport.Mux, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if p.started.Swap(true) {
		return nil, ErrAlreadyStarted
	}

	for rank := 1; rank < p.cfg.WorkerCount; rank++ {
		w := newWorker(rank, p.cfg.BufferCapacity)
		p.mu.Lock()
		p.workers[rank] = w
		p.mu.Unlock()

		var (
			link transport.Link
			err  error
		)
		switch p.cfg.Backend {
		case BackendProcess:
			link, err = p.spawnProcess(w)
		default:
			link = p.spawnLocal(w)
		}
		if err != nil {
			p.fail(w, err)
			// Ranks already running would otherwise outlive the failed run.
			if cerr := p.shutdown(0); cerr != nil {
				log.Debug(log.CatPool, "Pool teardown after failed start", "error", cerr)
			}
			return nil, fmt.Errorf("starting rank %d: %w", rank, err)
		}

		p.mux.Attach(rank, &observedLink{Link: link, pool: p, worker: w})
		p.bus.Publish(events.Created, events.WorkerEvent{
			Type:   events.WorkerSpawned,
			Rank:   rank,
			Status: events.WorkerIdle,
		})
		log.Debug(log.CatPool, "Spawned rank", "rank", rank, "backend", string(p.cfg.Backend), "pid", w.PID())
	}
	return p.mux, nil
}

// spawnLocal runs worker.Run for w on a goroutine.
func (p *Pool) spawnLocal(w *Worker) transport.Link {
	coord, link := transport.Pipe()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { _ = link.Close() }()
		defer func() {
			if r := recover(); r != nil {
				log.Error(log.CatPool, "Worker panic recovered",
					"rank", w.Rank,
					"panic", r,
					"stack", string(debug.Stack()))
				p.fail(w, fmt.Errorf("rank %d panicked: %v", w.Rank, r))
			}
		}()

		if _, err := worker.Run(p.ctx, link, worker.WithTracer(p.cfg.Tracer)); err != nil {
			log.ErrorErr(log.CatPool, "Rank failed", err, "rank", w.Rank)
			p.fail(w, err)
		}
	}()
	return coord
}

// Bus publishes a WorkerEvent on every spawn, status change, progress report
// and subprocess output line.
func (p *Pool) Bus() *events.Bus[events.WorkerEvent] {
	return p.bus
}

// Worker returns the record for rank, or nil.
func (p *Pool) Worker(rank int) *Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workers[rank]
}

// Workers returns all rank records in rank order.
func (p *Pool) Workers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Backend returns the configured backend.
func (p *Pool) Backend() Backend {
	return p.cfg.Backend
}

func (p *Pool) transition(w *Worker, s events.WorkerStatus) {
	if !w.setStatus(s) {
		return
	}
	log.Debug(log.CatPool, "Rank status", "rank", w.Rank, "status", s.String())
	p.bus.Publish(events.Updated, events.WorkerEvent{
		Type:    events.WorkerStatusChange,
		Rank:    w.Rank,
		Status:  s,
		Elapsed: w.Elapsed(),
	})
}

func (p *Pool) progress(w *Worker, pr message.Progress) {
	w.setProgress(pr.RowsDone, pr.RowsTotal)
	p.transition(w, events.WorkerComputing)
	p.bus.Publish(events.Updated, events.WorkerEvent{
		Type:      events.WorkerProgress,
		Rank:      w.Rank,
		Status:    w.Status(),
		RowsDone:  pr.RowsDone,
		RowsTotal: pr.RowsTotal,
	})
}

func (p *Pool) fail(w *Worker, err error) {
	if w.Status().IsTerminal() {
		return
	}
	w.setError(err)
	p.transition(w, events.WorkerFailed)
	p.bus.Publish(events.Updated, events.WorkerEvent{
		Type:   events.WorkerError,
		Rank:   w.Rank,
		Status: events.WorkerFailed,
		Error:  err,
	})
}

// Close tears the pool down: links are closed so ranks see EOF, ranks get
// ShutdownGrace to exit, then anything left is cancelled. Safe to call twice.
func (p *Pool) Close() error {
	return p.shutdown(p.cfg.ShutdownGrace)
}

// shutdown closes every link and waits for all ranks to exit. A grace of
// zero cancels the ranks immediately.
func (p *Pool) shutdown(grace time.Duration) error {
	if p.closed.Swap(true) {
		return nil
	}
	log.Debug(log.CatPool, "Closing worker pool", "ranks", p.cfg.WorkerCount-1, "grace", grace)

	if grace <= 0 {
		p.cancel()
	}
	err := p.mux.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	if grace <= 0 {
		<-done
		p.bus.Close()
		return err
	}
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn(log.CatPool, "Ranks did not exit in time, cancelling", "grace", grace)
		p.cancel()
		<-done
	}
	p.cancel()
	p.bus.Close()
	return err
}

// Publish forwards an event about a rank the pool does not own, which is how
// the coordinator's own rank 0 shows up next to the workers.
func (p *Pool) Publish(ev events.WorkerEvent) {
	p.bus.Publish(events.Updated, ev)
}
