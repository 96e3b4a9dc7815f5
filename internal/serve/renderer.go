package serve

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/gather"
	"github.com/zjrosen/mandelgather/internal/orchestration/coordinator"
	"github.com/zjrosen/mandelgather/internal/orchestration/pool"
)

// CoordinatorRenderer renders through a full coordinator run on in-process
// ranks. No emitter is attached; the handler encodes the grid itself.
type CoordinatorRenderer struct {
	GatherMode gather.Mode
	Timeout    time.Duration
	Tracer     trace.Tracer
}

// Render implements Renderer.
func (r CoordinatorRenderer) Render(ctx context.Context, p fractal.Params, workers int) (*gather.Grid, error) {
	coord, err := coordinator.New(coordinator.Config{
		Params:        p,
		WorkerCount:   workers,
		Backend:       pool.BackendLocal,
		GatherMode:    r.GatherMode,
		GatherTimeout: r.Timeout,
		SimulateLoss:  coordinator.NoLoss,
		Tracer:        r.Tracer,
	})
	if err != nil {
		return nil, err
	}
	report, err := coord.Run(ctx)
	if err != nil {
		return nil, err
	}
	return report.Grid, nil
}
