package transport

import (
	"context"
	"sync/atomic"

	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
)

// Lossy wraps a link and silently discards every result envelope it
// receives. It exists to exercise the coordinator's incomplete-aggregation
// path (--simulate-loss).
type Lossy struct {
	Link
	dropped atomic.Int64
}

// NewLossy wraps l.
func NewLossy(l Link) *Lossy {
	return &Lossy{Link: l}
}

// Dropped returns how many result envelopes were discarded.
func (l *Lossy) Dropped() int {
	return int(l.dropped.Load())
}

func (l *Lossy) Recv(ctx context.Context) (message.Envelope, error) {
	for {
		env, err := l.Link.Recv(ctx)
		if err != nil {
			return env, err
		}
		if env.Kind != message.KindResult {
			return env, nil
		}
		l.dropped.Add(1)
		log.Warn(log.CatGather, "Dropped result envelope", "from", env.From, "id", env.ID)
	}
}
