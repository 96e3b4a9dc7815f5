package pool

import (
	"context"
	"errors"

	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/orchestration/transport"
)

// observedLink sits on the coordinator's end of a rank's link and derives the
// rank's status from the envelopes that cross it. Both backends get the same
// status tracking this way, whatever runs on the other end.
type observedLink struct {
	transport.Link
	pool    *Pool
	worker  *Worker
	barrier bool
}

func (l *observedLink) Send(ctx context.Context, env message.Envelope) error {
	err := l.Link.Send(ctx, env)
	if err != nil {
		return err
	}
	switch env.Kind {
	case message.KindConfig:
		if env.Config != nil {
			l.barrier = env.Config.Barrier
		}
		if !l.barrier {
			l.pool.transition(l.worker, events.WorkerComputing)
		}
	case message.KindStart:
		l.pool.transition(l.worker, events.WorkerComputing)
	}
	return nil
}

func (l *observedLink) Recv(ctx context.Context) (message.Envelope, error) {
	env, err := l.Link.Recv(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrLinkClosed) {
			l.pool.fail(l.worker, err)
		}
		return env, err
	}
	switch env.Kind {
	case message.KindReady:
		l.pool.transition(l.worker, events.WorkerReady)
	case message.KindProgress:
		if env.Progress != nil {
			l.pool.progress(l.worker, *env.Progress)
		}
	case message.KindResult:
		l.pool.transition(l.worker, events.WorkerDone)
	case message.KindError:
		l.pool.fail(l.worker, errors.New(env.Error))
	}
	return env, nil
}
