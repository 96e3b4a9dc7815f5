package gather

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
)

// Mode selects how results are pulled off the links.
type Mode string

const (
	// ModeCollective receives from every rank at once and places results in
	// arrival order.
	ModeCollective Mode = "collective"
	// ModePointToPoint receives from rank 1, then rank 2, and so on.
	ModePointToPoint Mode = "p2p"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCollective, ModePointToPoint:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown gather mode %q (want %q or %q)", s, ModeCollective, ModePointToPoint)
	}
}

// Receiver yields envelopes sent by a given rank. transport.Mux satisfies it.
type Receiver interface {
	Recv(ctx context.Context, rank int) (message.Envelope, error)
}

// ProgressFunc observes progress envelopes seen while waiting for results.
// It may be called from several goroutines at once.
type ProgressFunc func(rank int, p message.Progress)

// Options tune a gather.
type Options struct {
	// Timeout bounds the whole gather. Zero means wait for ctx only.
	Timeout time.Duration
	// OnProgress, if set, receives every progress envelope.
	OnProgress ProgressFunc
	// OnPlaced, if set, is called after each result is placed, from the
	// placing goroutine.
	OnPlaced func(res message.Result)
}

// Run gathers from ranks using mode.
func Run(ctx context.Context, mode Mode, rx Receiver, agg *Aggregator, ranks []int, opts Options) error {
	switch mode {
	case ModePointToPoint:
		return PointToPoint(ctx, rx, agg, ranks, opts)
	case ModeCollective, "":
		return Collective(ctx, rx, agg, ranks, opts)
	default:
		return fmt.Errorf("unknown gather mode %q", mode)
	}
}

// Collective waits on every rank concurrently. Results are handed to a single
// placing loop so the Aggregator is only touched from this goroutine. The
// first failure cancels the remaining receives.
func Collective(ctx context.Context, rx Receiver, agg *Aggregator, ranks []int, opts Options) error {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	results := make(chan message.Result, len(ranks))
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for _, rank := range ranks {
		p.Go(func(ctx context.Context) error {
			res, err := awaitResult(ctx, rx, rank, opts.OnProgress)
			if err != nil {
				return &rankError{rank: rank, err: err}
			}
			select {
			case results <- res:
				return nil
			case <-ctx.Done():
				return &rankError{rank: rank, err: ctx.Err()}
			}
		})
	}

	recvErr := make(chan error, 1)
	go func() {
		recvErr <- p.Wait()
		close(results)
	}()

	var placeErr error
	for res := range results {
		if placeErr != nil {
			continue
		}
		if err := agg.Place(res); err != nil {
			placeErr = err
			cancel()
			continue
		}
		if opts.OnPlaced != nil {
			opts.OnPlaced(res)
		}
	}
	return finish(agg, placeErr, <-recvErr)
}

// PointToPoint receives from each rank in turn, in the order given.
func PointToPoint(ctx context.Context, rx Receiver, agg *Aggregator, ranks []int, opts Options) error {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	for _, rank := range ranks {
		res, err := awaitResult(ctx, rx, rank, opts.OnProgress)
		if err != nil {
			return finish(agg, nil, &rankError{rank: rank, err: err})
		}
		if err := agg.Place(res); err != nil {
			return finish(agg, err, nil)
		}
		if opts.OnPlaced != nil {
			opts.OnPlaced(res)
		}
	}
	return finish(agg, nil, nil)
}

// awaitResult reads from rank until a result arrives, forwarding progress.
func awaitResult(ctx context.Context, rx Receiver, rank int, onProgress ProgressFunc) (message.Result, error) {
	for {
		env, err := rx.Recv(ctx, rank)
		if err != nil {
			return message.Result{}, err
		}
		switch env.Kind {
		case message.KindResult:
			if env.Result == nil {
				return message.Result{}, fmt.Errorf("%w: empty result envelope", ErrAggregationIncomplete)
			}
			if env.Result.Rank != rank {
				return message.Result{}, fmt.Errorf("%w: link for rank %d carried result for rank %d", ErrAggregationIncomplete, rank, env.Result.Rank)
			}
			return *env.Result, nil
		case message.KindProgress:
			if onProgress != nil && env.Progress != nil {
				onProgress(rank, *env.Progress)
			}
		case message.KindError:
			return message.Result{}, fmt.Errorf("worker reported: %s", env.Error)
		default:
			log.Debug(log.CatGather, "Ignoring envelope while gathering", "rank", rank, "kind", string(env.Kind))
		}
	}
}

// finish turns the outcome of a gather into the caller-facing error.
func finish(agg *Aggregator, placeErr, recvErr error) error {
	if placeErr != nil {
		if errors.Is(placeErr, ErrConfigurationMismatch) {
			return placeErr
		}
		return &IncompleteError{Missing: agg.Missing(), Cause: placeErr}
	}
	if recvErr != nil {
		if errors.Is(recvErr, ErrConfigurationMismatch) {
			return recvErr
		}
		return &IncompleteError{Missing: agg.Missing(), Cause: recvErr}
	}
	if missing := agg.Missing(); len(missing) > 0 {
		return &IncompleteError{Missing: missing}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
