package transport

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/partition"
)

func testResult(rank int) message.Envelope {
	return message.NewResult("run-1", message.Result{
		Rank:    rank,
		Range:   partition.RowRange{Start: 1, End: 2},
		Digest:  fractal.Defaults().Digest(),
		Payload: []int32{1, 2, 3, 4},
	})
}

func TestPipe_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()

	for i := 0; i < 3; i++ {
		env := message.New(message.KindProgress, "run-1", 1, 0)
		env.Progress = &message.Progress{RowsDone: i, RowsTotal: 3}
		require.NoError(t, a.Send(ctx, env))
	}
	for i := 0; i < 3; i++ {
		env, err := b.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, i, env.Progress.RowsDone)
	}
}

func TestPipe_SendClonesPayload(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()

	env := testResult(1)
	require.NoError(t, a.Send(ctx, env))
	env.Result.Payload[0] = 99

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []int32{1, 2, 3, 4}, got.Result.Payload)
}

func TestPipe_CloseDrainsThenReportsClosed(t *testing.T) {
	ctx := context.Background()
	a, b := Pipe()

	require.NoError(t, a.Send(ctx, testResult(1)))
	require.NoError(t, a.Close())

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, message.KindResult, got.Kind)

	_, err = b.Recv(ctx)
	require.ErrorIs(t, err, ErrLinkClosed)

	require.ErrorIs(t, b.Send(ctx, testResult(0)), ErrLinkClosed)
}

func TestPipe_RecvHonoursContext(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_RoundTripsOverPipes(t *testing.T) {
	ctx := context.Background()
	// a writes into aw, b reads from br, and vice versa.
	br, aw := io.Pipe()
	ar, bw := io.Pipe()
	a := NewStream(ar, aw)
	b := NewStream(br, bw)
	defer a.Close()
	defer b.Close()

	want := testResult(2)
	go func() { _ = a.Send(ctx, want) }()

	got, err := b.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Result.Payload, got.Result.Payload)
	require.Equal(t, want.Result.Range, got.Result.Range)
	require.Equal(t, want.Result.Digest, got.Result.Digest)
}

func TestStream_EOFIsLinkClosed(t *testing.T) {
	ctx := context.Background()
	br, aw := io.Pipe()
	_, bw := io.Pipe()
	b := NewStream(br, bw)
	defer b.Close()

	require.NoError(t, aw.Close())
	_, err := b.Recv(ctx)
	require.ErrorIs(t, err, ErrLinkClosed)
	require.NoError(t, b.ReadErr())
}

func TestStream_GarbageIsDecodeError(t *testing.T) {
	ctx := context.Background()
	br, aw := io.Pipe()
	_, bw := io.Pipe()
	b := NewStream(br, bw)
	defer b.Close()

	go func() {
		_, _ = aw.Write([]byte("not json\n"))
		_ = aw.Close()
	}()

	_, err := b.Recv(ctx)
	require.ErrorIs(t, err, ErrLinkClosed)
	require.Error(t, b.ReadErr())
}

func TestMux_RoutesByRank(t *testing.T) {
	ctx := context.Background()
	m := NewMux()
	c1, w1 := Pipe()
	c2, w2 := Pipe()
	m.Attach(2, c2)
	m.Attach(1, c1)
	require.Equal(t, []int{1, 2}, m.Ranks())

	require.NoError(t, m.Send(ctx, message.New(message.KindStart, "run-1", 0, 2)))
	env, err := w2.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, message.KindStart, env.Kind)

	require.NoError(t, w1.Send(ctx, testResult(1)))
	env, err = m.Recv(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, env.Result.Rank)

	_, err = m.Recv(ctx, 7)
	require.ErrorIs(t, err, ErrUnknownRank)

	require.NoError(t, m.Close())
	_, err = w1.Recv(ctx)
	require.True(t, errors.Is(err, ErrLinkClosed))
}

func TestLossy_DropsOnlyResults(t *testing.T) {
	ctx := context.Background()
	c, w := Pipe()
	lossy := NewLossy(c)

	progress := message.New(message.KindProgress, "run-1", 1, 0)
	progress.Progress = &message.Progress{RowsDone: 1, RowsTotal: 1}
	require.NoError(t, w.Send(ctx, progress))
	require.NoError(t, w.Send(ctx, testResult(1)))
	require.NoError(t, w.Close())

	env, err := lossy.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, message.KindProgress, env.Kind)

	_, err = lossy.Recv(ctx)
	require.ErrorIs(t, err, ErrLinkClosed)
	require.Equal(t, 1, lossy.Dropped())
}
