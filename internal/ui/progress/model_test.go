package progress

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/exp/teatest"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/orchestration/coordinator"
	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
)

func smallParams() fractal.Params {
	return fractal.Params{Width: 4, Height: 5, MaxIters: 50, Region: fractal.DefaultRegion}
}

func newModel(t *testing.T, cancel context.CancelFunc) (Model, *events.Bus[events.WorkerEvent], *events.Bus[events.RunEvent]) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)
	workers := events.NewBus[events.WorkerEvent]()
	runs := events.NewBus[events.RunEvent]()
	m := New(ctx, Config{
		RunID:       "0123456789abcdef",
		Params:      smallParams(),
		WorkerCount: 3,
		Workers:     workers,
		Runs:        runs,
		Cancel:      cancel,
	})
	return m, workers, runs
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func workerMsg(ev events.WorkerEvent) events.Event[events.WorkerEvent] {
	return events.Event[events.WorkerEvent]{Type: events.Updated, Payload: ev, Timestamp: time.Now()}
}

func TestNew_TotalsFromPlan(t *testing.T) {
	m, _, _ := newModel(t, nil)

	// H=5 over 3 ranks: {0,1} {1,2} {2,5}
	require.Equal(t, 1, m.ranks[0].total)
	require.Equal(t, 1, m.ranks[1].total)
	require.Equal(t, 3, m.ranks[2].total)
	require.Zero(t, m.RowsDone())
}

func TestUpdate_WorkerEvents(t *testing.T) {
	m, _, _ := newModel(t, nil)

	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerStatusChange, Rank: 2, Status: events.WorkerComputing}))
	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerProgress, Rank: 2, RowsDone: 2, RowsTotal: 3}))
	require.Equal(t, events.WorkerComputing, m.ranks[2].status)
	require.Equal(t, 2, m.ranks[2].done)

	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerStatusChange, Rank: 1, Status: events.WorkerDone, Elapsed: time.Second}))
	require.Equal(t, 1, m.ranks[1].done, "done fills the bar")
	require.Equal(t, 3, m.RowsDone())

	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerError, Rank: 0, Error: errors.New("link closed")}))
	require.Equal(t, events.WorkerFailed, m.ranks[0].status)

	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerOutput, Rank: 1, Output: "hello"}))
	require.Equal(t, []string{"rank 1: hello"}, m.tail)

	// Out of range ranks are ignored.
	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerProgress, Rank: 7, RowsDone: 9}))
	require.Equal(t, 3, m.RowsDone())

	view := ansi.Strip(m.View())
	require.Contains(t, view, "mandelgather 01234567")
	require.Contains(t, view, "rank 2")
	require.Contains(t, view, "computing")
	require.Contains(t, view, "2/3")
	require.Contains(t, view, "link closed")
	require.Contains(t, view, "rank 1: hello")
	require.Contains(t, view, "ctrl+c to abort")
}

func TestUpdate_RunEvent(t *testing.T) {
	m, _, _ := newModel(t, nil)
	m = update(t, m, events.Event[events.RunEvent]{Payload: events.RunEvent{Status: events.RunTransferring}})
	require.Equal(t, events.RunTransferring, m.run)
	require.Contains(t, ansi.Strip(m.View()), "transferring")
}

func TestUpdate_TailIsBounded(t *testing.T) {
	m, _, _ := newModel(t, nil)
	for i := range DefaultLogLines + 4 {
		m = update(t, m, events.Event[string]{Payload: string(rune('a'+i)) + "\n"})
	}
	require.Len(t, m.tail, DefaultLogLines)
	require.Equal(t, "j", m.tail[len(m.tail)-1])
}

func TestUpdate_DoneQuits(t *testing.T) {
	m, _, _ := newModel(t, nil)
	report := &coordinator.Report{RunID: "r", Status: events.RunComplete}

	next, cmd := m.Update(DoneMsg{Report: report})
	m = next.(Model)
	require.True(t, m.Done())
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())

	got, err := m.Result()
	require.Same(t, report, got)
	require.NoError(t, err)
	require.Equal(t, events.RunComplete, m.run)
	require.NotContains(t, ansi.Strip(m.View()), "ctrl+c")
}

func TestUpdate_AbortCancelsOnce(t *testing.T) {
	calls := 0
	m, _, _ := newModel(t, func() { calls++ })

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.True(t, m.Aborted())
	require.Equal(t, 1, calls)
	require.Contains(t, ansi.Strip(m.View()), "aborting")
	require.False(t, m.Done(), "the view waits for the coordinator to return")
}

func TestListen_ReceivesFromBus(t *testing.T) {
	m, workers, runs := newModel(t, nil)

	workers.Publish(events.Updated, events.WorkerEvent{Type: events.WorkerProgress, Rank: 0, RowsDone: 1, RowsTotal: 1})
	msg := listen(m.workers)()
	m = update(t, m, msg)
	require.Equal(t, 1, m.ranks[0].done)

	runs.Publish(events.Updated, events.RunEvent{Status: events.RunComputing})
	m = update(t, m, listen(m.runs)())
	require.Equal(t, events.RunComputing, m.run)

	require.Nil(t, listen[string](nil))
}

func TestUpdate_WindowSize(t *testing.T) {
	m, _, _ := newModel(t, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	require.Equal(t, 120, m.width)
	require.Equal(t, 60, m.bar.Width)

	m = update(t, m, tea.WindowSizeMsg{Width: 30, Height: 40})
	require.Equal(t, 10, m.bar.Width)
}

func TestView_Golden(t *testing.T) {
	m, _, _ := newModel(t, nil)
	m = update(t, m, events.Event[events.RunEvent]{Payload: events.RunEvent{Status: events.RunComputing}})
	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerStatusChange, Rank: 0, Status: events.WorkerDone}))
	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerStatusChange, Rank: 2, Status: events.WorkerComputing}))
	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerProgress, Rank: 2, RowsDone: 1, RowsTotal: 3}))
	m = update(t, m, workerMsg(events.WorkerEvent{Type: events.WorkerOutput, Rank: 1, Output: "hello"}))

	teatest.RequireEqualOutput(t, []byte(ansi.Strip(m.View())))
}

func TestUpdate_JournalEntriesJoinTail(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	journal := message.NewJournal()
	defer journal.Close()

	m := New(ctx, Config{RunID: "r", Params: smallParams(), WorkerCount: 2, Journal: journal.Bus()})
	journal.Record(message.New(message.KindReady, "r", 1, message.CoordinatorRank))

	m = update(t, m, listen(m.journal)())
	require.Equal(t, []string{"WORKER.1 -> COORDINATOR ready"}, m.tail)
	require.Contains(t, ansi.Strip(m.View()), "WORKER.1 -> COORDINATOR ready")
}

func TestProgram_QuitsOnDone(t *testing.T) {
	m, workers, runs := newModel(t, nil)
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(100, 30))

	runs.Publish(events.Updated, events.RunEvent{Status: events.RunComputing})
	workers.Publish(events.Updated, events.WorkerEvent{Type: events.WorkerStatusChange, Rank: 1, Status: events.WorkerDone})
	teatest.WaitFor(t, tm.Output(), func(b []byte) bool {
		return bytes.Contains(b, []byte("computing")) && bytes.Contains(b, []byte("done"))
	}, teatest.WithDuration(5*time.Second))

	report := &coordinator.Report{RunID: "0123456789abcdef", Status: events.RunComplete}
	tm.Send(DoneMsg{Report: report})

	final, ok := tm.FinalModel(t, teatest.WithFinalTimeout(5*time.Second)).(Model)
	require.True(t, ok)
	require.True(t, final.Done())
	require.Equal(t, 1, final.ranks[1].done)
	got, err := final.Result()
	require.NoError(t, err)
	require.Same(t, report, got)
}

func TestProgram_CtrlCCancelsRun(t *testing.T) {
	cancelled := make(chan struct{})
	m, _, _ := newModel(t, func() { close(cancelled) })
	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(100, 30))

	tm.Send(tea.KeyMsg{Type: tea.KeyCtrlC})
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not cancel the run")
	}
	tm.Send(DoneMsg{Err: context.Canceled})

	final := tm.FinalModel(t, teatest.WithFinalTimeout(5*time.Second)).(Model)
	require.True(t, final.Aborted())
	_, err := final.Result()
	require.ErrorIs(t, err, context.Canceled)
}
