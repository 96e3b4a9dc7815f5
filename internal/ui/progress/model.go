// Package progress is the live per-rank view shown by `render --progress`.
package progress

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/log"
	"github.com/zjrosen/mandelgather/internal/orchestration/coordinator"
	"github.com/zjrosen/mandelgather/internal/orchestration/events"
	"github.com/zjrosen/mandelgather/internal/orchestration/message"
	"github.com/zjrosen/mandelgather/internal/partition"
	"github.com/zjrosen/mandelgather/internal/ui/styles"
)

// DefaultLogLines is how many log lines the view tails.
const DefaultLogLines = 6

// DoneMsg ends the program once the coordinator returns.
type DoneMsg struct {
	Report *coordinator.Report
	Err    error
}

// Config wires the view to a coordinator that has not started yet.
type Config struct {
	RunID       string
	Params      fractal.Params
	WorkerCount int
	Workers     *events.Bus[events.WorkerEvent]
	Runs        *events.Bus[events.RunEvent]
	// Journal adds protocol messages to the tail.
	Journal *events.Bus[message.Entry]
	// TailLogs subscribes to the debug log. Only useful with --debug.
	TailLogs bool
	LogLines int
	// Cancel is called when the user aborts.
	Cancel context.CancelFunc
}

type rankState struct {
	status  events.WorkerStatus
	done    int
	total   int
	elapsed time.Duration
	err     error
}

// Model is the Bubble Tea model.
type Model struct {
	runID  string
	params fractal.Params
	ranks  []rankState
	run    events.RunStatus
	bar    progress.Model
	width  int

	workers *events.Listener[events.WorkerEvent]
	runs    *events.Listener[events.RunEvent]
	journal *events.Listener[message.Entry]
	logs    *events.Listener[string]
	tail    []string
	maxTail int

	cancel   context.CancelFunc
	aborting bool
	done     bool
	report   *coordinator.Report
	err      error
}

// New subscribes to the buses for the lifetime of ctx. Create it before the
// coordinator runs so no event is missed.
func New(ctx context.Context, cfg Config) Model {
	ranks := make([]rankState, cfg.WorkerCount)
	if plan, err := partition.Plan(cfg.WorkerCount, cfg.Params.Height); err == nil {
		for i, r := range plan {
			ranks[i].total = r.Len()
		}
	}
	maxTail := cfg.LogLines
	if maxTail <= 0 {
		maxTail = DefaultLogLines
	}

	m := Model{
		runID:   cfg.RunID,
		params:  cfg.Params,
		ranks:   ranks,
		run:     events.RunIdle,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:   80,
		maxTail: maxTail,
		cancel:  cfg.Cancel,
	}
	if cfg.Workers != nil {
		m.workers = events.NewListener(ctx, cfg.Workers)
	}
	if cfg.Runs != nil {
		m.runs = events.NewListener(ctx, cfg.Runs)
	}
	if cfg.Journal != nil {
		m.journal = events.NewListener(ctx, cfg.Journal)
	}
	if cfg.TailLogs {
		m.logs = log.NewListener(ctx)
	}
	return m
}

// Init starts listening on every subscribed bus.
func (m Model) Init() tea.Cmd {
	var cmds []tea.Cmd
	if m.workers != nil {
		cmds = append(cmds, m.workers.Listen())
	}
	if m.runs != nil {
		cmds = append(cmds, m.runs.Listen())
	}
	if m.journal != nil {
		cmds = append(cmds, m.journal.Listen())
	}
	if m.logs != nil {
		cmds = append(cmds, m.logs.Listen())
	}
	return tea.Batch(cmds...)
}

// Update handles bus events, the final DoneMsg, resizes and abort keys.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case events.Event[events.WorkerEvent]:
		m.applyWorker(msg.Payload)
		return m, listen(m.workers)

	case events.Event[events.RunEvent]:
		m.run = msg.Payload.Status
		return m, listen(m.runs)

	case events.Event[message.Entry]:
		e := msg.Payload
		m.appendTail(fmt.Sprintf("%s -> %s %s", e.From, e.To, e.Summary))
		return m, listen(m.journal)

	case events.Event[string]:
		m.appendTail(strings.TrimRight(msg.Payload, "\n"))
		return m, listen(m.logs)

	case DoneMsg:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		if msg.Report != nil {
			m.run = msg.Report.Status
		}
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(min(msg.Width-40, 60), 10)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.cancel != nil && !m.aborting {
				m.aborting = true
				m.cancel()
			}
		}
		return m, nil
	}
	return m, nil
}

func listen[T any](l *events.Listener[T]) tea.Cmd {
	if l == nil {
		return nil
	}
	return l.Listen()
}

func (m *Model) applyWorker(ev events.WorkerEvent) {
	if ev.Rank < 0 || ev.Rank >= len(m.ranks) {
		return
	}
	r := &m.ranks[ev.Rank]
	if ev.Elapsed > 0 {
		r.elapsed = ev.Elapsed
	}
	switch ev.Type {
	case events.WorkerSpawned, events.WorkerStatusChange:
		r.status = ev.Status
		if ev.Status == events.WorkerDone {
			r.done = r.total
		}
	case events.WorkerProgress:
		r.done = ev.RowsDone
		if ev.RowsTotal > 0 {
			r.total = ev.RowsTotal
		}
	case events.WorkerError:
		r.status = events.WorkerFailed
		r.err = ev.Error
	case events.WorkerOutput:
		m.appendTail(fmt.Sprintf("rank %d: %s", ev.Rank, ev.Output))
	}
}

func (m *Model) appendTail(line string) {
	if line == "" {
		return
	}
	m.tail = append(m.tail, line)
	if len(m.tail) > m.maxTail {
		m.tail = m.tail[len(m.tail)-m.maxTail:]
	}
}

// Done reports whether the coordinator has returned.
func (m Model) Done() bool { return m.done }

// Aborted reports whether the user asked to stop the run.
func (m Model) Aborted() bool { return m.aborting }

// Result returns what DoneMsg carried.
func (m Model) Result() (*coordinator.Report, error) { return m.report, m.err }

// RowsDone sums finished rows across ranks.
func (m Model) RowsDone() int {
	n := 0
	for _, r := range m.ranks {
		n += r.done
	}
	return n
}

// View renders the header, one bar per rank, the overall bar and the log tail.
func (m Model) View() string {
	var b strings.Builder

	runID := m.runID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	status := lipgloss.NewStyle().Bold(true).Foreground(styles.RunStatusColor(m.run)).Render(string(m.run))
	fmt.Fprintf(&b, "%s %s  %s  %s\n\n",
		styles.TitleStyle.Render("mandelgather"),
		styles.MutedStyle.Render(runID),
		styles.LabelStyle.Render(m.params.String()),
		status)

	for i, r := range m.ranks {
		pct := 1.0
		if r.total > 0 {
			pct = float64(r.done) / float64(r.total)
		}
		st := lipgloss.NewStyle().Foreground(styles.WorkerStatusColor(r.status)).Render(fmt.Sprintf("%-9s", r.status))
		line := fmt.Sprintf("rank %-3d %s %s %5d/%-5d rows", i, st, m.bar.ViewAs(pct), r.done, r.total)
		if r.elapsed > 0 && r.status.IsTerminal() {
			line += styles.MutedStyle.Render(fmt.Sprintf("  %s", r.elapsed.Round(time.Millisecond)))
		}
		b.WriteString(line + "\n")
		if r.err != nil {
			b.WriteString("         " + styles.ErrorStyle.Render(styles.TruncateString(r.err.Error(), max(m.width-9, 10))) + "\n")
		}
	}

	if h := m.params.Height; h > 0 {
		fmt.Fprintf(&b, "\n%-18s %s %5d/%-5d rows\n", "total", m.bar.ViewAs(float64(m.RowsDone())/float64(h)), m.RowsDone(), h)
	}

	if len(m.tail) > 0 {
		b.WriteString("\n")
		for _, line := range m.tail {
			b.WriteString(styles.MutedStyle.Render(styles.TruncateString(line, max(m.width, 20))) + "\n")
		}
	}

	switch {
	case m.done:
	case m.aborting:
		b.WriteString("\n" + styles.ErrorStyle.Render("aborting...") + "\n")
	default:
		b.WriteString("\n" + styles.MutedStyle.Render("ctrl+c to abort") + "\n")
	}
	return b.String()
}
