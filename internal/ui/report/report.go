// Package report renders the execution report printed after a render and the
// run ledger listing.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/zjrosen/mandelgather/internal/orchestration/coordinator"
	"github.com/zjrosen/mandelgather/internal/runs/domain"
	"github.com/zjrosen/mandelgather/internal/ui/styles"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(styles.TextPrimaryColor).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Foreground(styles.TextSecondaryColor).Padding(0, 1)
	keyStyle    = styles.LabelStyle.Width(12)
)

// Render formats the outcome of one run. Output is the path the grid was
// written to; leave it empty when nothing was emitted.
func Render(r *coordinator.Report, output string) string {
	if r == nil {
		return ""
	}
	var b strings.Builder

	status := lipgloss.NewStyle().Bold(true).Foreground(styles.RunStatusColor(r.Status)).Render(string(r.Status))
	b.WriteString(styles.TitleStyle.Render("Run "+r.RunID) + "  " + status + "\n")

	rows := [][2]string{
		{"params", r.Params.String()},
		{"digest", short(r.Digest)},
		{"workers", strconv.Itoa(r.Metrics.Workers)},
		{"transport", string(r.Transport)},
		{"gather", string(r.GatherMode)},
	}
	if r.Metrics.Elapsed > 0 {
		rows = append(rows,
			[2]string{"elapsed", r.Metrics.FormatElapsed()},
			[2]string{"throughput", r.Metrics.FormatThroughput()},
		)
		if imb := r.Metrics.Imbalance(); imb > 0 {
			rows = append(rows, [2]string{"imbalance", fmt.Sprintf("%.2fx", imb)})
		}
	}
	if r.Checksum != "" {
		rows = append(rows, [2]string{"checksum", r.Checksum})
	}
	if output != "" {
		rows = append(rows, [2]string{"output", output})
	}
	for _, kv := range rows {
		b.WriteString(keyStyle.Render(kv[0]) + " " + kv[1] + "\n")
	}
	if r.Err != nil {
		b.WriteString(keyStyle.Render("error") + " " + styles.ErrorStyle.Render(r.Err.Error()) + "\n")
	}

	if len(r.Metrics.Ranks) > 0 {
		t := newTable("RANK", "ROWS", "COMPUTE")
		for _, rt := range r.Metrics.Ranks {
			t.Row(strconv.Itoa(rt.Rank), strconv.Itoa(rt.Rows), rt.ComputeTime.Round(time.Microsecond).String())
		}
		b.WriteString("\n" + t.Render() + "\n")
	}

	if len(r.Journal) > 0 {
		t := newTable("TIME", "FROM", "TO", "MESSAGE")
		for _, e := range r.Journal {
			t.Row(e.Timestamp.Format("15:04:05.000"), e.From, e.To, styles.TruncateString(e.Summary, 60))
		}
		b.WriteString("\n" + styles.LabelStyle.Render("last messages") + "\n" + t.Render() + "\n")
	}
	return b.String()
}

// Runs formats ledger entries newest first, as the repository returns them.
func Runs(runs []*domain.Run) string {
	if len(runs) == 0 {
		return styles.MutedStyle.Render("No runs recorded.") + "\n"
	}
	t := newTable("ID", "STATE", "SIZE", "ITERS", "WORKERS", "TRANSPORT", "GATHER", "ELAPSED", "CHECKSUM", "CREATED")
	for _, r := range runs {
		p := r.Params()
		elapsed := "-"
		if r.IsFinished() {
			elapsed = r.Elapsed().Round(time.Millisecond).String()
		}
		checksum := r.Checksum()
		if checksum == "" {
			checksum = "-"
		} else {
			checksum = styles.TruncateString(checksum, 12)
		}
		t.Row(
			short(r.GUID()),
			r.State().String(),
			fmt.Sprintf("%dx%d", p.Width, p.Height),
			strconv.Itoa(p.MaxIters),
			strconv.Itoa(r.Workers()),
			r.Transport(),
			r.GatherMode(),
			elapsed,
			checksum,
			r.CreatedAt().Local().Format("2006-01-02 15:04:05"),
		)
	}
	return t.Render() + "\n"
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.BorderDefaultColor)).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
