// Package metrics summarises the cost of a render run.
package metrics

import (
	"fmt"
	"sort"
	"time"
)

// RankTiming is how long one rank spent inside its compute loop.
type RankTiming struct {
	Rank        int           `json:"rank"`
	Rows        int           `json:"rows"`
	ComputeTime time.Duration `json:"compute_time_ns"`
}

// RunMetrics holds the measurements of one run.
type RunMetrics struct {
	Pixels  int           `json:"pixels"`
	Workers int           `json:"workers"`
	Elapsed time.Duration `json:"elapsed_ns"` // computation start to aggregation complete
	Ranks   []RankTiming  `json:"ranks"`
}

// Add records one rank's timing, keeping Ranks ordered by rank.
func (m *RunMetrics) Add(t RankTiming) {
	m.Ranks = append(m.Ranks, t)
	sort.Slice(m.Ranks, func(i, j int) bool { return m.Ranks[i].Rank < m.Ranks[j].Rank })
}

// Throughput returns pixels per second over Elapsed.
func (m RunMetrics) Throughput() float64 {
	if m.Elapsed <= 0 {
		return 0
	}
	return float64(m.Pixels) / m.Elapsed.Seconds()
}

// Imbalance is the slowest rank's compute time over the mean. 1.0 is a
// perfectly even split; a static row partition over the set's interior
// usually lands well above that.
func (m RunMetrics) Imbalance() float64 {
	if len(m.Ranks) == 0 {
		return 0
	}
	var total, slowest time.Duration
	for _, r := range m.Ranks {
		total += r.ComputeTime
		if r.ComputeTime > slowest {
			slowest = r.ComputeTime
		}
	}
	if total == 0 {
		return 0
	}
	mean := float64(total) / float64(len(m.Ranks))
	return float64(slowest) / mean
}

// FormatThroughput returns a human-readable rate (e.g., "12.4 Mpx/s").
func (m RunMetrics) FormatThroughput() string {
	tp := m.Throughput()
	switch {
	case tp >= 1e6:
		return fmt.Sprintf("%.1f Mpx/s", tp/1e6)
	case tp >= 1e3:
		return fmt.Sprintf("%.1f kpx/s", tp/1e3)
	default:
		return fmt.Sprintf("%.0f px/s", tp)
	}
}

// FormatElapsed returns Elapsed in seconds with microsecond precision, the
// way the execution report prints it.
func (m RunMetrics) FormatElapsed() string {
	return fmt.Sprintf("%.6f s", m.Elapsed.Seconds())
}
