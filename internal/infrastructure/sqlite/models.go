package sqlite

import (
	"time"

	"github.com/zjrosen/mandelgather/internal/fractal"
	"github.com/zjrosen/mandelgather/internal/runs/domain"
)

// RunModel represents a row of the runs table. Times are Unix nanoseconds.
type RunModel struct {
	ID         int64
	GUID       string
	Width      int
	Height     int
	MaxIters   int
	MinReal    float64
	MaxReal    float64
	MinImag    float64
	MaxImag    float64
	Digest     string
	Workers    int
	Transport  string
	GatherMode string
	State      string
	ElapsedNS  int64
	Checksum   *string // nullable
	Output     *string // nullable
	Error      *string // nullable

	CreatedAt   int64
	CompletedAt *int64 // nullable
}

func toRunModel(r *domain.Run) *RunModel {
	p := r.Params()
	m := &RunModel{
		ID:         r.ID(),
		GUID:       r.GUID(),
		Width:      p.Width,
		Height:     p.Height,
		MaxIters:   p.MaxIters,
		MinReal:    p.Region.MinReal,
		MaxReal:    p.Region.MaxReal,
		MinImag:    p.Region.MinImag,
		MaxImag:    p.Region.MaxImag,
		Digest:     r.Digest(),
		Workers:    r.Workers(),
		Transport:  r.Transport(),
		GatherMode: r.GatherMode(),
		State:      r.State().String(),
		ElapsedNS:  int64(r.Elapsed()),
		Checksum:   nullString(r.Checksum()),
		Output:     nullString(r.Output()),
		Error:      nullString(r.Error()),
		CreatedAt:  r.CreatedAt().UnixNano(),
	}
	if t := r.CompletedAt(); t != nil {
		ns := t.UnixNano()
		m.CompletedAt = &ns
	}
	return m
}

func (m *RunModel) toDomain() *domain.Run {
	params := fractal.Params{
		Width:    m.Width,
		Height:   m.Height,
		MaxIters: m.MaxIters,
		Region: fractal.Region{
			MinReal: m.MinReal,
			MaxReal: m.MaxReal,
			MinImag: m.MinImag,
			MaxImag: m.MaxImag,
		},
	}
	var completedAt *time.Time
	if m.CompletedAt != nil {
		t := time.Unix(0, *m.CompletedAt)
		completedAt = &t
	}
	return domain.ReconstituteRun(
		m.ID, m.GUID, params, m.Digest, m.Workers, m.Transport, m.GatherMode,
		domain.RunState(m.State), time.Duration(m.ElapsedNS),
		derefString(m.Checksum), derefString(m.Output), derefString(m.Error),
		time.Unix(0, m.CreatedAt), completedAt,
	)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
