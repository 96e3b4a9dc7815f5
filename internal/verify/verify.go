// Package verify compares two iteration grids row by row. The verify command
// uses it to check a parallel render against the single-worker result.
package verify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Result describes how two grids differ.
type Result struct {
	// Rows lists the row indices whose values differ, ascending.
	Rows []int
	// Diff is a line diff of the two row dumps, one "-" line per expected
	// row and one "+" line per actual row. Empty when the grids match.
	Diff string
}

// Equal reports whether no row differed.
func (r Result) Equal() bool { return len(r.Rows) == 0 }

// Dump writes one line per row: "y: v0 v1 ...".
func Dump(grid []int32, width int) string {
	if width <= 0 {
		return ""
	}
	var b strings.Builder
	for y := 0; y*width < len(grid); y++ {
		writeRow(&b, y, grid[y*width:min((y+1)*width, len(grid))])
	}
	return b.String()
}

func writeRow(b *strings.Builder, y int, row []int32) {
	b.WriteString(strconv.Itoa(y))
	b.WriteByte(':')
	for _, v := range row {
		b.WriteByte(' ')
		b.WriteString(strconv.FormatInt(int64(v), 10))
	}
	b.WriteByte('\n')
}

// Compare diffs want against got. Grids of different length are compared up
// to the shorter one and every extra row counts as differing.
func Compare(want, got []int32, width int) (Result, error) {
	if width <= 0 {
		return Result{}, fmt.Errorf("width must be positive, got %d", width)
	}
	if len(want)%width != 0 || len(got)%width != 0 {
		return Result{}, fmt.Errorf("grid lengths %d and %d are not multiples of width %d", len(want), len(got), width)
	}

	wantRows, gotRows := len(want)/width, len(got)/width
	var rows []int
	for y := range max(wantRows, gotRows) {
		if y >= wantRows || y >= gotRows || !rowEqual(want[y*width:(y+1)*width], got[y*width:(y+1)*width]) {
			rows = append(rows, y)
		}
	}
	if len(rows) == 0 {
		return Result{}, nil
	}
	return Result{Rows: rows, Diff: lineDiff(Dump(want, width), Dump(got, width))}, nil
}

func rowEqual(a, b []int32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// lineDiff runs a line-mode diff and keeps only the changed lines.
func lineDiff(a, b string) string {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffMain(ca, cb, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var out strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix + line)
		}
	}
	return out.String()
}
