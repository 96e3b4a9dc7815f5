package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func readRecords(t *testing.T, path string) []SpanRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []SpanRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec SpanRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "traces.jsonl")

	exp, err := NewFileExporter(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestFileExporter_LiftsRunAndRank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	start := time.Now()
	stubs := tracetest.SpanStubs{
		{
			Name:      SpanCompute,
			StartTime: start,
			EndTime:   start.Add(250 * time.Millisecond),
			Attributes: []attribute.KeyValue{
				attribute.String(AttrRunID, "run-1"),
				attribute.Int(AttrRank, 3),
				attribute.Int(AttrPixels, 1600),
			},
			Status: sdktrace.Status{Code: codes.Ok},
		},
		{
			Name:      SpanGather,
			StartTime: start,
			EndTime:   start.Add(time.Second),
			Status:    sdktrace.Status{Code: codes.Error, Description: "aggregation incomplete"},
		},
	}
	require.NoError(t, exp.ExportSpans(context.Background(), stubs.Snapshots()))
	require.NoError(t, exp.Shutdown(context.Background()))

	recs := readRecords(t, path)
	require.Len(t, recs, 2)

	require.Equal(t, SpanCompute, recs[0].Name)
	require.Equal(t, "run-1", recs[0].RunID)
	require.NotNil(t, recs[0].Rank)
	require.Equal(t, int64(3), *recs[0].Rank)
	require.InDelta(t, 250.0, recs[0].DurationMs, 0.001)
	require.Equal(t, "OK", recs[0].Status)
	require.NotContains(t, recs[0].Attributes, AttrRunID)
	require.EqualValues(t, 1600, recs[0].Attributes[AttrPixels])

	require.Equal(t, "ERROR", recs[1].Status)
	require.Equal(t, "aggregation incomplete", recs[1].StatusMsg)
	require.Nil(t, recs[1].Rank)
}

func TestFileExporter_ExportAfterShutdown(t *testing.T) {
	exp, err := NewFileExporter(filepath.Join(t.TempDir(), "t.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))

	stubs := tracetest.SpanStubs{{Name: "late"}}
	require.Error(t, exp.ExportSpans(context.Background(), stubs.Snapshots()))
	require.NoError(t, exp.ExportSpans(context.Background(), nil))
}
