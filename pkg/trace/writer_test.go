package trace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral/pkg/clock"
	"github.com/corralhq/corral/pkg/types"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w := NewWriter(dir, clock.New())
	t.Cleanup(func() { w.Close() })
	return w, dir
}

// TestStartEndWritesSingleRecord tests the one-record-per-operation contract
func TestStartEndWritesSingleRecord(t *testing.T) {
	w, _ := newTestWriter(t)

	ctx, h := w.StartSpan(context.Background(), "claim_engine.claim", map[string]string{
		"work_id": "work-1",
	})
	assert.NotEmpty(t, TraceIDFrom(ctx))
	assert.Equal(t, h.SpanID(), SpanIDFrom(ctx))

	h.End(types.SpanStatusOK, map[string]string{"priority": "high"})

	spans, err := ReadSpans(w.Path())
	require.NoError(t, err)
	require.Len(t, spans, 1)

	span := spans[0]
	assert.Equal(t, "claim_engine.claim", span.OperationName)
	assert.Equal(t, ServiceName, span.ServiceName)
	assert.Equal(t, types.SpanStatusOK, span.Status)
	assert.Equal(t, "work-1", span.Attributes["work_id"])
	assert.Equal(t, "high", span.Attributes["priority"])
	assert.Len(t, span.TraceID, 32)
	assert.Len(t, span.SpanID, 16)
	require.NotNil(t, span.EndTime)
	assert.False(t, span.EndTime.Before(span.StartTime))
}

// TestEndIsIdempotent tests that a second End does not double-write
func TestEndIsIdempotent(t *testing.T) {
	w, _ := newTestWriter(t)

	_, h := w.StartSpan(context.Background(), "op", nil)
	h.End(types.SpanStatusOK, nil)
	h.End(types.SpanStatusError, nil)

	spans, err := ReadSpans(w.Path())
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, types.SpanStatusOK, spans[0].Status)
}

// TestChildSpanInheritsTrace tests parent linkage within one process
func TestChildSpanInheritsTrace(t *testing.T) {
	w, _ := newTestWriter(t)

	ctx, parent := w.StartSpan(context.Background(), "maintenance.rebalance", nil)
	_, child := w.StartSpan(ctx, "claim_engine.claim", nil)

	assert.Equal(t, parent.TraceID(), child.TraceID())
	assert.Equal(t, parent.SpanID(), child.span.ParentSpanID)

	child.End(types.SpanStatusOK, nil)
	parent.End(types.SpanStatusOK, nil)

	spans, err := ReadSpans(w.Path())
	require.NoError(t, err)
	assert.Len(t, spans, 2)
}

// TestLogEvent tests single-record event emission
func TestLogEvent(t *testing.T) {
	w, _ := newTestWriter(t)

	w.LogEvent(context.Background(), "maintenance.status_report", map[string]string{
		"completed_today": "5",
	})

	spans, err := ReadSpans(w.Path())
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "maintenance.status_report", spans[0].Attributes["event"])
	assert.Equal(t, "5", spans[0].Attributes["completed_today"])
}

// TestErrorSpanCarriesErrorKind tests error recording on failed operations
func TestErrorSpanCarriesErrorKind(t *testing.T) {
	w, _ := newTestWriter(t)

	_, h := w.StartSpan(context.Background(), "claim_engine.claim", nil)
	h.End(types.SpanStatusError, map[string]string{"error_kind": "NOT_FOUND"})

	spans, err := ReadSpans(w.Path())
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, types.SpanStatusError, spans[0].Status)
	assert.Equal(t, "NOT_FOUND", spans[0].Attributes["error_kind"])
}

// TestReaderToleratesTruncatedTail tests the reader contract on a torn write
func TestReaderToleratesTruncatedTail(t *testing.T) {
	w, _ := newTestWriter(t)

	_, h := w.StartSpan(context.Background(), "op1", nil)
	h.End(types.SpanStatusOK, nil)
	require.NoError(t, w.Close())

	f, err := os.OpenFile(w.Path(), os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"trace_id":"abc","span`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	spans, err := ReadSpans(w.Path())
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

// TestLogFilesOrder tests rotated-file enumeration order
func TestLogFilesOrder(t *testing.T) {
	w, dir := newTestWriter(t)

	for _, name := range []string{"spans-20260101-000000.jsonl", "spans-20250101-000000.jsonl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	w.LogEvent(context.Background(), "e", nil)

	files, err := LogFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, filepath.Join(dir, "spans-20250101-000000.jsonl"), files[0])
	assert.Equal(t, filepath.Join(dir, "spans-20260101-000000.jsonl"), files[1])
	assert.Equal(t, w.Path(), files[2])
}

// TestFromEnvAndEnvRoundTrip tests cross-process context propagation
func TestFromEnvAndEnvRoundTrip(t *testing.T) {
	t.Setenv(EnvTraceID, "0123456789abcdef0123456789abcdef")
	t.Setenv(EnvParentSpanID, "0123456789abcdef")

	ctx := FromEnv(context.Background())
	assert.Equal(t, "0123456789abcdef0123456789abcdef", TraceIDFrom(ctx))
	assert.Equal(t, "0123456789abcdef", SpanIDFrom(ctx))

	env := Env(ctx)
	assert.Contains(t, env, EnvTraceID+"=0123456789abcdef0123456789abcdef")
	assert.Contains(t, env, EnvParentSpanID+"=0123456789abcdef")
}

// TestFromEnvWithoutTrace tests that an unset environment yields no context
func TestFromEnvWithoutTrace(t *testing.T) {
	t.Setenv(EnvTraceID, "")
	ctx := FromEnv(context.Background())
	assert.Empty(t, TraceIDFrom(ctx))
	assert.Nil(t, Env(ctx))
}
