package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/corralhq/corral/pkg/clock"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/types"
)

// SpanLogName is the active span log file inside the coordination dir.
// Rotated files carry a -YYYYMMDD-HHMMSS suffix before the extension
// so lexicographic order equals rotation order.
const SpanLogName = "spans.jsonl"

// ServiceName recorded on every span
const ServiceName = "corral"

// Writer appends span records to the newline-delimited span log. A
// failed write never aborts the caller: it is reported to stderr and
// counted, and the operation proceeds.
type Writer struct {
	mu    sync.Mutex
	path  string
	clock *clock.Clock
	file  *os.File
}

// NewWriter creates a span writer for the given coordination directory
func NewWriter(dir string, c *clock.Clock) *Writer {
	return &Writer{
		path:  filepath.Join(dir, SpanLogName),
		clock: c,
	}
}

// Path returns the active span log path
func (w *Writer) Path() string {
	return w.path
}

// SpanHandle tracks an in-flight operation between StartSpan and End
type SpanHandle struct {
	writer    *Writer
	span      types.Span
	startNano int64
	ended     bool
}

// StartSpan begins a traced operation. The returned context carries
// the span's trace and span IDs for child operations; the handle must
// be finished with End exactly once.
func (w *Writer) StartSpan(ctx context.Context, operationName string, attributes map[string]string) (context.Context, *SpanHandle) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = w.clock.NewTraceID()
	}
	spanID := w.clock.NewSpanID()

	attrs := make(map[string]string, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}
	if w.clock.UsingFallback() {
		attrs["id_source"] = "fallback"
	}

	h := &SpanHandle{
		writer: w,
		span: types.Span{
			TraceID:       traceID,
			SpanID:        spanID,
			ParentSpanID:  SpanIDFrom(ctx),
			OperationName: operationName,
			ServiceName:   ServiceName,
			StartTime:     w.clock.NowWall(),
			Status:        types.SpanStatusStarted,
			Attributes:    attrs,
		},
		startNano: w.clock.NowMonotonicNS(),
	}
	return WithTrace(ctx, traceID, spanID), h
}

// TraceID returns the trace ID of the span
func (h *SpanHandle) TraceID() string {
	return h.span.TraceID
}

// SpanID returns the span ID of the span
func (h *SpanHandle) SpanID() string {
	return h.span.SpanID
}

// SetAttribute adds or replaces one attribute on the in-flight span
func (h *SpanHandle) SetAttribute(key, value string) {
	h.span.Attributes[key] = value
}

// End completes the span and appends it to the log as a single record
// carrying both start and end. Safe to call once; later calls are
// ignored so a deferred End cannot double-write.
func (h *SpanHandle) End(status types.SpanStatus, extra map[string]string) {
	if h.ended {
		return
	}
	h.ended = true

	for k, v := range extra {
		h.span.Attributes[k] = v
	}
	end := h.writer.clock.NowWall()
	h.span.EndTime = &end
	h.span.DurationMS = (h.writer.clock.NowMonotonicNS() - h.startNano) / int64(time.Millisecond)
	h.span.Status = status

	h.writer.append(&h.span)
}

// LogEvent appends a single instantaneous event record. Used for
// things that happen once rather than over a duration, such as the
// daily status report.
func (w *Writer) LogEvent(ctx context.Context, operationName string, attributes map[string]string) {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		traceID = w.clock.NewTraceID()
	}
	attrs := make(map[string]string, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}
	attrs["event"] = operationName

	now := w.clock.NowWall()
	w.append(&types.Span{
		TraceID:       traceID,
		SpanID:        w.clock.NewSpanID(),
		ParentSpanID:  SpanIDFrom(ctx),
		OperationName: operationName,
		ServiceName:   ServiceName,
		StartTime:     now,
		EndTime:       &now,
		Status:        types.SpanStatusOK,
		Attributes:    attrs,
	})
}

// append serializes the span and writes it as one line in a single
// write call. On a short write it re-seeks to end and retries once;
// readers tolerate a final truncated line.
func (w *Writer) append(span *types.Span) {
	data, err := json.Marshal(span)
	if err != nil {
		w.reportFailure(err)
		return
	}
	line := append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		w.reportFailure(err)
		return
	}

	n, err := f.Write(line)
	if err != nil || n != len(line) {
		// Partial line possible; re-seek to end and rewrite the whole
		// record so the log stays truncation-clean at record level.
		if _, serr := f.Seek(0, io.SeekEnd); serr == nil {
			if _, rerr := f.Write(line); rerr == nil {
				metrics.SpansWritten.Inc()
				return
			}
		}
		if err == nil {
			err = fmt.Errorf("short write: %d of %d bytes", n, len(line))
		}
		w.reportFailure(err)
		return
	}
	metrics.SpansWritten.Inc()
}

func (w *Writer) open() (*os.File, error) {
	if w.file != nil {
		return w.file, nil
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	w.file = f
	return f, nil
}

// Close flushes and closes the underlying file. Called on process
// exit; the writer reopens lazily if used again.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// Reopen drops the cached file handle so the next append opens the
// current active log. The rotation job calls this after renaming.
func (w *Writer) Reopen() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
}

func (w *Writer) reportFailure(err error) {
	metrics.SpanWriteFailures.Inc()
	fmt.Fprintf(os.Stderr, "corral: span write failed: %v\n", err)
}
