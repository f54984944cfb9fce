package trace

import (
	"context"
	"os"
)

// Environment variables used to inherit trace context from a calling
// process and to pass it to subprocesses.
const (
	EnvTraceID      = "TRACE_ID"
	EnvParentSpanID = "PARENT_SPAN_ID"
)

type contextKey int

const (
	traceIDKey contextKey = iota
	spanIDKey
)

// WithTrace returns a context carrying the given trace and span IDs
func WithTrace(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	return context.WithValue(ctx, spanIDKey, spanID)
}

// TraceIDFrom returns the trace ID carried by ctx, if any
func TraceIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// SpanIDFrom returns the current span ID carried by ctx, if any
func SpanIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(spanIDKey).(string); ok {
		return v
	}
	return ""
}

// FromEnv seeds ctx with trace context inherited from the environment.
// Returns ctx unchanged when no TRACE_ID is set.
func FromEnv(ctx context.Context) context.Context {
	traceID := os.Getenv(EnvTraceID)
	if traceID == "" {
		return ctx
	}
	return WithTrace(ctx, traceID, os.Getenv(EnvParentSpanID))
}

// Env renders the trace context of ctx as environment assignments for
// a subprocess. Empty when ctx carries no trace.
func Env(ctx context.Context) []string {
	traceID := TraceIDFrom(ctx)
	if traceID == "" {
		return nil
	}
	env := []string{EnvTraceID + "=" + traceID}
	if spanID := SpanIDFrom(ctx); spanID != "" {
		env = append(env, EnvParentSpanID+"="+spanID)
	}
	return env
}
