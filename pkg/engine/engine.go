package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/corralhq/corral/pkg/clock"
	"github.com/corralhq/corral/pkg/log"
	"github.com/corralhq/corral/pkg/metrics"
	"github.com/corralhq/corral/pkg/store"
	"github.com/corralhq/corral/pkg/trace"
	"github.com/corralhq/corral/pkg/types"
)

// Engine implements every mutating transition on the coordination
// state. All operations run under the store's exclusive lock, emit
// spans, and either fully commit or fully roll back.
type Engine struct {
	store   *store.Store
	tracer  *trace.Writer
	clock   *clock.Clock
	logger  zerolog.Logger
	retries int
}

// Options configures engine behavior
type Options struct {
	// RetryAttempts bounds internal BUSY retries; default 3
	RetryAttempts int
}

// New creates a claim engine over the given store and span writer
func New(st *store.Store, tracer *trace.Writer, clk *clock.Clock, opts Options) *Engine {
	retries := opts.RetryAttempts
	if retries <= 0 {
		retries = 3
	}
	return &Engine{
		store:   st,
		tracer:  tracer,
		clock:   clk,
		logger:  log.WithComponent("engine"),
		retries: retries,
	}
}

// Store exposes the underlying state store for read-only consumers
func (e *Engine) Store() *store.Store {
	return e.store
}

// Tracer exposes the span writer for callers that emit their own spans
func (e *Engine) Tracer() *trace.Writer {
	return e.tracer
}

// Clock exposes the engine clock
func (e *Engine) Clock() *clock.Clock {
	return e.clock
}

// traced wraps one operation in a span and the BUSY retry budget.
// Spans are emitted even for failed operations, with status=error and
// the error_kind attribute set.
func (e *Engine) traced(ctx context.Context, operation string, attrs map[string]string, fn func(ctx context.Context) error) error {
	timer := metrics.NewTimer()
	ctx, span := e.tracer.StartSpan(ctx, operation, attrs)

	err := e.withRetry(ctx, fn)

	metrics.OperationDuration.WithLabelValues(operation).Observe(timer.Elapsed().Seconds())
	if err != nil {
		kind := types.KindOf(err)
		status := types.SpanStatusError
		if kind == types.ErrTimeout {
			status = types.SpanStatusTimeout
		}
		span.End(status, map[string]string{"error_kind": string(kind)})
		return err
	}
	span.End(types.SpanStatusOK, nil)
	return nil
}

// withRetry retries fn on BUSY with jittered exponential backoff up to
// the engine's budget; other errors surface immediately.
func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < e.retries; attempt++ {
		err = fn(ctx)
		if err == nil || !types.KindOf(err).Retryable() {
			return err
		}
		if attempt == e.retries-1 {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		backoff += time.Duration(rand.Int63n(int64(backoff)))
		e.logger.Debug().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("lock busy, retrying")
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
	}
	return err
}

func (e *Engine) now() time.Time {
	return e.clock.NowWall()
}
