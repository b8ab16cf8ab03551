package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	xglog "github.com/ManuGH/drivecast/internal/log"
	"github.com/ManuGH/drivecast/internal/metrics"
	"github.com/ManuGH/drivecast/internal/taskgroup"
	"github.com/ManuGH/drivecast/internal/telemetry"
)

const taskKind = "dispatch"

// Background runs dispatches off the caller's goroutine. Each dispatch gets a
// context detached from the caller's cancellation and bounded by timeout, so
// a connection closing mid-flight does not abort the request.
type Background struct {
	inner   Dispatcher
	tasks   *taskgroup.Group
	timeout time.Duration
	logger  zerolog.Logger
}

// NewBackground wraps inner. A non-positive timeout defaults to 10s.
func NewBackground(inner Dispatcher, tasks *taskgroup.Group, timeout time.Duration) *Background {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Background{
		inner:   inner,
		tasks:   tasks,
		timeout: timeout,
		logger:  xglog.WithComponent("dispatch"),
	}
}

// Submit schedules req and reports whether it was accepted. It never blocks
// on the network.
func (b *Background) Submit(parent context.Context, req Request) bool {
	detached := context.WithoutCancel(parent)
	logger := xglog.WithContext(parent, b.logger).With().
		Int64(xglog.FieldSessionID, req.SessionID).
		Int(xglog.FieldChunkIndex, req.ChunkIndex).
		Str(xglog.FieldKey, req.SegmentKey).
		Logger()

	accepted := b.tasks.Go(taskKind, func() {
		ctx, cancel := context.WithTimeout(detached, b.timeout)
		defer cancel()
		ctx, span := telemetry.Tracer().Start(ctx, "analysis.dispatch",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(telemetry.SegmentAttributes(req.SessionID, req.SegmentKey, req.ChunkIndex)...))
		defer span.End()

		start := time.Now()
		err := b.inner.Dispatch(ctx, req)
		elapsed := time.Since(start)
		if err != nil {
			telemetry.RecordError(span, err, "dispatch")
			metrics.RecordDispatch("error", elapsed.Seconds())
			ev := logger.Warn()
			if errors.Is(err, context.DeadlineExceeded) {
				ev = logger.Error()
			}
			ev.Err(err).
				Str(xglog.FieldEvent, "dispatch.failed").
				Dur("duration", elapsed).
				Msg("analysis dispatch failed")
			return
		}
		metrics.RecordDispatch("ok", elapsed.Seconds())
		logger.Debug().
			Str(xglog.FieldEvent, "dispatch.sent").
			Dur("duration", elapsed).
			Msg("analysis dispatch accepted")
	})
	if !accepted {
		metrics.RecordDispatch("rejected", 0)
		logger.Warn().
			Str(xglog.FieldEvent, "dispatch.rejected").
			Msg("analysis dispatch rejected: shutting down")
	}
	return accepted
}
