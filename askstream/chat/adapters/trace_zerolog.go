package adapters

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

type spanLoggerKey struct{}

// ZerologTracer implements the Tracer interface using zerolog.
type ZerologTracer struct {
	logger zerolog.Logger
}

// NewZerologTracer creates a new zerolog tracer.
func NewZerologTracer(logger zerolog.Logger) *ZerologTracer {
	return &ZerologTracer{
		logger: logger.With().Str("component", "trace").Logger(),
	}
}

// StartSpan logs the span start and returns a context carrying the span
// logger plus a finish func that logs the duration and outcome.
func (t *ZerologTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	lc := t.logger.With().Str("span", name)
	if parent, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger); ok {
		lc = parent.With().Str("span", name)
	}
	for k, v := range attrs {
		lc = lc.Interface(k, v)
	}
	spanLogger := lc.Logger()

	ctx = context.WithValue(ctx, spanLoggerKey{}, spanLogger)
	startTime := time.Now()

	spanLogger.Debug().Str("event", "span_start").Msg("Starting span")

	finish := func(err error) {
		event := spanLogger.Info()
		if err != nil {
			event = spanLogger.Warn().Err(err)
		}
		event.
			Str("event", "span_end").
			Dur("duration", time.Since(startTime)).
			Msg("Ending span")
	}

	return ctx, finish
}

// Event logs a tracing event with the current span context.
func (t *ZerologTracer) Event(ctx context.Context, name string, attrs map[string]any) {
	logger, ok := ctx.Value(spanLoggerKey{}).(zerolog.Logger)
	if !ok {
		logger = t.logger
	}

	event := logger.Info()
	for k, v := range attrs {
		event = event.Interface(k, v)
	}
	event.Str("event", name).Msg("Tracing event")
}

var _ ports.Tracer = (*ZerologTracer)(nil)
