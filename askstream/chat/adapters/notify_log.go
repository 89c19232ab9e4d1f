package adapters

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

// LogNotifier reports notices as log lines, for headless use.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) RateLimited(_ context.Context, turn model.Turn) {
	n.logger.Warn().
		Str("turn_id", turn.ID).
		Str("advisory", turn.Answer.Message.Content).
		Msg("Usage limit reached")
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, turn model.Turn)

func (f NotifierFunc) RateLimited(ctx context.Context, turn model.Turn) { f(ctx, turn) }

var (
	_ ports.Notifier = (*LogNotifier)(nil)
	_ ports.Notifier = NotifierFunc(nil)
)
