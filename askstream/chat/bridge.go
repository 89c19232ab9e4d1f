package chat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
)

const defaultSaveTimeout = 10 * time.Second

// BridgeConfig tunes the persistence bridge.
type BridgeConfig struct {
	Timeout       time.Duration // per save
	RatePerSecond float64       // 0 disables pacing
	Burst         int
}

// Bridge saves settled turns in the background. Save never blocks the
// caller and failures are only logged.
type Bridge struct {
	persister ports.Persister
	limiter   *rate.Limiter
	timeout   time.Duration
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewBridge wraps persister.
func NewBridge(persister ports.Persister, cfg BridgeConfig, logger zerolog.Logger) *Bridge {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		persister: persister,
		limiter:   rate.NewLimiter(limit, max(cfg.Burst, 1)),
		timeout:   timeout,
		logger:    logger.With().Str("component", "persistence").Logger(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Save schedules rec to be persisted.
func (b *Bridge) Save(rec ports.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		b.logger.Warn().Str("turn_id", rec.TurnID).Msg("Bridge closed, dropping turn")
		return
	}
	b.wg.Go(func() { b.save(rec) })
}

func (b *Bridge) save(rec ports.Record) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		b.logger.Warn().Err(err).Str("turn_id", rec.TurnID).Msg("Save skipped while waiting for rate limiter")
		return
	}

	if err := b.persister.SaveTurn(ctx, rec); err != nil {
		b.logger.Warn().
			Err(err).
			Str("turn_id", rec.TurnID).
			Str("conversation_id", rec.ConversationID).
			Msg("Failed to persist turn")
		return
	}

	b.logger.Debug().
		Str("turn_id", rec.TurnID).
		Str("conversation_id", rec.ConversationID).
		Msg("Turn persisted")
}

// Close stops accepting saves and waits for the ones in flight.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	if r := b.wg.WaitAndRecover(); r != nil {
		b.logger.Error().Err(r.AsError()).Msg("Persister panicked")
	}
	b.cancel()
}
