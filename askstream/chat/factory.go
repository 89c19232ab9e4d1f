package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/adapters"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
	ports "github.com/ZanzyTHEbar/askstream/askstream/chat/ports"
	"github.com/ZanzyTHEbar/askstream/askstream/config"
)

// ErrDatabaseRequired is returned when the sql backend is selected without a database.
var ErrDatabaseRequired = errors.New("persistence.backend sql needs an open database")

// Factory creates and wires chat components from configuration.
type Factory struct {
	cfg    *config.Config
	db     *sql.DB // only for the sql backend
	client *http.Client
	logger zerolog.Logger
}

// NewFactory creates a new chat factory.
func NewFactory(cfg *config.Config, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		db:     db,
		client: &http.Client{Timeout: cfg.Client.Timeout},
		logger: logger,
	}
}

// CreateController creates a fully wired Controller. Extra options are
// applied after the configured ones.
func (f *Factory) CreateController(opts ...Option) (*Controller, error) {
	tokens := f.CreateTokenProvider()

	store, err := f.CreateTurnStore(tokens)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithHTTPClient(f.client),
		WithTokenProvider(tokens),
		WithHeaderBuilder(BearerHeaders(f.cfg.Client.Headers)),
		WithClassifier(f.CreateClassifier()),
		WithIdentity(ports.Identity{UserID: f.cfg.Auth.UserID, TenantID: f.cfg.Auth.TenantID}),
		WithNotifier(adapters.NewLogNotifier(f.logger)),
		WithTracer(f.createTracer()),
		WithLogger(f.logger),
		WithOverrides(OverridesFromConfig(f.cfg.Overrides)),
		WithStreaming(f.cfg.Client.Stream),
		WithBodyLimits(f.cfg.Client.MaxBodyBytes, f.cfg.Client.MaxErrorBodyBytes),
	}

	if store != nil {
		base = append(base,
			WithHistorySource(store),
			WithBridge(NewBridge(store, BridgeConfig{
				Timeout:       f.cfg.Persistence.SaveTimeout,
				RatePerSecond: f.cfg.Persistence.SaveRate,
				Burst:         f.cfg.Persistence.SaveBurst,
			}, f.logger)),
		)
		if recorder, ok := store.(ports.SessionRecorder); ok {
			base = append(base, WithSessionRecorder(recorder))
		}
	}

	return NewController(f.cfg.Client.ChatURL(), append(base, opts...)...)
}

// CreateTokenProvider creates the bearer token source from config.
func (f *Factory) CreateTokenProvider() ports.TokenProvider {
	switch f.cfg.Auth.Mode {
	case "static":
		return adapters.NewStaticTokenProvider(f.cfg.Auth.Token)
	case "client_credentials":
		return adapters.NewClientCredentialsTokenProvider(
			context.Background(),
			f.cfg.Auth.ClientID,
			f.cfg.Auth.ClientSecret,
			f.cfg.Auth.TokenURL,
			f.cfg.Auth.Scopes,
		)
	default:
		return anonymous{}
	}
}

// CreateTurnStore creates the persistence backend. It returns nil when
// persistence is disabled.
func (f *Factory) CreateTurnStore(tokens ports.TokenProvider) (ports.TurnStore, error) {
	var store ports.TurnStore
	switch f.cfg.Persistence.Backend {
	case "http":
		store = adapters.NewHTTPTurnStore(f.cfg.Client.HistoryURL(), f.client, tokens, f.logger)
	case "sql":
		if f.db == nil {
			return nil, ErrDatabaseRequired
		}
		store = adapters.NewSQLTurnStore(f.db)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", f.cfg.Persistence.Backend)
	}

	if f.cfg.History.CacheEnabled {
		cached := adapters.NewCachedTurnStore(store, f.cfg.History.CacheCapacity,
			time.Duration(f.cfg.History.CacheTTLSeconds)*time.Second)
		if recorder, ok := store.(ports.SessionRecorder); ok {
			return &cachedRecordingStore{CachedTurnStore: cached, recorder: recorder}, nil
		}
		return cached, nil
	}
	return store, nil
}

// CreateClassifier builds the classifier with the configured texts.
func (f *Factory) CreateClassifier() Classifier {
	return Classifier{
		RateLimitCode: f.cfg.Messages.RateLimitCode,
		RateLimitText: f.cfg.Messages.RateLimited,
		ErrorPrefix:   f.cfg.Messages.ErrorPrefix,
	}
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.cfg.Logging.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

// OverridesFromConfig converts the overrides section into request overrides.
func OverridesFromConfig(c config.OverridesConfig) Overrides {
	return Overrides{
		PromptTemplate:           c.PromptTemplate,
		IncludeCategory:          c.IncludeCategory,
		ExcludeCategory:          c.ExcludeCategory,
		Top:                      c.Top,
		MaxSubqueries:            c.MaxSubqueries,
		ResultsMergeStrategy:     c.ResultsMergeStrategy,
		Temperature:              c.Temperature,
		MinimumRerankerScore:     c.MinimumRerankerScore,
		MinimumSearchScore:       c.MinimumSearchScore,
		RetrievalMode:            c.RetrievalMode,
		SemanticRanker:           c.SemanticRanker,
		SemanticCaptions:         c.SemanticCaptions,
		QueryRewriting:           c.QueryRewriting,
		ReasoningEffort:          c.ReasoningEffort,
		SuggestFollowupQuestions: c.SuggestFollowupQuestions,
		UseOIDSecurityFilter:     c.UseOIDSecurityFilter,
		UseGroupsSecurityFilter:  c.UseGroupsSecurityFilter,
		VectorFields:             c.VectorFields,
		UseGPT4V:                 c.UseGPT4V,
		GPT4VInput:               c.GPT4VInput,
		Language:                 c.Language,
		UseAgenticRetrieval:      c.UseAgenticRetrieval,
		Seed:                     c.Seed,
	}
}

// cachedRecordingStore keeps session recording available behind the cache.
type cachedRecordingStore struct {
	*adapters.CachedTurnStore
	recorder ports.SessionRecorder
}

func (s *cachedRecordingStore) RecordSession(ctx context.Context, conversationID, sessionID string, turns []model.Turn) error {
	return s.recorder.RecordSession(ctx, conversationID, sessionID, turns)
}

// noOpNotifier implements Notifier interface with no-op behavior.
type noOpNotifier struct{}

func (n *noOpNotifier) RateLimited(ctx context.Context, turn model.Turn) {}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// Ensure all no-op and wrapper types implement their interfaces.
var (
	_ ports.Notifier        = (*noOpNotifier)(nil)
	_ ports.Tracer          = (*noOpTracer)(nil)
	_ ports.SessionRecorder = (*cachedRecordingStore)(nil)
	_ ports.TokenProvider   = anonymous{}
)
