package chat

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/askstream/askstream/chat/adapters"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/chattest"
	"github.com/ZanzyTHEbar/askstream/askstream/chat/model"
	"github.com/ZanzyTHEbar/askstream/askstream/config"
	"github.com/ZanzyTHEbar/askstream/askstream/db"
)

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.Client.BaseURL = baseURL
	return cfg
}

func TestOverridesFromConfigMatchesDefaults(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8000")
	assert.Equal(t, DefaultOverrides(), OverridesFromConfig(cfg.Overrides))
}

func TestFactoryTokenProvider(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8000")

	tok, err := NewFactory(cfg, nil, zerolog.Nop()).CreateTokenProvider().Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)

	cfg.Auth.Mode = "static"
	cfg.Auth.Token = "abc"
	tok, err = NewFactory(cfg, nil, zerolog.Nop()).CreateTokenProvider().Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
}

func TestFactoryTurnStoreSelection(t *testing.T) {
	cfg := testConfig(t, "http://localhost:8000")
	tokens := anonymous{}

	store, err := NewFactory(cfg, nil, zerolog.Nop()).CreateTurnStore(tokens)
	require.NoError(t, err)
	assert.Nil(t, store)

	cfg.Persistence.Backend = "sql"
	_, err = NewFactory(cfg, nil, zerolog.Nop()).CreateTurnStore(tokens)
	assert.ErrorIs(t, err, ErrDatabaseRequired)

	cfg.Persistence.Backend = "http"
	store, err = NewFactory(cfg, nil, zerolog.Nop()).CreateTurnStore(tokens)
	require.NoError(t, err)
	assert.IsType(t, &adapters.CachedTurnStore{}, store)

	cfg.History.CacheEnabled = false
	store, err = NewFactory(cfg, nil, zerolog.Nop()).CreateTurnStore(tokens)
	require.NoError(t, err)
	assert.IsType(t, &adapters.HTTPTurnStore{}, store)
}

func TestFactoryControllerWithSQLPersistence(t *testing.T) {
	backend := chattest.New(chattest.Options{})
	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)

	cfg := testConfig(t, server.URL)
	cfg.Persistence.Backend = "sql"
	cfg.Persistence.Database = config.DatabaseConfig{
		Driver: db.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "turns.db"),
	}
	cfg.Client.Stream = false
	cfg.Auth.UserID = "alice@example.com"
	cfg.Messages.RateLimited = "利用上限に達しました"

	ctx := context.Background()
	conn, err := db.OpenAndMigrate(ctx, cfg.Persistence.Database, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	ctl, err := NewFactory(cfg, conn, zerolog.Nop()).CreateController(WithConversationID("box-42"))
	require.NoError(t, err)

	backend.Enqueue(chattest.JSON(200, map[string]any{
		"message":       map[string]string{"content": "Answer", "role": "assistant"},
		"session_state": "sess-1",
	}))
	turn, err := ctl.Submit(ctx, "question")
	require.NoError(t, err)
	require.Equal(t, model.PhaseSucceeded, turn.Phase)

	backend.Enqueue(chattest.JSON(429, map[string]string{"error": "rate_limit"}))
	limited, err := ctl.Submit(ctx, "too many")
	require.NoError(t, err)
	assert.Equal(t, "利用上限に達しました", limited.Answer.Message.Content)

	// Close drains the bridge so the save is visible.
	require.NoError(t, ctl.Close())

	sqlStore := adapters.NewSQLTurnStore(conn)
	records, err := sqlStore.LoadHistory(ctx, "box-42")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, turn.ID, records[0].TurnID)
	assert.Equal(t, "alice@example.com", records[0].UserID)
	assert.Equal(t, "Answer", records[0].Answer.Message.Content)

	sessionID, count, err := sqlStore.Session(ctx, "box-42")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", sessionID)
	assert.Equal(t, 1, count)

	// A fresh controller picks the conversation back up from the database.
	again, err := NewFactory(cfg, conn, zerolog.Nop()).CreateController()
	require.NoError(t, err)
	defer again.Close()

	require.NoError(t, again.Hydrate(ctx, "box-42"))
	turns := again.Store().Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, "question", turns[0].Question)
}

