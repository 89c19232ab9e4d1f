package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	internal "github.com/ZanzyTHEbar/askstream/askstream"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite tests the config package functionality
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
	origDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	var err error
	suite.origDir, err = os.Getwd()
	require.NoError(suite.T(), err)

	suite.tempDir = suite.T().TempDir()

	// Run from an empty directory so no stray config.yaml is picked up
	require.NoError(suite.T(), os.Chdir(suite.tempDir))
}

func (suite *ConfigTestSuite) TearDownTest() {
	if suite.origDir != "" {
		_ = os.Chdir(suite.origDir)
	}
}

func (suite *ConfigTestSuite) writeConfig(content string) string {
	path := filepath.Join(suite.tempDir, "config.yaml")
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (suite *ConfigTestSuite) TestLoadConfigWithDefaults() {
	cfg, err := LoadConfig("")

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), cfg)

	assert.Equal(suite.T(), internal.DefaultBaseURL, cfg.Client.BaseURL)
	assert.Equal(suite.T(), "http://localhost:8000/api/chat/", cfg.Client.ChatURL())
	assert.Equal(suite.T(), "http://localhost:8000/api/history/", cfg.Client.HistoryURL())
	assert.True(suite.T(), cfg.Client.Stream)
	assert.Equal(suite.T(), time.Duration(0), cfg.Client.Timeout)
	assert.Equal(suite.T(), "none", cfg.Auth.Mode)
	assert.Equal(suite.T(), "none", cfg.Persistence.Backend)
	assert.Equal(suite.T(), internal.DefaultDatabaseDriver, cfg.Persistence.Database.Driver)
	assert.Equal(suite.T(), internal.DefaultDatabaseDSN, cfg.Persistence.Database.DSN)
	assert.Equal(suite.T(), 10*time.Second, cfg.Persistence.SaveTimeout)
	assert.Equal(suite.T(), "rate_limit", cfg.Messages.RateLimitCode)

	// Stock overrides of the web client
	assert.Equal(suite.T(), 3, cfg.Overrides.Top)
	assert.Equal(suite.T(), 10, cfg.Overrides.MaxSubqueries)
	assert.Equal(suite.T(), "interleaved", cfg.Overrides.ResultsMergeStrategy)
	assert.InDelta(suite.T(), 0.3, cfg.Overrides.Temperature, 1e-9)
	assert.Equal(suite.T(), "vectors", cfg.Overrides.RetrievalMode)
	assert.True(suite.T(), cfg.Overrides.SemanticRanker)
	assert.Nil(suite.T(), cfg.Overrides.Seed)
}

func (suite *ConfigTestSuite) TestLoadConfigWithFile() {
	path := suite.writeConfig(`
client:
  base_url: "https://chat.example.com/"
  chat_path: "api/chat/"
  stream: false
  timeout: 30s
  headers:
    X-Client: cli
auth:
  mode: static
  token: abc
  user_id: alice@example.com
  tenant_id: t-1
overrides:
  top: 5
  seed: 42
  language: en
persistence:
  backend: sql
  database:
    driver: sqlite
    dsn: ./turns.db
messages:
  rate_limited: "利用上限に達しました"
`)

	cfg, err := LoadConfig(path)

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "https://chat.example.com/api/chat/", cfg.Client.ChatURL())
	assert.False(suite.T(), cfg.Client.Stream)
	assert.Equal(suite.T(), 30*time.Second, cfg.Client.Timeout)
	assert.Equal(suite.T(), "cli", cfg.Client.Headers["x-client"])
	assert.Equal(suite.T(), "abc", cfg.Auth.Token)
	assert.Equal(suite.T(), "alice@example.com", cfg.Auth.UserID)
	assert.Equal(suite.T(), 5, cfg.Overrides.Top)
	require.NotNil(suite.T(), cfg.Overrides.Seed)
	assert.Equal(suite.T(), 42, *cfg.Overrides.Seed)
	assert.Equal(suite.T(), "en", cfg.Overrides.Language)
	assert.Equal(suite.T(), "sql", cfg.Persistence.Backend)
	assert.Equal(suite.T(), "sqlite", cfg.Persistence.Database.Driver)
	assert.Equal(suite.T(), "利用上限に達しました", cfg.Messages.RateLimited)

	// Untouched keys keep their defaults
	assert.Equal(suite.T(), 10, cfg.Overrides.MaxSubqueries)
}

func (suite *ConfigTestSuite) TestEnvironmentOverridesFile() {
	path := suite.writeConfig(`
client:
  base_url: "https://file.example.com"
`)
	suite.T().Setenv("ASKSTREAM_CLIENT_BASE_URL", "https://env.example.com")
	suite.T().Setenv("ASKSTREAM_LOGGING_LEVEL", "debug")

	cfg, err := LoadConfig(path)

	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "https://env.example.com", cfg.Client.BaseURL)
	assert.Equal(suite.T(), "debug", cfg.Logging.Level)
}

func (suite *ConfigTestSuite) TestLoadConfigInvalidFile() {
	// An explicit path that does not exist is an error
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestLoadConfigMalformedFile() {
	path := suite.writeConfig(`
client:
  base_url: "https://x"
    stream: [unbalanced
`)

	cfg, err := LoadConfig(path)

	assert.Error(suite.T(), err)
	assert.Nil(suite.T(), cfg)
}

func (suite *ConfigTestSuite) TestValidationFailures() {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"relative base url", "client:\n  base_url: /api\n", "client.base_url"},
		{"unknown auth mode", "auth:\n  mode: kerberos\n", "auth.mode"},
		{"static without token", "auth:\n  mode: static\n", "auth.token"},
		{"client credentials without token url", "auth:\n  mode: client_credentials\n  client_id: id\n", "auth.client_id"},
		{"unknown backend", "persistence:\n  backend: s3\n", "persistence.backend"},
		{"unknown driver", "persistence:\n  database:\n    driver: postgres\n", "persistence.database.driver"},
		{"unknown log format", "logging:\n  format: xml\n", "logging.format"},
		{"zero cache capacity", "history:\n  cache_capacity: 0\n", "history.cache_capacity"},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			cfg, err := LoadConfig(suite.writeConfig(tt.content))

			require.Error(suite.T(), err)
			assert.Nil(suite.T(), cfg)
			assert.Contains(suite.T(), err.Error(), tt.errMsg)
		})
	}
}

func (suite *ConfigTestSuite) TestWatchRequiresConfigFile() {
	loader := NewLoader("")
	_, err := loader.Load()
	require.NoError(suite.T(), err)

	assert.ErrorIs(suite.T(), loader.Watch(func(*Config, error) {}), ErrNoConfigFile)
}

func (suite *ConfigTestSuite) TestWatchReportsChanges() {
	path := suite.writeConfig("overrides:\n  top: 3\n")
	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), path, loader.ConfigFileUsed())

	changes := make(chan *Config, 4)
	require.NoError(suite.T(), loader.Watch(func(cfg *Config, err error) {
		if err == nil {
			changes <- cfg
		}
	}))

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(suite.T(), os.WriteFile(path, []byte("overrides:\n  top: 7\n"), 0o644))

	select {
	case cfg := <-changes:
		assert.Equal(suite.T(), 7, cfg.Overrides.Top)
	case <-time.After(5 * time.Second):
		suite.T().Fatal("config change was not observed")
	}
}
