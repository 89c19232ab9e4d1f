package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	internal "github.com/ZanzyTHEbar/askstream/askstream"
)

// EnvPrefix namespaces environment overrides, e.g. ASKSTREAM_CLIENT_BASE_URL.
const EnvPrefix = "ASKSTREAM"

// ErrNoConfigFile is returned by Watch when only defaults and env are in use.
var ErrNoConfigFile = errors.New("no config file in use")

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Client      ClientConfig      `mapstructure:"client"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Overrides   OverridesConfig   `mapstructure:"overrides"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	History     HistoryConfig     `mapstructure:"history"`
	Messages    MessagesConfig    `mapstructure:"messages"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	DevServer   DevServerConfig   `mapstructure:"devserver"`
}

// ClientConfig stores backend endpoint and transport settings.
type ClientConfig struct {
	BaseURL           string            `mapstructure:"base_url"`
	ChatPath          string            `mapstructure:"chat_path"`
	HistoryPath       string            `mapstructure:"history_path"`
	Stream            bool              `mapstructure:"stream"`               // ask for an event stream
	Timeout           time.Duration     `mapstructure:"timeout"`              // whole request, 0 disables
	MaxBodyBytes      int64             `mapstructure:"max_body_bytes"`       // non-streaming body cap
	MaxErrorBodyBytes int64             `mapstructure:"max_error_body_bytes"` // error body cap
	Headers           map[string]string `mapstructure:"headers"`              // extra static headers
}

// ChatURL joins the base URL and the chat path.
func (c ClientConfig) ChatURL() string { return joinURL(c.BaseURL, c.ChatPath) }

// HistoryURL joins the base URL and the history path.
func (c ClientConfig) HistoryURL() string { return joinURL(c.BaseURL, c.HistoryPath) }

// AuthConfig stores how bearer tokens are obtained and who the user is.
type AuthConfig struct {
	Mode         string   `mapstructure:"mode"` // "none", "static", "client_credentials"
	Token        string   `mapstructure:"token"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
	UserID       string   `mapstructure:"user_id"`
	TenantID     string   `mapstructure:"tenant_id"`
}

// OverridesConfig stores the retrieval/generation parameters sent with each request.
type OverridesConfig struct {
	PromptTemplate           string  `mapstructure:"prompt_template"`
	IncludeCategory          string  `mapstructure:"include_category"`
	ExcludeCategory          string  `mapstructure:"exclude_category"`
	Top                      int     `mapstructure:"top"`
	MaxSubqueries            int     `mapstructure:"max_subqueries"`
	ResultsMergeStrategy     string  `mapstructure:"results_merge_strategy"`
	Temperature              float64 `mapstructure:"temperature"`
	MinimumRerankerScore     float64 `mapstructure:"minimum_reranker_score"`
	MinimumSearchScore       float64 `mapstructure:"minimum_search_score"`
	RetrievalMode            string  `mapstructure:"retrieval_mode"`
	SemanticRanker           bool    `mapstructure:"semantic_ranker"`
	SemanticCaptions         bool    `mapstructure:"semantic_captions"`
	QueryRewriting           bool    `mapstructure:"query_rewriting"`
	ReasoningEffort          string  `mapstructure:"reasoning_effort"`
	SuggestFollowupQuestions bool    `mapstructure:"suggest_followup_questions"`
	UseOIDSecurityFilter     bool    `mapstructure:"use_oid_security_filter"`
	UseGroupsSecurityFilter  bool    `mapstructure:"use_groups_security_filter"`
	VectorFields             string  `mapstructure:"vector_fields"`
	UseGPT4V                 bool    `mapstructure:"use_gpt4v"`
	GPT4VInput               string  `mapstructure:"gpt4v_input"`
	Language                 string  `mapstructure:"language"`
	UseAgenticRetrieval      bool    `mapstructure:"use_agentic_retrieval"`
	Seed                     *int    `mapstructure:"seed"`
}

// DatabaseConfig stores database connection details for the local turn store.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "libsql" or "sqlite"
	DSN    string `mapstructure:"dsn"`    // path to the database file
}

// PersistenceConfig stores where settled turns are saved.
type PersistenceConfig struct {
	Backend     string         `mapstructure:"backend"` // "none", "http", "sql"
	Database    DatabaseConfig `mapstructure:"database"`
	SaveTimeout time.Duration  `mapstructure:"save_timeout"`
	SaveRate    float64        `mapstructure:"save_rate"` // saves per second, 0 = unlimited
	SaveBurst   int            `mapstructure:"save_burst"`
}

// HistoryConfig stores hydration cache settings.
type HistoryConfig struct {
	CacheEnabled    bool `mapstructure:"cache_enabled"`
	CacheCapacity   int  `mapstructure:"cache_capacity"`
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"`
}

// MessagesConfig stores user-facing texts.
type MessagesConfig struct {
	RateLimited   string `mapstructure:"rate_limited"`
	ErrorPrefix   string `mapstructure:"error_prefix"`
	RateLimitCode string `mapstructure:"rate_limit_code"`
}

// LoggingConfig stores logger settings.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"` // "console" or "json"
	EnableTracing bool   `mapstructure:"enable_tracing"`
}

// DevServerConfig stores settings of the scripted development backend.
type DevServerConfig struct {
	Addr       string        `mapstructure:"addr"`
	ChunkDelay time.Duration `mapstructure:"chunk_delay"`
}

var (
	authModes       = []string{"none", "static", "client_credentials"}
	backends        = []string{"none", "http", "sql"}
	databaseDrivers = []string{"libsql", "sqlite"}
	logFormats      = []string{"console", "json"}
)

// Validate checks values viper cannot check by type alone.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("client.base_url %q is not an absolute URL", c.Client.BaseURL)
	}
	if !slices.Contains(authModes, c.Auth.Mode) {
		return fmt.Errorf("auth.mode %q must be one of %v", c.Auth.Mode, authModes)
	}
	if c.Auth.Mode == "static" && c.Auth.Token == "" {
		return errors.New("auth.token is required when auth.mode is static")
	}
	if c.Auth.Mode == "client_credentials" && (c.Auth.ClientID == "" || c.Auth.TokenURL == "") {
		return errors.New("auth.client_id and auth.token_url are required for client_credentials")
	}
	if !slices.Contains(backends, c.Persistence.Backend) {
		return fmt.Errorf("persistence.backend %q must be one of %v", c.Persistence.Backend, backends)
	}
	if !slices.Contains(databaseDrivers, c.Persistence.Database.Driver) {
		return fmt.Errorf("persistence.database.driver %q must be one of %v", c.Persistence.Database.Driver, databaseDrivers)
	}
	if !slices.Contains(logFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format %q must be one of %v", c.Logging.Format, logFormats)
	}
	if c.History.CacheEnabled && c.History.CacheCapacity < 1 {
		return errors.New("history.cache_capacity must be positive when the cache is enabled")
	}
	return nil
}

// Loader reads configuration into a private viper instance.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty configPath searches the default
// locations for config.yaml.
func NewLoader(configPath string) *Loader {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. client.base_url becomes ASKSTREAM_CLIENT_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("client.base_url", internal.DefaultBaseURL)
	v.SetDefault("client.chat_path", internal.DefaultChatPath)
	v.SetDefault("client.history_path", internal.DefaultHistoryPath)
	v.SetDefault("client.stream", true)
	v.SetDefault("client.timeout", "0s")
	v.SetDefault("client.max_body_bytes", 8<<20)
	v.SetDefault("client.max_error_body_bytes", 64<<10)

	v.SetDefault("auth.mode", "none")
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.token_url", "")
	v.SetDefault("auth.scopes", []string{})
	v.SetDefault("auth.user_id", "")
	v.SetDefault("auth.tenant_id", "")

	// Overrides default to the web client's stock settings
	v.SetDefault("overrides.prompt_template", "")
	v.SetDefault("overrides.include_category", "")
	v.SetDefault("overrides.exclude_category", "")
	v.SetDefault("overrides.top", 3)
	v.SetDefault("overrides.max_subqueries", 10)
	v.SetDefault("overrides.results_merge_strategy", "interleaved")
	v.SetDefault("overrides.temperature", 0.3)
	v.SetDefault("overrides.minimum_reranker_score", 0)
	v.SetDefault("overrides.minimum_search_score", 0)
	v.SetDefault("overrides.retrieval_mode", "vectors")
	v.SetDefault("overrides.semantic_ranker", true)
	v.SetDefault("overrides.semantic_captions", false)
	v.SetDefault("overrides.query_rewriting", false)
	v.SetDefault("overrides.reasoning_effort", "")
	v.SetDefault("overrides.suggest_followup_questions", false)
	v.SetDefault("overrides.use_oid_security_filter", false)
	v.SetDefault("overrides.use_groups_security_filter", false)
	v.SetDefault("overrides.vector_fields", "textAndImageEmbeddings")
	v.SetDefault("overrides.use_gpt4v", false)
	v.SetDefault("overrides.gpt4v_input", "textAndImages")
	v.SetDefault("overrides.language", "ja")
	v.SetDefault("overrides.use_agentic_retrieval", false)

	v.SetDefault("persistence.backend", "none")
	v.SetDefault("persistence.database.driver", internal.DefaultDatabaseDriver)
	v.SetDefault("persistence.database.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("persistence.save_timeout", "10s")
	v.SetDefault("persistence.save_rate", 0)
	v.SetDefault("persistence.save_burst", 1)

	v.SetDefault("history.cache_enabled", true)
	v.SetDefault("history.cache_capacity", 64)
	v.SetDefault("history.cache_ttl_seconds", 300)

	v.SetDefault("messages.rate_limited", "Usage limit reached")
	v.SetDefault("messages.error_prefix", "An error occurred: ")
	v.SetDefault("messages.rate_limit_code", "rate_limit")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.enable_tracing", false)

	v.SetDefault("devserver.addr", internal.DefaultDevServerAddr)
	v.SetDefault("devserver.chunk_delay", "40ms")
}

// Load reads the config file (if any), applies env overrides and validates
// the result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file in the search path; defaults and env apply.
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ConfigFileUsed returns the path of the file that was read, if any.
func (l *Loader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

// Watch re-decodes the configuration whenever the config file is written and
// hands the result to onChange. Decode or validation failures are passed as
// err and the previous configuration stays in effect.
func (l *Loader) Watch(onChange func(cfg *Config, err error)) error {
	if l.v.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(l.decode())
	})
	l.v.WatchConfig()
	return nil
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
