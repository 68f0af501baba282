package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Tickets   TicketsConfig   `yaml:"tickets" mapstructure:"tickets"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Analysis  AnalysisConfig  `yaml:"analysis" mapstructure:"analysis"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	LoginPath   string   `yaml:"login_path" mapstructure:"login_path"`
	LogoutPath  string   `yaml:"logout_path" mapstructure:"logout_path"`
	APIPrefix   string   `yaml:"api_prefix" mapstructure:"api_prefix"`
	CookieName  string   `yaml:"cookie_name" mapstructure:"cookie_name"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// TicketsConfig configures the upstream support-ticket API.
type TicketsConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// AnalysisConfig configures slug analysis runs.
type AnalysisConfig struct {
	MaxConcurrentSlugs int    `yaml:"max_concurrent_slugs" mapstructure:"max_concurrent_slugs"`
	KBSearchesPerSec   int    `yaml:"kb_searches_per_sec" mapstructure:"kb_searches_per_sec"`
	WatchSchedule      string `yaml:"watch_schedule" mapstructure:"watch_schedule"`
	MinTicketCount     int    `yaml:"min_ticket_count" mapstructure:"min_ticket_count"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SUPPORTLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.login_path", "/login")
	v.SetDefault("server.logout_path", "/logout")
	v.SetDefault("server.api_prefix", "/api/")
	v.SetDefault("server.cookie_name", "session")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("tickets.timeout_secs", 30)
	v.SetDefault("tickets.page_size", 100)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("analysis.max_concurrent_slugs", 3)
	v.SetDefault("analysis.kb_searches_per_sec", 2)
	v.SetDefault("analysis.watch_schedule", "0 2 * * *")
	v.SetDefault("analysis.min_ticket_count", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields a command needs are present and sane.
// mode is the command family: "serve", "analyze" or "watch".
func (c *Config) Validate(mode string) error {
	var missing []string

	checkDB := func() {
		switch c.Store.Driver {
		case "postgres":
			// SQLite falls back to a local file; Postgres has no sane default.
			if c.Store.DatabaseURL == "" {
				missing = append(missing, "store.database_url is required")
			}
		case "sqlite":
		default:
			missing = append(missing, "store.driver must be postgres or sqlite")
		}
	}
	checkAnalysis := func() {
		if c.Tickets.BaseURL == "" {
			missing = append(missing, "tickets.base_url is required")
		}
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key is required")
		}
		if c.Analysis.MaxConcurrentSlugs < 1 || c.Analysis.MaxConcurrentSlugs > 20 {
			missing = append(missing, "analysis.max_concurrent_slugs must be between 1 and 20")
		}
		if c.Analysis.KBSearchesPerSec < 1 {
			missing = append(missing, "analysis.kb_searches_per_sec must be >= 1")
		}
	}

	switch mode {
	case "serve":
		checkDB()
		if c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
		if c.Server.CookieName == "" {
			missing = append(missing, "server.cookie_name is required")
		}
	case "analyze":
		checkDB()
		checkAnalysis()
	case "watch":
		checkDB()
		checkAnalysis()
		if c.Analysis.WatchSchedule == "" {
			missing = append(missing, "analysis.watch_schedule is required")
		}
	case "store":
		checkDB()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
