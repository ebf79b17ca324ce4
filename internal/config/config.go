// Package config loads Kestrel configuration from defaults, an optional
// kestrel.yaml, a .env file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// KESTREL_SERVER_PORT for server.port.
const EnvPrefix = "KESTREL"

// Load builds the configuration. configFile may be empty, in which case
// kestrel.yaml is looked up in the working directory and /etc/kestrel.
// A missing file is not an error; an unreadable one is.
func Load(configFile string) (*domain.Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, domain.DefaultConfig())

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("kestrel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kestrel")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider keys keep their conventional names.
	_ = v.BindEnv("llm.openai.api_key", "OPENAI_API_KEY", EnvPrefix+"_OPENAI_API_KEY")
	_ = v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY", EnvPrefix+"_GEMINI_API_KEY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.cors_origins", "")

	v.SetDefault("llm.analysis_provider", d.LLM.AnalysisProvider)
	v.SetDefault("llm.narrative_provider", d.LLM.NarrativeProvider)
	for name, p := range map[string]domain.ProviderConfig{"openai": d.LLM.OpenAI, "gemini": d.LLM.Gemini} {
		v.SetDefault("llm."+name+".model", p.Model)
		v.SetDefault("llm."+name+".base_url", p.BaseURL)
		v.SetDefault("llm."+name+".temperature", p.Temperature)
		v.SetDefault("llm."+name+".max_tokens", p.MaxTokens)
		v.SetDefault("llm."+name+".timeout", p.Timeout)
		v.SetDefault("llm."+name+".api_key", "")
	}

	v.SetDefault("rules.file", d.Rules.File)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", "localhost")
	v.SetDefault("repository.postgres_port", 5432)
	v.SetDefault("repository.postgres_user", "")
	v.SetDefault("repository.postgres_password", "")
	v.SetDefault("repository.postgres_db", "kestrel")
	v.SetDefault("repository.postgres_sslmode", "disable")
	v.SetDefault("repository.max_open_conns", 0)
	v.SetDefault("repository.max_idle_conns", 0)
	v.SetDefault("repository.conn_max_lifetime", 0)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.analysis_ttl", d.Cache.AnalysisTTL)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.two_phase", false)

	v.SetDefault("event_bus.type", d.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", "nats://localhost:4222")
	v.SetDefault("event_bus.nats_token", "")
	v.SetDefault("event_bus.nats_max_reconnects", 10)
	v.SetDefault("event_bus.nats_reconnect_wait", 2)
	v.SetDefault("event_bus.nats_queue_group", "")

	v.SetDefault("async_workers", d.AsyncWorkers)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.endpoint", "localhost:4317")
}

func fromViper(v *viper.Viper) *domain.Config {
	provider := func(name string) domain.ProviderConfig {
		prefix := "llm." + name + "."
		return domain.ProviderConfig{
			APIKey:      v.GetString(prefix + "api_key"),
			Model:       v.GetString(prefix + "model"),
			BaseURL:     v.GetString(prefix + "base_url"),
			Temperature: v.GetFloat64(prefix + "temperature"),
			MaxTokens:   v.GetInt(prefix + "max_tokens"),
			Timeout:     v.GetDuration(prefix + "timeout"),
		}
	}

	return &domain.Config{
		Server: domain.ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetInt("server.read_timeout"),
			WriteTimeout: v.GetInt("server.write_timeout"),
			CORSOrigins:  stringList(v.Get("server.cors_origins")),
		},
		LLM: domain.LLMConfig{
			AnalysisProvider:  strings.ToLower(v.GetString("llm.analysis_provider")),
			NarrativeProvider: strings.ToLower(v.GetString("llm.narrative_provider")),
			OpenAI:            provider("openai"),
			Gemini:            provider("gemini"),
		},
		Rules: domain.RulesConfig{
			File: v.GetString("rules.file"),
		},
		Repository: domain.RepositoryConfig{
			Driver:           v.GetString("repository.driver"),
			SQLitePath:       v.GetString("repository.sqlite_path"),
			PostgresHost:     v.GetString("repository.postgres_host"),
			PostgresPort:     v.GetInt("repository.postgres_port"),
			PostgresUser:     v.GetString("repository.postgres_user"),
			PostgresPassword: v.GetString("repository.postgres_password"),
			PostgresDB:       v.GetString("repository.postgres_db"),
			PostgresSSLMode:  v.GetString("repository.postgres_sslmode"),
			MaxOpenConns:     v.GetInt("repository.max_open_conns"),
			MaxIdleConns:     v.GetInt("repository.max_idle_conns"),
			ConnMaxLifetime:  v.GetDuration("repository.conn_max_lifetime"),
		},
		Cache: domain.CacheConfig{
			Type:           v.GetString("cache.type"),
			AnalysisTTL:    v.GetDuration("cache.analysis_ttl"),
			LocalMaxSize:   v.GetInt("cache.local_max_size"),
			LocalTTL:       v.GetDuration("cache.local_ttl"),
			RedisAddr:      v.GetString("cache.redis_addr"),
			RedisPassword:  v.GetString("cache.redis_password"),
			RedisDB:        v.GetInt("cache.redis_db"),
			EnableTwoPhase: v.GetBool("cache.two_phase"),
		},
		EventBus: domain.EventBusConfig{
			Type:              v.GetString("event_bus.type"),
			ChannelBufferSize: v.GetInt("event_bus.channel_buffer_size"),
			NATSUrl:           v.GetString("event_bus.nats_url"),
			NATSToken:         v.GetString("event_bus.nats_token"),
			NATSMaxReconnects: v.GetInt("event_bus.nats_max_reconnects"),
			NATSReconnectWait: v.GetInt("event_bus.nats_reconnect_wait"),
			NATSQueueGroup:    v.GetString("event_bus.nats_queue_group"),
		},
		AsyncWorkers: v.GetInt("async_workers"),
		Logging: domain.LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Tracing: domain.TracingConfig{
			Enabled:     v.GetBool("tracing.enabled"),
			ServiceName: v.GetString("tracing.service_name"),
			Endpoint:    v.GetString("tracing.endpoint"),
		},
	}
}

// stringList accepts a YAML list or a comma-separated string.
func stringList(raw any) []string {
	var parts []string
	switch val := raw.(type) {
	case string:
		parts = strings.Split(val, ",")
	case []string:
		parts = val
	case []any:
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the service cannot start with. Missing
// API keys are allowed; calls fail with ErrMissingAPIKey instead.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server port %d out of range", domain.ErrInvalidInput, cfg.Server.Port)
	}
	for _, p := range []string{cfg.LLM.AnalysisProvider, cfg.LLM.NarrativeProvider} {
		if p != domain.ProviderOpenAI && p != domain.ProviderGemini {
			return fmt.Errorf("%w: unknown model provider %q", domain.ErrInvalidInput, p)
		}
	}
	if cfg.AsyncWorkers < 0 {
		return fmt.Errorf("%w: async_workers must not be negative", domain.ErrInvalidInput)
	}
	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: invalid log level: %s", domain.ErrInvalidInput, level)
	}
}

// NewLogger builds the process logger. Format is "json" (default) or
// "text"; "console" is accepted as an alias for text.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "console":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("%w: invalid log format: %s", domain.ErrInvalidInput, cfg.Format)
	}

	return slog.New(handler), nil
}
