package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Model providers
	LLM LLMConfig `json:"llm"`

	// Rules
	Rules RulesConfig `json:"rules"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// AsyncWorkers is the number of bus subscribers processing queued
	// alerts. Zero disables asynchronous submission.
	AsyncWorkers int `json:"asyncWorkers"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	ReadTimeout  int      `json:"readTimeout"`  // seconds
	WriteTimeout int      `json:"writeTimeout"` // seconds
	CORSOrigins  []string `json:"corsOrigins"`  // empty or "*" allows any origin
}

// LLMConfig selects the provider for each report format.
type LLMConfig struct {
	// AnalysisProvider serves the JSON-mode risk analysis.
	AnalysisProvider string `json:"analysisProvider"`

	// NarrativeProvider serves the free-text SAR narrative.
	NarrativeProvider string `json:"narrativeProvider"`

	OpenAI ProviderConfig `json:"openai"`
	Gemini ProviderConfig `json:"gemini"`
}

// ProviderConfig holds settings for one model provider.
type ProviderConfig struct {
	APIKey      string        `json:"-"`
	Model       string        `json:"model"`
	BaseURL     string        `json:"baseUrl,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"maxTokens"`
	Timeout     time.Duration `json:"timeout"`
}

// RulesConfig holds rule engine settings.
type RulesConfig struct {
	// File is an optional YAML file with additional rules.
	File string `json:"file,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"` // OTLP gRPC endpoint
}

// Provider names.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// DefaultConfig returns the default configuration: in-memory cache,
// channel bus, and no report archive.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		LLM: LLMConfig{
			AnalysisProvider:  ProviderGemini,
			NarrativeProvider: ProviderOpenAI,
			OpenAI: ProviderConfig{
				Model:       "gpt-4o",
				Temperature: 0.2,
				MaxTokens:   1500,
				Timeout:     60 * time.Second,
			},
			Gemini: ProviderConfig{
				Model:   "gemini-2.5-flash",
				Timeout: 60 * time.Second,
			},
		},
		Repository: RepositoryConfig{
			Driver:     "",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			AnalysisTTL:  15 * time.Minute,
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		AsyncWorkers: 2,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}
