// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// Supported archive drivers.
const (
	ArchiveSQLite   = "sqlite"
	ArchivePostgres = "postgres"
	ArchiveMySQL    = "mysql"
)

const (
	defaultBaseURL     = "https://api.groq.com/openai/v1"
	defaultModel       = "llama-3.1-8b-instant"
	defaultGeminiModel = "gemini-2.0-flash"
)

// Config holds all application configuration.
type Config struct {
	Port                string
	LogLevel            string
	CORSOrigins         []string
	MaxRequestBodyBytes int64
	LLM                 LLMConfig
	Session             SessionConfig
	Context             ContextConfig
	Archive             ArchiveConfig
	ConversationLog     ConversationLogConfig
	RateLimit           RateLimitConfig
	Health              HealthConfig
}

// LLMConfig selects and tunes the chat-completion provider.
type LLMConfig struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int
	ToolsEnabled bool
	Timeout      time.Duration
}

// SessionConfig bounds the in-memory session store.
type SessionConfig struct {
	TTL         time.Duration
	MaxSessions int
}

// ContextConfig bounds the history sent upstream on each call.
type ContextConfig struct {
	MaxTokens int
	MaxTurns  int
}

// ArchiveConfig controls the optional transcript archive.
type ArchiveConfig struct {
	Driver        string
	DSN           string
	Retention     time.Duration
	SweepInterval time.Duration
}

// Enabled reports whether transcripts are archived.
func (a ArchiveConfig) Enabled() bool {
	return a.DSN != ""
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// RateLimitConfig is the per-client limit on conversation endpoints.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// HealthConfig controls the gRPC health service.
type HealthConfig struct {
	GRPCPort      string
	ProbeInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	provider := strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", ProviderOpenAI)))
	model := defaultModel
	if provider == ProviderGemini {
		model = defaultGeminiModel
	}

	apiKey := getEnv("GROQ_API_KEY", "")
	if key := getEnv("LLM_API_KEY", ""); key != "" {
		apiKey = key
	}

	cfg := &Config{
		Port:                getEnv("PORT", "3001"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "*")),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64*1024)),
		LLM: LLMConfig{
			Provider:     provider,
			APIKey:       apiKey,
			BaseURL:      getEnv("LLM_BASE_URL", defaultBaseURL),
			Model:        getEnv("LLM_MODEL", model),
			Temperature:  getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:    getEnvInt("LLM_MAX_TOKENS", 150),
			ToolsEnabled: getEnvBool("LLM_TOOLS_ENABLED", true),
			Timeout:      getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			TTL:         getEnvDuration("SESSION_TTL", 10*time.Minute),
			MaxSessions: getEnvInt("SESSION_MAX", 1000),
		},
		Context: ContextConfig{
			MaxTokens: getEnvInt("CONTEXT_MAX_TOKENS", 3000),
			MaxTurns:  getEnvInt("CONTEXT_MAX_TURNS", 40),
		},
		Archive: ArchiveConfig{
			Driver:        strings.ToLower(getEnv("ARCHIVE_DRIVER", ArchiveSQLite)),
			DSN:           getEnv("ARCHIVE_DSN", ""),
			Retention:     getEnvDuration("ARCHIVE_RETENTION", 7*24*time.Hour),
			SweepInterval: time.Hour,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:   getEnvBool("CONVERSATION_LOG_ENABLED", false),
			Dir:       getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			QueueSize: queueSize,
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Health: HealthConfig{
			GRPCPort:      getEnv("GRPC_HEALTH_PORT", ""),
			ProbeInterval: getEnvDuration("HEALTH_PROBE_INTERVAL", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
//
//nolint:gocyclo // Flat list of independent checks.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderLangChain, ProviderGemini:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY or GROQ_API_KEY must be set for provider %q", c.LLM.Provider)
		}
	case ProviderMock:
	default:
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX must be > 0")
	}
	if c.Context.MaxTokens <= 0 || c.Context.MaxTurns <= 0 {
		return fmt.Errorf("CONTEXT_MAX_TOKENS and CONTEXT_MAX_TURNS must be > 0")
	}
	switch c.Archive.Driver {
	case ArchiveSQLite, ArchivePostgres, ArchiveMySQL:
	default:
		return fmt.Errorf("ARCHIVE_DRIVER %q is not supported", c.Archive.Driver)
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
