// Package config loads catalogbridge settings from the environment and an
// optional YAML overlay file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider identifies an embedding or LLM backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderBedrock   Provider = "bedrock"
)

// GateConfig bounds access to one shared, rate-limited resource.
type GateConfig struct {
	Concurrency int
	QPS         float64
	Burst       int
}

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Embedding
	EmbedProvider  Provider
	EmbedModel     string
	EmbedDimension int

	// LLM
	LLMProvider     Provider
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Marketplace
	MarketplaceURL   string
	MarketplaceToken string
	Targets          []string

	// Resolution and publishing
	CandidateK        int
	MaxAttempts       int
	AccessoryTerms    []string
	AttributeDenylist []string

	// Timeouts per external call
	EmbedTimeout   time.Duration
	LLMTimeout     time.Duration
	SchemaTimeout  time.Duration
	PublishTimeout time.Duration

	// Shared-resource gates
	AIGate          GateConfig
	MarketplaceGate GateConfig

	// Batch processing
	Concurrency int

	// Logging. LogFile "-" disables the JSON log file.
	LogFile  string
	LogLevel slog.Level
}

// fileOverlay is the shape of the optional YAML config file. Only list-shaped
// settings live here; scalars stay in the environment.
type fileOverlay struct {
	Targets           []string `yaml:"targets"`
	AccessoryTerms    []string `yaml:"accessory_terms"`
	AttributeDenylist []string `yaml:"attribute_denylist"`
}

// Load reads configuration from environment variables. If CATALOGBRIDGE_CONFIG
// names a YAML file, its lists replace the environment values.
func Load() (Config, error) {
	cfg := Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "catalogbridge"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "catalog"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		EmbedProvider:  Provider(getEnv("CATALOGBRIDGE_EMBED_PROVIDER", string(ProviderOllama))),
		EmbedModel:     getEnv("CATALOGBRIDGE_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("CATALOGBRIDGE_EMBED_DIMENSION", 384),

		LLMProvider:     Provider(getEnv("CATALOGBRIDGE_LLM_PROVIDER", string(ProviderOllama))),
		LLMModel:        getEnv("CATALOGBRIDGE_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		MarketplaceURL:   getEnv("CATALOGBRIDGE_MARKETPLACE_URL", "https://api.mercadolibre.com/marketplace"),
		MarketplaceToken: getEnv("CATALOGBRIDGE_MARKETPLACE_TOKEN", ""),
		Targets:          splitList(getEnv("CATALOGBRIDGE_TARGETS", "CBT:MLM,CBT:MLB,CBT:MLC,CBT:MCO")),

		CandidateK:        getEnvInt("CATALOGBRIDGE_CANDIDATE_K", 10),
		MaxAttempts:       getEnvInt("CATALOGBRIDGE_MAX_ATTEMPTS", 3),
		AccessoryTerms:    splitList(getEnv("CATALOGBRIDGE_ACCESSORY_TERMS", "")),
		AttributeDenylist: splitList(getEnv("CATALOGBRIDGE_ATTRIBUTE_DENYLIST", "")),

		EmbedTimeout:   getEnvDuration("CATALOGBRIDGE_EMBED_TIMEOUT", 30*time.Second),
		LLMTimeout:     getEnvDuration("CATALOGBRIDGE_LLM_TIMEOUT", 60*time.Second),
		SchemaTimeout:  getEnvDuration("CATALOGBRIDGE_SCHEMA_TIMEOUT", 20*time.Second),
		PublishTimeout: getEnvDuration("CATALOGBRIDGE_PUBLISH_TIMEOUT", 45*time.Second),

		AIGate: GateConfig{
			Concurrency: getEnvInt("CATALOGBRIDGE_AI_CONCURRENCY", 4),
			QPS:         getEnvFloat("CATALOGBRIDGE_AI_QPS", 5),
			Burst:       getEnvInt("CATALOGBRIDGE_AI_BURST", 5),
		},
		MarketplaceGate: GateConfig{
			Concurrency: getEnvInt("CATALOGBRIDGE_MARKETPLACE_CONCURRENCY", 4),
			QPS:         getEnvFloat("CATALOGBRIDGE_MARKETPLACE_QPS", 8),
			Burst:       getEnvInt("CATALOGBRIDGE_MARKETPLACE_BURST", 8),
		},

		Concurrency: getEnvInt("CATALOGBRIDGE_CONCURRENCY", 4),

		LogFile:  getEnv("CATALOGBRIDGE_LOG_FILE", "/tmp/catalogbridge.log"),
		LogLevel: parseLogLevel(getEnv("CATALOGBRIDGE_LOG_LEVEL", "INFO")),
	}

	if path := os.Getenv("CATALOGBRIDGE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}

	if cfg.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("CATALOGBRIDGE_MAX_ATTEMPTS must be >= 1, got %d", cfg.MaxAttempts)
	}
	if cfg.CandidateK < 1 {
		return Config{}, fmt.Errorf("CATALOGBRIDGE_CANDIDATE_K must be >= 1, got %d", cfg.CandidateK)
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(overlay.Targets) > 0 {
		c.Targets = overlay.Targets
	}
	if len(overlay.AccessoryTerms) > 0 {
		c.AccessoryTerms = overlay.AccessoryTerms
	}
	if len(overlay.AttributeDenylist) > 0 {
		c.AttributeDenylist = overlay.AttributeDenylist
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
