// Package config loads engine configuration from an optional YAML file
// (CONFIG_PATH) with RAGCORE_-prefixed environment overrides on top of
// documented defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/quillframe/ragcore/internal/rag"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// AuthConfig controls the bearer-token middleware.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	SkipAuth  bool   `mapstructure:"skip_auth"`
}

// ProviderConfig points at the remote embedding/generation service.
type ProviderConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	EmbedModel       string        `mapstructure:"embed_model"`
	GenerateModel    string        `mapstructure:"generate_model"`
	EmbedTimeout     time.Duration `mapstructure:"embed_timeout"`
	GenerateTimeout  time.Duration `mapstructure:"generate_timeout"`
}

// EmbeddingConfig tunes the caching embedding client.
type EmbeddingConfig struct {
	MaxRetries            int           `mapstructure:"max_retries"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	CacheDuration         time.Duration `mapstructure:"cache_duration"`
	CacheMaxBytes         int64         `mapstructure:"cache_max_bytes"`
}

// TracingConfig controls OTLP trace export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// SessionDefaults mirrors rag.SessionConfig for file/env loading.
type SessionDefaults struct {
	TTL                     time.Duration `mapstructure:"ttl"`
	MaxDocuments            int           `mapstructure:"max_documents"`
	MaxFileSizeBytes        int           `mapstructure:"max_file_size_bytes"`
	ChunkSize               int           `mapstructure:"chunk_size"`
	ChunkOverlap            int           `mapstructure:"chunk_overlap"`
	TopK                    int           `mapstructure:"top_k"`
	MinSimilarityScore      float32       `mapstructure:"min_similarity_score"`
	DefaultStrategy         string        `mapstructure:"default_strategy"`
	DefaultChunkingStrategy string        `mapstructure:"default_chunking_strategy"`
	MaxConcurrentEmbeddings int           `mapstructure:"max_concurrent_embeddings"`
}

// Config is the full engine configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Session   SessionDefaults `mapstructure:"session"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// Load reads configuration from CONFIG_PATH (if set), applies environment
// overrides (RAGCORE_SECTION_KEY), and fills in defaults.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RAGCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgPath := os.Getenv("CONFIG_PATH"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 2112)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.skip_auth", false)

	v.SetDefault("provider.base_url", "http://localhost:8090")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.embed_model", "text-embedding-004")
	v.SetDefault("provider.generate_model", "gemini-1.5-flash")
	v.SetDefault("provider.embed_timeout", 30*time.Second)
	v.SetDefault("provider.generate_timeout", 60*time.Second)

	v.SetDefault("embedding.max_retries", 3)
	v.SetDefault("embedding.max_concurrent_requests", 5)
	v.SetDefault("embedding.cache_duration", 30*time.Minute)
	v.SetDefault("embedding.cache_max_bytes", int64(64*1024*1024))

	v.SetDefault("session.ttl", 15*time.Minute)
	v.SetDefault("session.max_documents", 2)
	v.SetDefault("session.max_file_size_bytes", 100*1024)
	v.SetDefault("session.chunk_size", 512)
	v.SetDefault("session.chunk_overlap", 50)
	v.SetDefault("session.top_k", 5)
	v.SetDefault("session.min_similarity_score", 0.3)
	v.SetDefault("session.default_strategy", string(rag.StrategyDirect))
	v.SetDefault("session.default_chunking_strategy", string(rag.ChunkFixedSize))
	v.SetDefault("session.max_concurrent_embeddings", 5)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "ragcore")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
}

// SessionConfig converts the loaded defaults into the immutable per-session
// configuration, falling back to hard defaults for unset or invalid values.
func (c *Config) SessionConfig() rag.SessionConfig {
	sc := rag.DefaultSessionConfig()
	if c.Session.TTL > 0 {
		sc.SessionTTL = c.Session.TTL
	}
	if c.Session.MaxDocuments > 0 {
		sc.MaxDocuments = c.Session.MaxDocuments
	}
	if c.Session.MaxFileSizeBytes > 0 {
		sc.MaxFileSizeBytes = c.Session.MaxFileSizeBytes
	}
	if c.Session.ChunkSize > 0 {
		sc.ChunkSize = c.Session.ChunkSize
	}
	if c.Session.ChunkOverlap >= 0 {
		sc.ChunkOverlap = c.Session.ChunkOverlap
	}
	if c.Session.TopK > 0 {
		sc.TopK = c.Session.TopK
	}
	if c.Session.MinSimilarityScore > 0 {
		sc.MinSimilarityScore = c.Session.MinSimilarityScore
	}
	if s := rag.RetrievalStrategy(c.Session.DefaultStrategy); s.Valid() {
		sc.DefaultStrategy = s
	}
	if s := rag.ChunkingStrategy(c.Session.DefaultChunkingStrategy); s.Valid() {
		sc.DefaultChunkingStrategy = s
	}
	if c.Session.MaxConcurrentEmbeddings > 0 {
		sc.MaxConcurrentEmbeddings = c.Session.MaxConcurrentEmbeddings
	}
	return sc
}
