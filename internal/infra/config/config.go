package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config aggregates runtime configuration used across the service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
	Archivist ArchivistConfig `yaml:"archivist"`
}

// HTTPConfig controls server level behavior.
type HTTPConfig struct {
	Address        string          `yaml:"address"`
	ReadTimeout    time.Duration   `yaml:"readTimeout"`
	WriteTimeout   time.Duration   `yaml:"writeTimeout"`
	AllowedOrigins []string        `yaml:"allowedOrigins"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Retry          RetryConfig     `yaml:"retry"`
}

// RateLimitConfig drives the request limiting middleware.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requestsPerMinute"`
	Burst             int  `yaml:"burst"`
}

// RetryConfig configures best-effort retries for idempotent requests.
type RetryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxAttempts int           `yaml:"maxAttempts"`
	BaseBackoff time.Duration `yaml:"baseBackoff"`
	Exclude     []string      `yaml:"exclude"`
}

// LLMConfig contains ChatGPT/OpenAI settings shared by generation, style analysis and embedding calls.
// TODO : support other LLM providers and for different features, use different LLMs.
type LLMConfig struct {
	APIKey         string  `yaml:"apiKey"`
	BaseURL        string  `yaml:"baseUrl"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embeddingModel"`
	Temperature    float32 `yaml:"temperature"`
}

// AuthConfig controls authentication settings.
type AuthConfig struct {
	JWTSecret       string         `yaml:"jwtSecret"`
	AccessTokenTTL  time.Duration  `yaml:"accessTokenTtl"`
	RefreshTokenTTL time.Duration  `yaml:"refreshTokenTtl"`
	Postgres        PostgresConfig `yaml:"postgres"`
	Google          GoogleConfig   `yaml:"google"`
}

// GoogleConfig drives the optional Google sign-in flow.
type GoogleConfig struct {
	ClientID             string `yaml:"clientId"`
	ClientSecret         string `yaml:"clientSecret"`
	RedirectURL          string `yaml:"redirectUrl"`
	TokenEncryptionKey   string `yaml:"tokenEncryptionKey"`
	PostLoginRedirectURL string `yaml:"postLoginRedirectUrl"`
}

// ArchivistConfig drives ingestion, retrieval, generation, style analysis and conversation storage.
type ArchivistConfig struct {
	Postgres   PostgresConfig     `yaml:"postgres"`
	Redis      RedisConfig        `yaml:"redis"`
	Storage    ArchivistStorage   `yaml:"storage"`
	Ingestion  ArchivistIngestion `yaml:"ingestion"`
	Chunking   ArchivistChunking  `yaml:"chunking"`
	Retrieval  ArchivistRetrieval `yaml:"retrieval"`
	Cache      ArchivistCache     `yaml:"cache"`
	Generation ArchivistGenerate  `yaml:"generation"`
	Style      ArchivistStyle     `yaml:"style"`
	Embedding  ArchivistEmbedding `yaml:"embedding"`
}

// ArchivistStorage configures the object store holding original uploaded documents.
type ArchivistStorage struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
}

// ArchivistIngestion controls upload limits and embedding retry behavior.
type ArchivistIngestion struct {
	MaxFileMB       int           `yaml:"maxFileMb"`
	Timeout         time.Duration `yaml:"timeout"`
	EmbedderRetries int           `yaml:"embedderRetries"`
}

// ArchivistChunking controls default chunk shape and splitting strategy.
type ArchivistChunking struct {
	TargetTokens  int    `yaml:"targetTokens"`
	OverlapTokens int    `yaml:"overlapTokens"`
	Strategy      string `yaml:"strategy"`
}

// ArchivistRetrieval controls hybrid fusion weights and retrieval behavior toggles.
type ArchivistRetrieval struct {
	VectorWeight           float64 `yaml:"vectorWeight"`
	KeywordWeight          float64 `yaml:"keywordWeight"`
	RecencyWeight          float64 `yaml:"recencyWeight"`
	MaxPerDoc              int     `yaml:"maxPerDoc"`
	EnableReranking        bool    `yaml:"enableReranking"`
	ExpandQuery            bool    `yaml:"expandQuery"`
	OversampleFactor       int     `yaml:"oversampleFactor"`
	MinSimilarityThreshold float64 `yaml:"minSimilarityThreshold"`
}

// ArchivistCache controls the bounded LRU capacity/TTL and optional Valkey tier.
type ArchivistCache struct {
	Capacity int           `yaml:"capacity"`
	TTL      time.Duration `yaml:"ttl"`
}

// ArchivistGenerate controls completion settings for answer generation.
type ArchivistGenerate struct {
	Model            string `yaml:"model"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds"`
	DefaultMaxTokens int    `yaml:"defaultMaxTokens"`
	LLMRetries       int    `yaml:"llmRetries"`
}

// ArchivistStyle controls the style-analysis model.
type ArchivistStyle struct {
	Model string `yaml:"model"`
}

// ArchivistEmbedding controls the embedding model and its vector dimension.
type ArchivistEmbedding struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// RedisConfig contains connection information for cache storage.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// PostgresConfig contains DSN and pooling settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	MinConns int32  `yaml:"minConns"`
}

// Load reads configuration from a YAML file and environment variables.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := hydrateFromFile(cfg, path); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := hydrateFromFile(cfg, "configs/config.yaml"); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func hydrateFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("HTTP_READ_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.ReadTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_WRITE_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.WriteTimeout = parsed
		}
	}
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_EMBEDDING_MODEL"); v != "" {
		cfg.LLM.EmbeddingModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 32); err == nil {
			cfg.LLM.Temperature = float32(parsed)
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("AUTH_ACCESS_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.AccessTokenTTL = parsed
		}
	}
	if v := os.Getenv("AUTH_REFRESH_TOKEN_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Auth.RefreshTokenTTL = parsed
		}
	}
	if v := os.Getenv("AUTH_POSTGRES_DSN"); v != "" {
		cfg.Auth.Postgres.DSN = v
	}
	if v := os.Getenv("AUTH_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Auth.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("AUTH_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Auth.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("AUTH_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.Google.ClientID = v
	}
	if v := os.Getenv("AUTH_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.Google.ClientSecret = v
	}
	if v := os.Getenv("AUTH_GOOGLE_REDIRECT_URL"); v != "" {
		cfg.Auth.Google.RedirectURL = v
	}
	if v := os.Getenv("AUTH_GOOGLE_TOKEN_ENCRYPTION_KEY"); v != "" {
		cfg.Auth.Google.TokenEncryptionKey = v
	}
	if v := os.Getenv("AUTH_GOOGLE_POST_LOGIN_REDIRECT_URL"); v != "" {
		cfg.Auth.Google.PostLoginRedirectURL = v
	}
	if v := os.Getenv("ARCHIVIST_POSTGRES_DSN"); v != "" {
		cfg.Archivist.Postgres.DSN = v
	}
	if v := os.Getenv("ARCHIVIST_POSTGRES_MAX_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Postgres.MaxConns = int32(parsed)
		}
	}
	if v := os.Getenv("ARCHIVIST_POSTGRES_MIN_CONNS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Postgres.MinConns = int32(parsed)
		}
	}
	if v := os.Getenv("ARCHIVIST_REDIS_ENABLED"); v != "" {
		cfg.Archivist.Redis.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ARCHIVIST_REDIS_ADDR"); v != "" {
		cfg.Archivist.Redis.Addr = v
	}
	if v := os.Getenv("ARCHIVIST_STORAGE_ENDPOINT"); v != "" {
		cfg.Archivist.Storage.Endpoint = v
	}
	if v := os.Getenv("ARCHIVIST_STORAGE_ACCESS_KEY"); v != "" {
		cfg.Archivist.Storage.AccessKey = v
	}
	if v := os.Getenv("ARCHIVIST_STORAGE_SECRET_KEY"); v != "" {
		cfg.Archivist.Storage.SecretKey = v
	}
	if v := os.Getenv("ARCHIVIST_STORAGE_BUCKET"); v != "" {
		cfg.Archivist.Storage.Bucket = v
	}
	if v := os.Getenv("ARCHIVIST_STORAGE_REGION"); v != "" {
		cfg.Archivist.Storage.Region = v
	}
	if v := os.Getenv("ARCHIVIST_MAX_FILE_MB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Ingestion.MaxFileMB = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_INGEST_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Archivist.Ingestion.Timeout = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_EMBEDDER_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Ingestion.EmbedderRetries = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_CHUNK_TARGET_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Chunking.TargetTokens = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_CHUNK_OVERLAP_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Chunking.OverlapTokens = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_CHUNK_STRATEGY"); v != "" {
		cfg.Archivist.Chunking.Strategy = v
	}
	if v := os.Getenv("ARCHIVIST_VECTOR_WEIGHT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Archivist.Retrieval.VectorWeight = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_KEYWORD_WEIGHT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Archivist.Retrieval.KeywordWeight = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_RECENCY_WEIGHT"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Archivist.Retrieval.RecencyWeight = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_MAX_PER_DOC"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Retrieval.MaxPerDoc = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_ENABLE_RERANKING"); v != "" {
		cfg.Archivist.Retrieval.EnableReranking = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ARCHIVIST_EXPAND_QUERY"); v != "" {
		cfg.Archivist.Retrieval.ExpandQuery = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ARCHIVIST_OVERSAMPLE_FACTOR"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Retrieval.OversampleFactor = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_MIN_SIMILARITY_THRESHOLD"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Archivist.Retrieval.MinSimilarityThreshold = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_CACHE_CAPACITY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Cache.Capacity = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_CACHE_TTL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Archivist.Cache.TTL = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_GENERATION_MODEL"); v != "" {
		cfg.Archivist.Generation.Model = v
	}
	if v := os.Getenv("ARCHIVIST_GENERATION_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Generation.TimeoutSeconds = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_GENERATION_MAX_TOKENS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Generation.DefaultMaxTokens = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_GENERATION_LLM_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Generation.LLMRetries = parsed
		}
	}
	if v := os.Getenv("ARCHIVIST_STYLE_MODEL"); v != "" {
		cfg.Archivist.Style.Model = v
	}
	if v := os.Getenv("ARCHIVIST_EMBEDDING_MODEL"); v != "" {
		cfg.Archivist.Embedding.Model = v
	}
	if v := os.Getenv("ARCHIVIST_EMBEDDING_DIMENSION"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Archivist.Embedding.Dimension = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_ENABLED"); v != "" {
		cfg.HTTP.RateLimit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_RPM"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v := os.Getenv("HTTP_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.RateLimit.Burst = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_ENABLED"); v != "" {
		cfg.HTTP.Retry.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("HTTP_RETRY_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Retry.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("HTTP_RETRY_BASE_BACKOFF"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.HTTP.Retry.BaseBackoff = parsed
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address: ":8080",
			AllowedOrigins: []string{
				"*",
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             20,
			},
			Retry: RetryConfig{
				Enabled:     true,
				MaxAttempts: 3,
				BaseBackoff: 150 * time.Millisecond,
				Exclude: []string{
					"/api/v1/archivist/generate/stream",
					"/api/v1/archivist/conversations/chat",
					"/api/v1/auth/login",
					"/api/v1/auth/register",
					"/api/v1/auth/refresh",
					"/api/v1/archivist/documents",
				},
			},
		},
		LLM: LLMConfig{
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.2,
		},
		Auth: AuthConfig{
			AccessTokenTTL:  time.Hour,
			RefreshTokenTTL: 24 * time.Hour,
			Postgres: PostgresConfig{
				DSN:      "",
				MaxConns: 5,
				MinConns: 1,
			},
		},
		Archivist: ArchivistConfig{
			Postgres: PostgresConfig{
				DSN:      "",
				MaxConns: 10,
				MinConns: 2,
			},
			Redis: RedisConfig{
				Enabled: false,
				Addr:    "",
			},
			Ingestion: ArchivistIngestion{
				MaxFileMB:       25,
				Timeout:         60 * time.Second,
				EmbedderRetries: 3,
			},
			Chunking: ArchivistChunking{
				TargetTokens:  512,
				OverlapTokens: 64,
				Strategy:      "SENTENCE",
			},
			Retrieval: ArchivistRetrieval{
				VectorWeight:           0.7,
				KeywordWeight:          0.3,
				RecencyWeight:          0.7,
				MaxPerDoc:              3,
				EnableReranking:        false,
				ExpandQuery:            true,
				OversampleFactor:       4,
				MinSimilarityThreshold: 0,
			},
			Cache: ArchivistCache{
				Capacity: 1000,
				TTL:      time.Hour,
			},
			Generation: ArchivistGenerate{
				Model:            "gpt-4o-mini",
				TimeoutSeconds:   60,
				DefaultMaxTokens: 1200,
				LLMRetries:       3,
			},
			Style: ArchivistStyle{
				Model: "gpt-4o-mini",
			},
			Embedding: ArchivistEmbedding{
				Model:     "text-embedding-3-small",
				Dimension: 1536,
			},
		},
	}
}

// Validate ensures the configuration is safe to use.
func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address cannot be empty")
	}
	if strings.TrimSpace(c.LLM.EmbeddingModel) == "" {
		return errors.New("llm.embeddingModel cannot be empty")
	}
	if c.HTTP.RateLimit.Enabled {
		if c.HTTP.RateLimit.RequestsPerMinute <= 0 {
			return errors.New("http.rateLimit.requestsPerMinute must be positive")
		}
		if c.HTTP.RateLimit.Burst <= 0 {
			return errors.New("http.rateLimit.burst must be positive")
		}
	}
	if c.HTTP.Retry.Enabled {
		if c.HTTP.Retry.MaxAttempts <= 0 {
			return errors.New("http.retry.maxAttempts must be positive")
		}
		if c.HTTP.Retry.BaseBackoff <= 0 {
			return errors.New("http.retry.baseBackoff must be positive")
		}
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret cannot be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("auth.accessTokenTtl must be positive")
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("auth.refreshTokenTtl must be positive")
	}
	if c.Archivist.Ingestion.MaxFileMB <= 0 {
		return errors.New("archivist.ingestion.maxFileMb must be positive")
	}
	if c.Archivist.Chunking.TargetTokens <= 0 {
		return errors.New("archivist.chunking.targetTokens must be positive")
	}
	if c.Archivist.Chunking.OverlapTokens < 0 {
		return errors.New("archivist.chunking.overlapTokens cannot be negative")
	}
	if c.Archivist.Retrieval.MaxPerDoc <= 0 {
		return errors.New("archivist.retrieval.maxPerDoc must be positive")
	}
	if c.Archivist.Retrieval.OversampleFactor <= 0 {
		return errors.New("archivist.retrieval.oversampleFactor must be positive")
	}
	if c.Archivist.Cache.Capacity <= 0 {
		return errors.New("archivist.cache.capacity must be positive")
	}
	if c.Archivist.Embedding.Dimension <= 0 {
		return errors.New("archivist.embedding.dimension must be positive")
	}
	if c.Archivist.Redis.Enabled && strings.TrimSpace(c.Archivist.Redis.Addr) == "" {
		return errors.New("archivist.redis.addr cannot be empty when archivist.redis is enabled")
	}
	return nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var result []string
	for _, part := range parts {
		val := strings.TrimSpace(part)
		if val != "" {
			result = append(result, val)
		}
	}
	return result
}
