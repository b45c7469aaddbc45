package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"

	archivist "github.com/orgarchivist/archivist/internal/domain/archivist"
	"github.com/orgarchivist/archivist/internal/domain/auth"
	"github.com/orgarchivist/archivist/internal/infra/archivist/bm25"
	archcache "github.com/orgarchivist/archivist/internal/infra/archivist/cache"
	"github.com/orgarchivist/archivist/internal/infra/archivist/chunker"
	"github.com/orgarchivist/archivist/internal/infra/archivist/embedder"
	"github.com/orgarchivist/archivist/internal/infra/archivist/extractor"
	archllm "github.com/orgarchivist/archivist/internal/infra/archivist/llm"
	"github.com/orgarchivist/archivist/internal/infra/archivist/relstore"
	"github.com/orgarchivist/archivist/internal/infra/archivist/storage"
	"github.com/orgarchivist/archivist/internal/infra/archivist/vectorstore"
	"github.com/orgarchivist/archivist/internal/infra/config"
	"github.com/orgarchivist/archivist/internal/infra/llm/chatgpt"
	"github.com/orgarchivist/archivist/internal/infra/userrepo"
)

func provideAuthConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		Secret:          cfg.Auth.JWTSecret,
		TokenTTL:        cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		Google: auth.GoogleConfig{
			ClientID:             cfg.Auth.Google.ClientID,
			ClientSecret:         cfg.Auth.Google.ClientSecret,
			RedirectURL:          cfg.Auth.Google.RedirectURL,
			TokenEncryptionKey:   cfg.Auth.Google.TokenEncryptionKey,
			PostLoginRedirectURL: cfg.Auth.Google.PostLoginRedirectURL,
		},
	}
}

func provideAuthRepository(cfg *config.Config, logger *slog.Logger) auth.Repository {
	fallback := userrepo.NewMemoryRepository()
	dsn := strings.TrimSpace(cfg.Auth.Postgres.DSN)
	if dsn == "" {
		logger.Info("auth postgres dsn not set, using memory repository")
		return fallback
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		logger.Error("invalid auth postgres dsn, using memory repository", "error", err)
		return fallback
	}
	if cfg.Auth.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = cfg.Auth.Postgres.MaxConns
	}
	if cfg.Auth.Postgres.MinConns > 0 {
		poolConfig.MinConns = cfg.Auth.Postgres.MinConns
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("failed to initialize auth postgres pool, using memory repository", "error", err)
		return fallback
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("auth postgres ping failed, using memory repository", "error", err)
		pool.Close()
		return fallback
	}
	logger.Info("auth postgres repository enabled")
	return userrepo.NewPostgresRepository(pool)
}

func provideChatGPTClient(cfg *config.Config) (*chatgpt.Client, error) {
	return chatgpt.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)
}

var (
	archivistPoolOnce sync.Once
	archivistPool     *pgxpool.Pool
)

// archivistPostgresPool lazily builds the single connection pool shared by the vector store and
// the relational store: both operate against the same archivist_chunk_vectors-backed database.
func archivistPostgresPool(cfg *config.Config, logger *slog.Logger) *pgxpool.Pool {
	archivistPoolOnce.Do(func() {
		dsn := strings.TrimSpace(cfg.Archivist.Postgres.DSN)
		if dsn == "" {
			logger.Info("archivist postgres dsn not set, using in-memory stores")
			return
		}
		poolConfig, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			logger.Error("invalid archivist postgres dsn, using in-memory stores", "error", err)
			return
		}
		registerPgVector(poolConfig, logger)
		if cfg.Archivist.Postgres.MaxConns > 0 {
			poolConfig.MaxConns = cfg.Archivist.Postgres.MaxConns
		}
		if cfg.Archivist.Postgres.MinConns > 0 {
			poolConfig.MinConns = cfg.Archivist.Postgres.MinConns
		}
		pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
		if err != nil {
			logger.Error("failed to initialize archivist postgres pool, using in-memory stores", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("archivist postgres ping failed, using in-memory stores", "error", err)
			pool.Close()
			return
		}
		logger.Info("archivist postgres pool enabled")
		archivistPool = pool
	})
	return archivistPool
}

func registerPgVector(poolConfig *pgxpool.Config, logger *slog.Logger) {
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var oid uint32
		if err := conn.QueryRow(ctx, "SELECT 'vector'::regtype::oid").Scan(&oid); err != nil {
			logger.Error("failed to lookup pgvector oid", "error", err)
			return err
		}
		conn.TypeMap().RegisterType(&pgtype.Type{
			Name:  "vector",
			OID:   oid,
			Codec: pgtype.TextCodec{},
		})
		return nil
	}
}

func provideVectorStore(cfg *config.Config, logger *slog.Logger) archivist.VectorStore {
	if pool := archivistPostgresPool(cfg, logger); pool != nil {
		return vectorstore.New(pool)
	}
	logger.Warn("vector store falling back to memory")
	return vectorstore.NewMemory()
}

func provideRelStore(cfg *config.Config, logger *slog.Logger) archivist.RelationalStore {
	if pool := archivistPostgresPool(cfg, logger); pool != nil {
		return relstore.New(pool)
	}
	logger.Warn("relational store falling back to memory")
	return relstore.NewMemory()
}

func provideEmbedder(client *chatgpt.Client, cfg *config.Config, logger *slog.Logger) archivist.Embedder {
	model := strings.TrimSpace(cfg.Archivist.Embedding.Model)
	if client != nil && model != "" {
		return embedder.NewChatGPTEmbedder(client, model, cfg.Archivist.Embedding.Dimension, cfg.Archivist.Ingestion.EmbedderRetries, logger)
	}
	logger.Warn("chatgpt client unavailable, using deterministic embedder")
	return embedder.NewDeterministicEmbedder(cfg.Archivist.Embedding.Dimension)
}

func provideLLM(client *chatgpt.Client, cfg *config.Config, logger *slog.Logger) archivist.LLM {
	return archllm.NewChatGPTLLM(client, cfg.Archivist.Generation.LLMRetries, logger)
}

func provideExtractor() archivist.Extractor {
	return extractor.New()
}

func provideChunker() archivist.Chunker {
	return chunker.New()
}

func provideChunkingConfig(cfg *config.Config) archivist.ChunkingConfig {
	return archivist.ChunkingConfig{
		TargetTokens:  cfg.Archivist.Chunking.TargetTokens,
		OverlapTokens: cfg.Archivist.Chunking.OverlapTokens,
		Strategy:      archivist.ChunkStrategy(cfg.Archivist.Chunking.Strategy),
	}
}

func provideBM25Index(logger *slog.Logger) archivist.BM25Index {
	idx, err := bm25.New()
	if err != nil {
		logger.Error("bm25 index init failed, lexical search disabled", "error", err)
		return nil
	}
	return idx
}

func provideCache(cfg *config.Config, logger *slog.Logger) archivist.Cache {
	if cfg.Archivist.Redis.Enabled {
		opt, err := buildValkeyOptions(cfg.Archivist.Redis.Addr)
		if err != nil {
			logger.Error("invalid valkey configuration, falling back to in-memory cache", "error", err)
			return archcache.New(cfg.Archivist.Cache.Capacity)
		}
		client, err := valkey.NewClient(opt)
		if err != nil {
			logger.Error("failed to create valkey client, falling back to in-memory cache", "error", err)
			return archcache.New(cfg.Archivist.Cache.Capacity)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
			logger.Error("valkey ping failed, falling back to in-memory cache", "error", err)
			return archcache.New(cfg.Archivist.Cache.Capacity)
		}
		logger.Info("archivist valkey cache enabled", "addr", cfg.Archivist.Redis.Addr)
		return archcache.NewValkey(client, "archivist:retrieval")
	}
	return archcache.New(cfg.Archivist.Cache.Capacity)
}

func provideObjectStorage(cfg *config.Config, logger *slog.Logger) archivist.ObjectStorage {
	endpoint := strings.TrimSpace(cfg.Archivist.Storage.Endpoint)
	accessKey := strings.TrimSpace(cfg.Archivist.Storage.AccessKey)
	secretKey := strings.TrimSpace(cfg.Archivist.Storage.SecretKey)
	bucket := strings.TrimSpace(cfg.Archivist.Storage.Bucket)
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		logger.Info("archivist object storage not configured, raw files will not be archived")
		return nil
	}
	store, err := storage.New(endpoint, accessKey, secretKey, bucket, cfg.Archivist.Storage.Region, logger)
	if err != nil {
		logger.Error("failed to initialize object storage, raw files will not be archived", "error", err)
		return nil
	}
	logger.Info("archivist object storage enabled", "endpoint", endpoint, "bucket", bucket)
	return store
}

func provideIngestionConfig(cfg *config.Config) archivist.IngestionConfig {
	return archivist.IngestionConfig{
		MaxFileSizeBytes: int64(cfg.Archivist.Ingestion.MaxFileMB) * 1024 * 1024,
		Timeout:          cfg.Archivist.Ingestion.Timeout,
	}
}

func provideRetrievalConfig(cfg *config.Config) archivist.RetrievalConfig {
	return archivist.RetrievalConfig{
		VectorWeight:           cfg.Archivist.Retrieval.VectorWeight,
		KeywordWeight:          cfg.Archivist.Retrieval.KeywordWeight,
		RecencyWeight:          cfg.Archivist.Retrieval.RecencyWeight,
		MaxPerDoc:              cfg.Archivist.Retrieval.MaxPerDoc,
		EnableReranking:        cfg.Archivist.Retrieval.EnableReranking,
		ExpandQuery:            cfg.Archivist.Retrieval.ExpandQuery,
		OversampleFactor:       cfg.Archivist.Retrieval.OversampleFactor,
		MinSimilarityThreshold: cfg.Archivist.Retrieval.MinSimilarityThreshold,
		CacheTTL:               cfg.Archivist.Cache.TTL,
	}
}

func provideGenerationConfig(cfg *config.Config) archivist.GenerationConfig {
	return archivist.GenerationConfig{
		Model:            cfg.Archivist.Generation.Model,
		TimeoutSeconds:   cfg.Archivist.Generation.TimeoutSeconds,
		DefaultMaxTokens: cfg.Archivist.Generation.DefaultMaxTokens,
	}
}

func provideStyleConfig(cfg *config.Config) archivist.StyleServiceConfig {
	return archivist.StyleServiceConfig{Model: cfg.Archivist.Style.Model}
}

// provideReranker always returns nil: no cross-encoder reranker is wired up, so
// RetrievalConfig.EnableReranking is inert until one is provided.
func provideReranker() archivist.Reranker {
	return nil
}

func buildValkeyOptions(addr string) (valkey.ClientOption, error) {
	var (
		opt valkey.ClientOption
		err error
	)
	addr = strings.TrimSpace(addr)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		return valkey.ClientOption{}, err
	}
	return opt, nil
}
