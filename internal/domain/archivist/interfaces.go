package archivist

import (
	"context"
	"time"
)

// VectorPoint is a single embedding-bearing record as C1 stores it.
type VectorPoint struct {
	ChunkID  string
	DocID    string
	Vector   []float32
	Text     string
	DocType  DocType
	Year     int
	Outcome  Outcome
	Programs []string
	Tags     []string
	Filename string
	ChunkIndex int
}

// VectorSearchResult is a single hit returned by C1 search, cosine score in [0,1].
type VectorSearchResult struct {
	ChunkID     string
	DocID       string
	Text        string
	Score       float64
	DocType     DocType
	Year        int
	Outcome     Outcome
	Programs    []string
	Tags        []string
	Filename    string
	ChunkIndex  int
}

// VectorStoreInfo carries diagnostics returned by C1 info().
type VectorStoreInfo struct {
	PointCount int64
	Dimension  int
}

// VectorStore is C1: persist/search chunk embeddings with metadata filter pushdown.
type VectorStore interface {
	Upsert(ctx context.Context, points []VectorPoint) error
	Search(ctx context.Context, queryVector []float32, topK int, filter RetrievalFilters) ([]VectorSearchResult, error)
	Delete(ctx context.Context, filter RetrievalFilters) error
	Count(ctx context.Context) (int64, error)
	Info(ctx context.Context) (VectorStoreInfo, error)
	// DocumentChunkCounts returns, for every doc_id with at least one persisted point, the
	// number of points stored under it. Reconcile uses this to find vector-store orphans
	// left by a crash between §4.7 steps 7 and 8.
	DocumentChunkCounts(ctx context.Context) (map[string]int64, error)
}

// DocumentListFilter drives C2's list_documents query.
type DocumentListFilter struct {
	DocTypes []DocType
	Years    []int
	Outcomes []Outcome
	Programs []string
	Offset   int
	Limit    int
}

// ChunkTextRecord is a single row of C2's get_all_chunks_text_by_id(), used for BM25 rebuild.
type ChunkTextRecord struct {
	ChunkID  string
	DocID    string
	Text     string
	DocType  DocType
	Year     int
	Outcome  Outcome
	Programs []string
	Tags     []string
	Filename string
}

// RelationalStore is C2: typed CRUD for every entity in spec.md §3 plus the queries the
// retrieval engine and BM25 index need.
type RelationalStore interface {
	InsertDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, docID string) (Document, bool, error)
	UpdateDocumentMetadata(ctx context.Context, doc Document) error
	DeleteDocument(ctx context.Context, docID string) error
	ListDocuments(ctx context.Context, filter DocumentListFilter) ([]Document, error)
	GetAllChunksTextByID(ctx context.Context) ([]ChunkTextRecord, error)

	CreateProgram(ctx context.Context, p Program) (Program, error)
	GetProgram(ctx context.Context, programID string) (Program, bool, error)
	GetProgramByName(ctx context.Context, name string) (Program, bool, error)
	ListPrograms(ctx context.Context) ([]Program, error)
	UpdateProgram(ctx context.Context, p Program) error
	DeleteProgram(ctx context.Context, programID string, force bool) error
	DocumentsUsingProgram(ctx context.Context, name string) (int64, error)

	CreateConversation(ctx context.Context, c Conversation) (Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (Conversation, bool, error)
	UpdateConversationContext(ctx context.Context, conversationID string, ctxPatch ConversationContext) error
	DeleteConversation(ctx context.Context, conversationID string) error
	AppendMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)

	CreateOutput(ctx context.Context, o Output) (Output, error)
	GetOutput(ctx context.Context, outputID string) (Output, bool, error)
	UpdateOutput(ctx context.Context, o Output) error
	DeleteOutput(ctx context.Context, outputID string) error
	ListOutputs(ctx context.Context, createdBy string) ([]Output, error)

	CreateWritingStyle(ctx context.Context, s WritingStyle) (WritingStyle, error)
	GetWritingStyle(ctx context.Context, styleID string) (WritingStyle, bool, error)
	GetWritingStyleByName(ctx context.Context, name string) (WritingStyle, bool, error)
	ListWritingStyles(ctx context.Context) ([]WritingStyle, error)
	UpdateWritingStyle(ctx context.Context, s WritingStyle) error
	DeleteWritingStyle(ctx context.Context, styleID string) error
}

// Embedder is C3: batched text -> fixed-dimension vector mapping via an external provider.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// GenParams are the shared parameters for both LLM operations.
type GenParams struct {
	Model          string
	Temperature    float32
	MaxTokens      int
	TimeoutSeconds int
}

// GenResult is the full-text result of a non-streaming generation call.
type GenResult struct {
	Content      string
	PromptTokens int
	CompletionTokens int
	TotalTokens  int
}

// StreamEventType discriminates the sum type C4/C11 emit.
type StreamEventType string

const (
	EventSources StreamEventType = "sources"
	EventContent StreamEventType = "content"
	EventDone    StreamEventType = "done"
	EventError   StreamEventType = "error"
)

// StreamEvent is the typed sum-type event described in spec.md §9 ("Streaming as a typed
// event sequence"): exactly one of the payload fields is populated, discriminated by Type.
type StreamEvent struct {
	Type    StreamEventType
	Delta   string
	Sources []SourceRef
	Done    *DoneMetadata
	Err     error
}

// DoneMetadata carries the terminal usage/citation metadata of a generation call.
type DoneMetadata struct {
	TokensUsed      int
	Model           string
	ElapsedMillis   int64
	InvalidCitations int
}

// LLM is C4: invoke the external chat model, streaming and non-streaming, with retries.
type LLM interface {
	Generate(ctx context.Context, prompt string, params GenParams) (GenResult, error)
	GenerateStreaming(ctx context.Context, prompt string, params GenParams) (<-chan StreamEvent, error)
}

// Extractor is C5: byte stream + MIME hint -> normalized UTF-8 text.
type Extractor interface {
	Extract(ctx context.Context, content []byte, mimeHint string) (string, error)
}

// ChunkStrategy enumerates C6's splitting strategies.
type ChunkStrategy string

const (
	StrategySentence ChunkStrategy = "SENTENCE"
	StrategySemantic ChunkStrategy = "SEMANTIC"
	StrategyToken    ChunkStrategy = "TOKEN"
)

// ChunkingConfig drives C6.
type ChunkingConfig struct {
	TargetTokens  int
	OverlapTokens int
	Strategy      ChunkStrategy
}

// TextChunk is a single (chunk_index, text) pair produced by C6, in document order.
type TextChunk struct {
	ChunkIndex int
	Text       string
}

// Chunker is C6: split text into overlapping chunks by semantic boundaries.
type Chunker interface {
	Chunk(text string, cfg ChunkingConfig) []TextChunk
}

// BM25Hit is a single lexical match, carrying the same denormalized document metadata the
// index stores alongside each chunk's text so stage 3's client-side filter predicate
// (spec.md §4.9, the index has no filter pushdown) can be applied without a dense-result
// lookup.
type BM25Hit struct {
	ChunkID  string
	Score    float64
	DocID    string
	DocType  DocType
	Year     int
	Outcome  Outcome
	Programs []string
	Tags     []string
	Filename string
}

// BM25Index is C8: in-memory lexical index over every persisted chunk.
type BM25Index interface {
	Rebuild(ctx context.Context, records []ChunkTextRecord) error
	Search(ctx context.Context, query string, topK int) ([]BM25Hit, error)
	MarkStale()
	IsStale() bool
}

// CacheEntry is a stored retrieval result set keyed by a canonicalized query spec.
type CacheEntry struct {
	Results []RetrievedChunk
}

// Cache is C10: bounded LRU with per-entry TTL over retrieval results.
type Cache interface {
	Get(ctx context.Context, key string) (CacheEntry, bool)
	Put(ctx context.Context, key string, entry CacheEntry, ttl time.Duration)
	InvalidateAll(ctx context.Context)
	Stats() CacheStats
}

// CacheStats exposes C10's required metrics.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// RetrievedChunk is a single result of the C9 pipeline, carrying the debug bag spec.md §4.9
// requires for property verification.
type RetrievedChunk struct {
	ChunkID string
	DocID   string
	Text    string
	Score   float64
	DocType DocType
	Year    int
	Outcome Outcome
	Programs []string
	Tags    []string
	Filename string
	Debug   RetrievalDebug
}

// RetrievalDebug captures the per-candidate scoring breakdown spec.md §4.9 stage 8 requires.
type RetrievalDebug struct {
	VectorScore   float64
	BM25Score     float64
	FusedScore    float64
	AgeMultiplier float64
	Reranked      bool
	ChunkIndex    int
}

// RetrievalConfig holds C9's tunables, defaults per spec.md §4.9.
type RetrievalConfig struct {
	VectorWeight     float64
	KeywordWeight    float64
	RecencyWeight    float64
	MaxPerDoc        int
	EnableReranking  bool
	ExpandQuery      bool
	OversampleFactor int
	MinSimilarityThreshold float64
	// CacheTTL is C10's per-entry TTL (spec.md §4.10's "3600 s TTL" default); zero disables
	// expiry and falls back to pure LRU-capacity eviction.
	CacheTTL time.Duration
}

// ObjectStorage is the ambient raw-file archive C7 persists original bytes to before
// extraction, so a corrupt-parse failure is diagnosable without re-upload.
type ObjectStorage interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Reranker is the optional cross-encoder scoring call used by C9 stage 7.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RetrievedChunk) ([]RetrievedChunk, error)
}
