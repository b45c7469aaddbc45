package archivist_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	archivist "github.com/orgarchivist/archivist/internal/domain/archivist"
)

type stubVectorStore struct {
	results []archivist.VectorSearchResult
}

func (s *stubVectorStore) Upsert(context.Context, []archivist.VectorPoint) error { return nil }

func (s *stubVectorStore) Search(_ context.Context, _ []float32, topK int, filter archivist.RetrievalFilters) ([]archivist.VectorSearchResult, error) {
	out := make([]archivist.VectorSearchResult, 0, len(s.results))
	for _, r := range s.results {
		if filter.DocIDEquals != "" && r.DocID != filter.DocIDEquals {
			continue
		}
		out = append(out, r)
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (s *stubVectorStore) Delete(context.Context, archivist.RetrievalFilters) error { return nil }
func (s *stubVectorStore) Count(context.Context) (int64, error)                    { return int64(len(s.results)), nil }
func (s *stubVectorStore) Info(context.Context) (archivist.VectorStoreInfo, error) {
	return archivist.VectorStoreInfo{PointCount: int64(len(s.results))}, nil
}
func (s *stubVectorStore) DocumentChunkCounts(context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)
	for _, r := range s.results {
		counts[r.DocID]++
	}
	return counts, nil
}

type stubBM25 struct {
	hits  []archivist.BM25Hit
	stale bool
}

func (b *stubBM25) Rebuild(context.Context, []archivist.ChunkTextRecord) error { b.stale = false; return nil }
func (b *stubBM25) Search(context.Context, string, int) ([]archivist.BM25Hit, error) {
	return b.hits, nil
}
func (b *stubBM25) MarkStale()   { b.stale = true }
func (b *stubBM25) IsStale() bool { return b.stale }

type stubEmbedder struct{ dim int }

func (e *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}
func (e *stubEmbedder) Dimension() int { return e.dim }

func newTestRetrievalConfig() archivist.RetrievalConfig {
	return archivist.RetrievalConfig{
		VectorWeight: 0.7, KeywordWeight: 0.3, RecencyWeight: 0,
		MaxPerDoc: 3, OversampleFactor: 4, MinSimilarityThreshold: 0,
	}
}

func TestRetrieveFusesVectorAndBM25Scores(t *testing.T) {
	vs := &stubVectorStore{results: []archivist.VectorSearchResult{
		{ChunkID: "c1", DocID: "d1", Score: 1.0, ChunkIndex: 0},
		{ChunkID: "c2", DocID: "d2", Score: 0.5, ChunkIndex: 0},
	}}
	bm := &stubBM25{hits: []archivist.BM25Hit{
		{ChunkID: "c1", Score: 10},
		{ChunkID: "c2", Score: 5},
	}}
	svc := archivist.NewRetrievalService(&stubEmbedder{dim: 4}, vs, bm, nil, nil, nil, newTestRetrievalConfig(), newTestLogger())

	results, err := svc.Retrieve(context.Background(), archivist.RetrieveRequest{Query: "grant report", TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// c1: 0.7*1.0 + 0.3*(10/10) = 1.0; c2: 0.7*0.5 + 0.3*(5/10) = 0.5. c1 must sort first.
	require.Equal(t, "c1", results[0].ChunkID)
	require.InDelta(t, 1.0, results[0].Score, 1e-9)
	require.Equal(t, "c2", results[1].ChunkID)
	require.InDelta(t, 0.5, results[1].Score, 1e-9)
}

func TestRetrieveDiversifiesPerDocument(t *testing.T) {
	vs := &stubVectorStore{results: []archivist.VectorSearchResult{
		{ChunkID: "a1", DocID: "docA", Score: 0.9, ChunkIndex: 0},
		{ChunkID: "a2", DocID: "docA", Score: 0.8, ChunkIndex: 1},
		{ChunkID: "a3", DocID: "docA", Score: 0.7, ChunkIndex: 2},
		{ChunkID: "a4", DocID: "docA", Score: 0.6, ChunkIndex: 3},
		{ChunkID: "b1", DocID: "docB", Score: 0.5, ChunkIndex: 0},
	}}
	cfg := newTestRetrievalConfig()
	cfg.MaxPerDoc = 2
	svc := archivist.NewRetrievalService(&stubEmbedder{dim: 4}, vs, nil, nil, nil, nil, cfg, newTestLogger())

	results, err := svc.Retrieve(context.Background(), archivist.RetrieveRequest{Query: "q", TopK: 10})
	require.NoError(t, err)

	perDoc := map[string]int{}
	for _, r := range results {
		perDoc[r.DocID]++
	}
	require.LessOrEqual(t, perDoc["docA"], 2)
}

func TestRetrieveClampsTopKToRange(t *testing.T) {
	vs := &stubVectorStore{}
	svc := archivist.NewRetrievalService(&stubEmbedder{dim: 4}, vs, nil, nil, nil, nil, newTestRetrievalConfig(), newTestLogger())

	_, err := svc.Retrieve(context.Background(), archivist.RetrieveRequest{Query: "q", TopK: 0})
	require.NoError(t, err)
	_, err = svc.Retrieve(context.Background(), archivist.RetrieveRequest{Query: "q", TopK: 999})
	require.NoError(t, err)
}

func TestRetrieveAppliesRecencyWeightTowardNewerDocuments(t *testing.T) {
	currentYear := time.Now().Year()
	vs := &stubVectorStore{results: []archivist.VectorSearchResult{
		{ChunkID: "old", DocID: "d1", Score: 0.8, Year: currentYear - 5, ChunkIndex: 0},
		{ChunkID: "new", DocID: "d2", Score: 0.8, Year: currentYear, ChunkIndex: 0},
	}}
	cfg := newTestRetrievalConfig()
	cfg.RecencyWeight = 0.5
	svc := archivist.NewRetrievalService(&stubEmbedder{dim: 4}, vs, nil, nil, nil, nil, cfg, newTestLogger())

	results, err := svc.Retrieve(context.Background(), archivist.RetrieveRequest{Query: "q", TopK: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "new", results[0].ChunkID, "a more recent document with equal fused score should rank higher")
}

func TestRetrieveServesFromCacheOnRepeatQuery(t *testing.T) {
	vs := &stubVectorStore{results: []archivist.VectorSearchResult{{ChunkID: "c1", DocID: "d1", Score: 0.9}}}
	cache := newFakeCache()
	svc := archivist.NewRetrievalService(&stubEmbedder{dim: 4}, vs, nil, nil, cache, nil, newTestRetrievalConfig(), newTestLogger())
	ctx := context.Background()
	req := archivist.RetrieveRequest{Query: "repeat me", TopK: 3}

	first, err := svc.Retrieve(ctx, req)
	require.NoError(t, err)

	// Mutate the backing store; a cache hit must still return the original result set.
	vs.results = nil
	second, err := svc.Retrieve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

type fakeCache struct {
	entries map[string]archivist.CacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]archivist.CacheEntry)}
}

func (c *fakeCache) Get(_ context.Context, key string) (archivist.CacheEntry, bool) {
	e, ok := c.entries[key]
	return e, ok
}
func (c *fakeCache) Put(_ context.Context, key string, entry archivist.CacheEntry, _ time.Duration) {
	c.entries[key] = entry
}
func (c *fakeCache) InvalidateAll(context.Context) { c.entries = make(map[string]archivist.CacheEntry) }
func (c *fakeCache) Stats() archivist.CacheStats   { return archivist.CacheStats{Size: len(c.entries)} }
