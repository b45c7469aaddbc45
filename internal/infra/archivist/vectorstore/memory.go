package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
)

// Memory is an in-process VectorStore used in tests and as the no-database fallback.
type Memory struct {
	mu     sync.RWMutex
	points map[string]domain.VectorPoint
}

// NewMemory constructs the in-memory vector store.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]domain.VectorPoint)}
}

// Upsert replaces or inserts points by chunk id.
func (m *Memory) Upsert(_ context.Context, points []domain.VectorPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.ChunkID] = p
	}
	return nil
}

// Search returns the topK points ranked by cosine similarity, honoring filter.
func (m *Memory) Search(_ context.Context, queryVector []float32, topK int, filter domain.RetrievalFilters) ([]domain.VectorSearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []domain.VectorSearchResult
	for _, p := range m.points {
		if !matches(p, filter) {
			continue
		}
		results = append(results, domain.VectorSearchResult{
			ChunkID: p.ChunkID, DocID: p.DocID, Text: p.Text,
			Score: cosineSimilarity(queryVector, p.Vector),
			DocType: p.DocType, Year: p.Year, Outcome: p.Outcome,
			Programs: p.Programs, Tags: p.Tags, Filename: p.Filename, ChunkIndex: p.ChunkIndex,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes every point matching filter.
func (m *Memory) Delete(_ context.Context, filter domain.RetrievalFilters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if matches(p, filter) {
			delete(m.points, id)
		}
	}
	return nil
}

// Count reports the number of persisted points.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.points)), nil
}

// Info reports diagnostics: the total point count.
func (m *Memory) Info(ctx context.Context) (domain.VectorStoreInfo, error) {
	count, _ := m.Count(ctx)
	return domain.VectorStoreInfo{PointCount: count}, nil
}

// DocumentChunkCounts groups persisted points by doc_id for Reconcile's per-document scan.
func (m *Memory) DocumentChunkCounts(_ context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int64)
	for _, p := range m.points {
		counts[p.DocID]++
	}
	return counts, nil
}

func matches(p domain.VectorPoint, f domain.RetrievalFilters) bool {
	if f.DocIDEquals != "" {
		return p.DocID == f.DocIDEquals
	}
	if len(f.DocTypes) > 0 && !containsDocType(f.DocTypes, p.DocType) {
		return false
	}
	if f.YearMin != nil && p.Year < *f.YearMin {
		return false
	}
	if f.YearMax != nil && p.Year > *f.YearMax {
		return false
	}
	if len(f.Outcomes) > 0 && !containsOutcome(f.Outcomes, p.Outcome) {
		return false
	}
	if len(f.Programs) > 0 && !overlaps(f.Programs, p.Programs) {
		return false
	}
	if len(f.Tags) > 0 && !overlaps(f.Tags, p.Tags) {
		return false
	}
	for _, excluded := range f.ExcludeDocIDs {
		if p.DocID == excluded {
			return false
		}
	}
	return true
}

func containsDocType(list []domain.DocType, v domain.DocType) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsOutcome(list []domain.Outcome, v domain.Outcome) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func overlaps(want, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; ok {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

var _ domain.VectorStore = (*Memory)(nil)
