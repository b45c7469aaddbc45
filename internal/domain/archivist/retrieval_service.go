package archivist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	apperrors "github.com/orgarchivist/archivist/pkg/errors"
)

// domainAbbreviations is the static expansion map stage 1 uses; entries are illustrative of
// the nonprofit-grant domain spec.md §4.9 describes.
var domainAbbreviations = map[string]string{
	"RFP":   "request for proposal",
	"LOI":   "letter of intent",
	"YTD":   "year to date",
	"KPI":   "key performance indicator",
	"ED":    "executive director",
	"501c3": "nonprofit tax-exempt organization",
}

// domainAbbreviationOrder fixes iteration order over domainAbbreviations so query expansion
// is deterministic across calls (map iteration order is not), per spec.md §4.9's ordering
// guarantee and testable property 3.
var domainAbbreviationOrder = []string{"RFP", "LOI", "YTD", "KPI", "ED", "501c3"}

// RetrieveRequest is C9's input per spec.md §4.9.
type RetrieveRequest struct {
	Query                 string
	TopK                  int
	Filters               RetrievalFilters
	RecencyWeightOverride *float64
}

// RetrievalService is C9: hybrid scoring, filtering, recency, diversification, rerank.
type RetrievalService struct {
	embedder Embedder
	vectors  VectorStore
	bm25     BM25Index
	store    RelationalStore
	cache    Cache
	reranker Reranker
	cfg      RetrievalConfig
	logger   *slog.Logger

	currentYear func() int
}

// NewRetrievalService constructs C9.
func NewRetrievalService(embedder Embedder, vectors VectorStore, bm25 BM25Index, store RelationalStore, cache Cache, reranker Reranker, cfg RetrievalConfig, logger *slog.Logger) *RetrievalService {
	return &RetrievalService{
		embedder: embedder,
		vectors:  vectors,
		bm25:     bm25,
		store:    store,
		cache:    cache,
		reranker: reranker,
		cfg:      cfg,
		logger:   logger.With("component", "archivist.retrieval"),
		currentYear: func() int { return time.Now().Year() },
	}
}

// Retrieve runs the full 8-stage pipeline described in spec.md §4.9, consulting C10 first.
func (s *RetrievalService) Retrieve(ctx context.Context, req RetrieveRequest) ([]RetrievedChunk, error) {
	if req.TopK <= 0 {
		req.TopK = 5
	}
	if req.TopK > 20 {
		req.TopK = 20
	}

	key := cacheKey(req)
	if s.cache != nil {
		if entry, ok := s.cache.Get(ctx, key); ok {
			return entry.Results, nil
		}
	}

	s.ensureBM25Fresh(ctx)

	// Stage 1: query preprocessing.
	compoundQuery := expandQuery(req.Query, s.cfg.ExpandQuery)

	oversample := s.cfg.OversampleFactor
	if oversample <= 0 {
		oversample = 4
	}
	candidateK := oversample * req.TopK

	// Stage 2: dense candidate retrieval.
	queryVectors, err := s.embedder.Embed(ctx, []string{compoundQuery})
	if err != nil || len(queryVectors) == 0 {
		return nil, apperrors.Wrap(CodeRetrievalUnavailable, "query embedding failed", err)
	}
	denseHits, err := s.vectors.Search(ctx, queryVectors[0], candidateK, req.Filters)
	if err != nil {
		return nil, apperrors.Wrap(CodeRetrievalUnavailable, "vector search failed", err)
	}

	// Stage 3: lexical candidate retrieval; degrades to vector-only on failure.
	var lexicalHits []BM25Hit
	if s.bm25 != nil {
		hits, err := s.bm25.Search(ctx, compoundQuery, candidateK)
		if err != nil {
			s.logger.Warn("bm25 search failed, degrading to vector-only", "error", err)
		} else {
			lexicalHits = s.filterLexical(hits, req.Filters)
		}
	}

	// Stage 4: normalize and fuse.
	fused := s.fuse(denseHits, lexicalHits)

	// Stage 5: recency weighting.
	weight := s.cfg.RecencyWeight
	if req.RecencyWeightOverride != nil {
		weight = *req.RecencyWeightOverride
	}
	s.applyRecency(fused, weight)

	// Stage 6: per-document diversification.
	maxPerDoc := s.cfg.MaxPerDoc
	if maxPerDoc <= 0 {
		maxPerDoc = 3
	}
	diversified := diversify(fused, maxPerDoc)

	// Stage 7: optional reranking.
	if s.cfg.EnableReranking && s.reranker != nil && len(diversified) > 0 {
		reranked, err := s.reranker.Rerank(ctx, req.Query, diversified)
		if err != nil {
			s.logger.Warn("rerank failed, keeping fused order", "error", err)
		} else {
			for i := range reranked {
				reranked[i].Debug.Reranked = true
			}
			diversified = diversify(reranked, maxPerDoc)
		}
	}

	// Stage 8: top-k selection.
	sort.SliceStable(diversified, func(i, j int) bool {
		return diversified[i].Score > diversified[j].Score
	})
	if len(diversified) > req.TopK {
		diversified = diversified[:req.TopK]
	}

	if s.cache != nil {
		s.cache.Put(ctx, key, CacheEntry{Results: diversified}, s.cfg.CacheTTL)
	}

	return diversified, nil
}

func (s *RetrievalService) ensureBM25Fresh(ctx context.Context) {
	if s.bm25 == nil || !s.bm25.IsStale() {
		return
	}
	records, err := s.store.GetAllChunksTextByID(ctx)
	if err != nil {
		s.logger.Warn("bm25 rebuild: failed to load chunk records", "error", err)
		return
	}
	if err := s.bm25.Rebuild(ctx, records); err != nil {
		s.logger.Warn("bm25 rebuild failed", "error", err)
	}
}

// filterLexical implements spec.md §4.9 stage 3's client-side filter: the BM25 index has no
// filter pushdown, so every hit is tested against the same metadata predicate dense search
// pushes down, using the denormalized metadata the index stores alongside each chunk
// (see bm25.hitToBM25Hit) rather than relying on overlap with the dense result set.
func (s *RetrievalService) filterLexical(hits []BM25Hit, filters RetrievalFilters) []BM25Hit {
	out := make([]BM25Hit, 0, len(hits))
	for _, h := range hits {
		if matchesFilter(h.DocID, h.DocType, h.Year, h.Outcome, h.Programs, h.Tags, filters) {
			out = append(out, h)
		}
	}
	return out
}

func matchesFilter(docID string, docType DocType, year int, outcome Outcome, programs, tags []string, f RetrievalFilters) bool {
	if f.DocIDEquals != "" && docID != f.DocIDEquals {
		return false
	}
	for _, ex := range f.ExcludeDocIDs {
		if ex == docID {
			return false
		}
	}
	if len(f.DocTypes) > 0 && !containsDocType(f.DocTypes, docType) {
		return false
	}
	if len(f.Outcomes) > 0 && !containsOutcome(f.Outcomes, outcome) {
		return false
	}
	if f.YearMin != nil && year < *f.YearMin {
		return false
	}
	if f.YearMax != nil && year > *f.YearMax {
		return false
	}
	if len(f.Programs) > 0 && !intersects(f.Programs, programs) {
		return false
	}
	if len(f.Tags) > 0 && !intersects(f.Tags, tags) {
		return false
	}
	return true
}

func containsDocType(list []DocType, v DocType) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsOutcome(list []Outcome, v Outcome) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func intersects(want, have []string) bool {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	for _, w := range want {
		if set[w] {
			return true
		}
	}
	return false
}

// fuse implements stage 4: normalize BM25 to [0,1] by its own max, union by chunk_id, and
// compute fused_score = vector_weight*v + keyword_weight*b with missing components as 0.
func (s *RetrievalService) fuse(dense []VectorSearchResult, lexical []BM25Hit) []RetrievedChunk {
	vectorWeight, keywordWeight := s.cfg.VectorWeight, s.cfg.KeywordWeight
	if vectorWeight == 0 && keywordWeight == 0 {
		vectorWeight, keywordWeight = 0.7, 0.3
	}

	maxBM25 := 0.0
	for _, l := range lexical {
		if l.Score > maxBM25 {
			maxBM25 = l.Score
		}
	}

	byChunk := make(map[string]*RetrievedChunk)
	order := make([]string, 0, len(dense)+len(lexical))

	for _, d := range dense {
		rc := &RetrievedChunk{
			ChunkID: d.ChunkID, DocID: d.DocID, Text: d.Text, DocType: d.DocType,
			Year: d.Year, Outcome: d.Outcome, Programs: d.Programs, Tags: d.Tags, Filename: d.Filename,
			Debug: RetrievalDebug{VectorScore: d.Score, ChunkIndex: d.ChunkIndex},
		}
		byChunk[d.ChunkID] = rc
		order = append(order, d.ChunkID)
	}
	for _, l := range lexical {
		norm := 0.0
		if maxBM25 > 0 {
			norm = l.Score / maxBM25
		}
		if rc, ok := byChunk[l.ChunkID]; ok {
			rc.Debug.BM25Score = norm
			continue
		}
		rc := &RetrievedChunk{
			ChunkID: l.ChunkID, DocID: l.DocID, DocType: l.DocType, Year: l.Year,
			Outcome: l.Outcome, Programs: l.Programs, Tags: l.Tags, Filename: l.Filename,
			Debug: RetrievalDebug{BM25Score: norm},
		}
		byChunk[l.ChunkID] = rc
		order = append(order, l.ChunkID)
	}

	out := make([]RetrievedChunk, 0, len(order))
	for _, id := range order {
		rc := byChunk[id]
		rc.Debug.FusedScore = vectorWeight*rc.Debug.VectorScore + keywordWeight*rc.Debug.BM25Score
		rc.Score = rc.Debug.FusedScore
		out = append(out, *rc)
	}
	return out
}

// applyRecency implements stage 5's step function and interpolation, in place.
func (s *RetrievalService) applyRecency(candidates []RetrievedChunk, weight float64) {
	if weight == 0 {
		for i := range candidates {
			candidates[i].Debug.AgeMultiplier = 1.0
		}
		return
	}
	currentYear := s.currentYear()
	for i := range candidates {
		mult := recencyMultiplier(candidates[i].Year, currentYear)
		candidates[i].Debug.AgeMultiplier = mult
		adjusted := candidates[i].Debug.FusedScore * (1 + weight*(mult-1))
		candidates[i].Score = adjusted
	}
}

func recencyMultiplier(year, currentYear int) float64 {
	if year <= 0 {
		return 0.85
	}
	age := currentYear - year
	switch {
	case age <= 0:
		return 1.00
	case age == 1:
		return 0.95
	case age == 2:
		return 0.90
	default:
		return 0.85
	}
}

// diversify implements stage 6: sort by adjusted score descending, retain at most maxPerDoc
// chunks per doc_id, tie-break on higher vector_score then lower chunk_index.
func diversify(candidates []RetrievedChunk, maxPerDoc int) []RetrievedChunk {
	sorted := make([]RetrievedChunk, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].Debug.VectorScore != sorted[j].Debug.VectorScore {
			return sorted[i].Debug.VectorScore > sorted[j].Debug.VectorScore
		}
		return sorted[i].Debug.ChunkIndex < sorted[j].Debug.ChunkIndex
	})

	perDoc := make(map[string]int)
	out := make([]RetrievedChunk, 0, len(sorted))
	for _, c := range sorted {
		if perDoc[c.DocID] >= maxPerDoc {
			continue
		}
		perDoc[c.DocID]++
		out = append(out, c)
	}
	return out
}

func expandQuery(query string, expand bool) string {
	if !expand {
		return query
	}
	upper := strings.ToUpper(query)
	var expansions []string
	for _, abbr := range domainAbbreviationOrder {
		if strings.Contains(upper, abbr) {
			expansions = append(expansions, domainAbbreviations[abbr])
		}
	}
	if len(expansions) == 0 {
		return query
	}
	return query + " " + strings.Join(expansions, " ")
}

func cacheKey(req RetrieveRequest) string {
	var weight float64 = -1
	if req.RecencyWeightOverride != nil {
		weight = *req.RecencyWeightOverride
	}
	return fmt.Sprintf("q=%s|k=%d|w=%.2f|dt=%v|y=%v-%v|o=%v|p=%v|t=%v|x=%v",
		req.Query, req.TopK, weight, req.Filters.DocTypes, req.Filters.YearMin, req.Filters.YearMax,
		req.Filters.Outcomes, req.Filters.Programs, req.Filters.Tags, req.Filters.ExcludeDocIDs)
}
