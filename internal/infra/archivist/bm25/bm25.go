// Package bm25 is C8: an in-memory lexical index over every persisted chunk, grounded on
// vvoland-cagent's rulebased.Client (createIndex's bleve.NewMemOnly + "en" text analyzer,
// selectProvider's bleve.NewMatchQuery + per-hit score aggregation), extended with a stale
// flag and an atomic pointer swap on rebuild (there is no generation counter).
package bm25

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
)

// Index is C8: rebuild()/search() over a bleve index swapped atomically on rebuild.
type Index struct {
	current atomic.Pointer[bleve.Index]
	stale   atomic.Bool
}

// New constructs an empty BM25 index, stale until the first Rebuild.
func New() (*Index, error) {
	idx, err := createIndex()
	if err != nil {
		return nil, fmt.Errorf("creating bleve index: %w", err)
	}
	bi := &Index{}
	bi.current.Store(&idx)
	bi.stale.Store(true)
	return bi, nil
}

// Rebuild constructs a fresh index from every persisted chunk and swaps it in atomically so
// concurrent Search calls never observe a half-built index.
func (bi *Index) Rebuild(_ context.Context, records []domain.ChunkTextRecord) error {
	next, err := createIndex()
	if err != nil {
		return fmt.Errorf("creating bleve index: %w", err)
	}
	for _, r := range records {
		doc := map[string]any{
			"text":     r.Text,
			"doc_id":   r.DocID,
			"doc_type": string(r.DocType),
			"year":     r.Year,
			"outcome":  string(r.Outcome),
			"programs": r.Programs,
			"tags":     r.Tags,
			"filename": r.Filename,
		}
		if err := next.Index(r.ChunkID, doc); err != nil {
			_ = next.Close()
			return fmt.Errorf("indexing chunk %s: %w", r.ChunkID, err)
		}
	}

	old := bi.current.Swap(&next)
	bi.stale.Store(false)
	if old != nil {
		_ = (*old).Close()
	}
	return nil
}

// Search runs a match query over the text field and returns hits ranked by bleve's score.
func (bi *Index) Search(_ context.Context, query string, topK int) ([]domain.BM25Hit, error) {
	if topK <= 0 {
		topK = 20
	}
	idxPtr := bi.current.Load()
	if idxPtr == nil {
		return nil, nil
	}
	idx := *idxPtr

	mq := bleve.NewMatchQuery(query)
	mq.SetField("text")

	req := bleve.NewSearchRequest(mq)
	req.Size = topK
	req.Fields = []string{"doc_id", "doc_type", "year", "outcome", "programs", "tags", "filename"}

	results, err := idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	hits := make([]domain.BM25Hit, 0, len(results.Hits))
	for _, hit := range results.Hits {
		hits = append(hits, hitToBM25Hit(hit))
	}
	return hits, nil
}

// hitToBM25Hit decodes the denormalized document fields stored alongside each chunk in
// Rebuild back into the metadata stage 3's client-side filter predicate needs.
func hitToBM25Hit(hit *search.DocumentMatch) domain.BM25Hit {
	h := domain.BM25Hit{ChunkID: hit.ID, Score: hit.Score}
	h.DocID, _ = hit.Fields["doc_id"].(string)
	if dt, ok := hit.Fields["doc_type"].(string); ok {
		h.DocType = domain.DocType(dt)
	}
	h.Year = int(toFloat64(hit.Fields["year"]))
	if oc, ok := hit.Fields["outcome"].(string); ok {
		h.Outcome = domain.Outcome(oc)
	}
	h.Programs = toStringSlice(hit.Fields["programs"])
	h.Tags = toStringSlice(hit.Fields["tags"])
	h.Filename, _ = hit.Fields["filename"].(string)
	return h
}

func toFloat64(v any) float64 {
	f, _ := v.(float64)
	return f
}

// toStringSlice normalizes bleve's field-value decoding: a single-valued stored array comes
// back as a bare value, a multi-valued one as []any.
func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case string:
		return []string{vv}
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// MarkStale flags the index as due for a rebuild; C9 checks this at the start of each query.
func (bi *Index) MarkStale() {
	bi.stale.Store(true)
}

// IsStale reports whether a rebuild is pending.
func (bi *Index) IsStale() bool {
	return bi.stale.Load()
}

// Close releases the current bleve index's resources.
func (bi *Index) Close() error {
	idxPtr := bi.current.Load()
	if idxPtr == nil {
		return nil
	}
	return (*idxPtr).Close()
}

func createIndex() (bleve.Index, error) {
	indexMapping := mapping.NewIndexMapping()

	docMapping := mapping.NewDocumentMapping()
	textField := mapping.NewTextFieldMapping()
	textField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("text", textField)
	docMapping.AddFieldMappingsAt("filename", textField)

	// The remaining fields are denormalized document metadata (spec.md §9's design note),
	// stored but not analyzed, so stage 3's client-side filter predicate can read them back
	// off every hit without a round trip to the relational store.
	keyword := mapping.NewTextFieldMapping()
	keyword.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("doc_id", keyword)
	docMapping.AddFieldMappingsAt("doc_type", keyword)
	docMapping.AddFieldMappingsAt("outcome", keyword)
	docMapping.AddFieldMappingsAt("programs", keyword)
	docMapping.AddFieldMappingsAt("tags", keyword)
	docMapping.AddFieldMappingsAt("year", mapping.NewNumericFieldMapping())

	indexMapping.DefaultMapping = docMapping
	return bleve.NewMemOnly(indexMapping)
}

var _ domain.BM25Index = (*Index)(nil)
