// Package vectorstore persists chunk embeddings in Postgres via pgvector, grounded on the
// teacher's PostgresChunkRepository (InsertBatch/SearchSimilar, normalizeEmbedding), extended
// with full metadata filter pushdown and explicit delete/count/info operations.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
)

// Postgres is C1: pgvector-backed storage and cosine search over chunk embeddings.
type Postgres struct {
	pool *pgxpool.Pool
}

// New constructs the pgvector-backed vector store.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Upsert writes a batch of chunk embeddings, replacing any existing row with the same id.
func (p *Postgres) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pt := range points {
		batch.Queue(`
			INSERT INTO archivist_chunk_vectors
				(chunk_id, doc_id, chunk_index, content, embedding, doc_type, year, outcome, programs, tags, filename)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (chunk_id) DO UPDATE SET
				content = EXCLUDED.content, embedding = EXCLUDED.embedding, doc_type = EXCLUDED.doc_type,
				year = EXCLUDED.year, outcome = EXCLUDED.outcome, programs = EXCLUDED.programs,
				tags = EXCLUDED.tags, filename = EXCLUDED.filename
		`, pt.ChunkID, pt.DocID, pt.ChunkIndex, pt.Text, pgvector.NewVector(pt.Vector),
			string(pt.DocType), pt.Year, string(pt.Outcome), pt.Programs, pt.Tags, pt.Filename)
	}
	return p.pool.SendBatch(ctx, batch).Close()
}

// Search runs a cosine-distance nearest-neighbor query with metadata filter pushdown.
func (p *Postgres) Search(ctx context.Context, queryVector []float32, topK int, filter domain.RetrievalFilters) ([]domain.VectorSearchResult, error) {
	query := `
		SELECT chunk_id, doc_id, chunk_index, content, doc_type, year, outcome, programs, tags, filename,
			(1.0 - (embedding <=> $1)) AS score
		FROM archivist_chunk_vectors
		WHERE 1=1
	`
	args := []any{pgvector.NewVector(queryVector)}
	query, args = applyFilter(query, args, filter)
	query += fmt.Sprintf(" ORDER BY (embedding <=> $1) ASC LIMIT %d", clampLimit(topK))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.VectorSearchResult
	for rows.Next() {
		var r domain.VectorSearchResult
		var docType, outcome string
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.ChunkIndex, &r.Text, &docType, &r.Year, &outcome,
			&r.Programs, &r.Tags, &r.Filename, &r.Score); err != nil {
			return nil, err
		}
		r.DocType = domain.DocType(docType)
		r.Outcome = domain.Outcome(outcome)
		results = append(results, r)
	}
	return results, rows.Err()
}

// Delete removes every chunk matching filter; C7 uses DocIDEquals for whole-document deletes.
func (p *Postgres) Delete(ctx context.Context, filter domain.RetrievalFilters) error {
	query := `DELETE FROM archivist_chunk_vectors WHERE 1=1`
	var args []any
	query, args = applyFilter(query, args, filter)
	_, err := p.pool.Exec(ctx, query, args...)
	return err
}

// Count reports the total number of persisted chunk vectors.
func (p *Postgres) Count(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM archivist_chunk_vectors`).Scan(&count)
	return count, err
}

// Info reports diagnostics: the total point count (Dimension is left at zero).
func (p *Postgres) Info(ctx context.Context) (domain.VectorStoreInfo, error) {
	count, err := p.Count(ctx)
	if err != nil {
		return domain.VectorStoreInfo{}, err
	}
	return domain.VectorStoreInfo{PointCount: count, Dimension: 0}, nil
}

// DocumentChunkCounts groups persisted chunk vectors by doc_id for Reconcile's per-document
// orphan scan.
func (p *Postgres) DocumentChunkCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc_id, COUNT(*) FROM archivist_chunk_vectors GROUP BY doc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var docID string
		var count int64
		if err := rows.Scan(&docID, &count); err != nil {
			return nil, err
		}
		counts[docID] = count
	}
	return counts, rows.Err()
}

// applyFilter appends the metadata predicates from spec.md §4.1 to a query that already binds
// embedding as $1 (or no positional args for delete), returning the updated query and args.
func applyFilter(query string, args []any, filter domain.RetrievalFilters) (string, []any) {
	pos := len(args) + 1

	if filter.DocIDEquals != "" {
		query += fmt.Sprintf(" AND doc_id = $%d", pos)
		args = append(args, filter.DocIDEquals)
		pos++
		return query, args
	}
	if len(filter.DocTypes) > 0 {
		types := make([]string, len(filter.DocTypes))
		for i, t := range filter.DocTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND doc_type = ANY($%d)", pos)
		args = append(args, types)
		pos++
	}
	if filter.YearMin != nil {
		query += fmt.Sprintf(" AND year >= $%d", pos)
		args = append(args, *filter.YearMin)
		pos++
	}
	if filter.YearMax != nil {
		query += fmt.Sprintf(" AND year <= $%d", pos)
		args = append(args, *filter.YearMax)
		pos++
	}
	if len(filter.Outcomes) > 0 {
		outcomes := make([]string, len(filter.Outcomes))
		for i, o := range filter.Outcomes {
			outcomes[i] = string(o)
		}
		query += fmt.Sprintf(" AND outcome = ANY($%d)", pos)
		args = append(args, outcomes)
		pos++
	}
	if len(filter.Programs) > 0 {
		query += fmt.Sprintf(" AND programs && $%d", pos)
		args = append(args, filter.Programs)
		pos++
	}
	if len(filter.Tags) > 0 {
		query += fmt.Sprintf(" AND tags && $%d", pos)
		args = append(args, filter.Tags)
		pos++
	}
	if len(filter.ExcludeDocIDs) > 0 {
		query += fmt.Sprintf(" AND NOT (doc_id = ANY($%d))", pos)
		args = append(args, filter.ExcludeDocIDs)
		pos++
	}
	return query, args
}

func clampLimit(topK int) int {
	if topK <= 0 {
		return 64
	}
	if topK > 500 {
		return 500
	}
	return topK
}

var _ domain.VectorStore = (*Postgres)(nil)
