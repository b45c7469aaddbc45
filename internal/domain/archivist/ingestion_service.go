package archivist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/orgarchivist/archivist/pkg/errors"
	"github.com/orgarchivist/archivist/pkg/util"
)

// IngestionConfig holds C7's tunables.
type IngestionConfig struct {
	MaxFileSizeBytes int64
	Timeout          time.Duration
}

// IngestMetadata is the caller-supplied metadata accompanying a new document.
type IngestMetadata struct {
	DocType          DocType
	Year             int
	Outcome          Outcome
	Programs         []string
	Tags             []string
	Notes            string
	IsSensitive      bool
	SensitivityLevel SensitivityLevel
}

// IngestionService is C7: orchestrates C5->C6->C3->C1+C2 atomically per document.
type IngestionService struct {
	extractor Extractor
	chunker   Chunker
	embedder  Embedder
	vectors   VectorStore
	store     RelationalStore
	bm25      BM25Index
	cache     Cache
	archive   ObjectStorage
	cfg       IngestionConfig
	chunkCfg  ChunkingConfig
	logger    *slog.Logger
}

// NewIngestionService constructs C7.
func NewIngestionService(
	extractor Extractor,
	chunker Chunker,
	embedder Embedder,
	vectors VectorStore,
	store RelationalStore,
	bm25 BM25Index,
	cache Cache,
	archive ObjectStorage,
	cfg IngestionConfig,
	chunkCfg ChunkingConfig,
	logger *slog.Logger,
) *IngestionService {
	return &IngestionService{
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
		store:     store,
		bm25:      bm25,
		cache:     cache,
		archive:   archive,
		cfg:       cfg,
		chunkCfg:  chunkCfg,
		logger:    logger.With("component", "archivist.ingestion"),
	}
}

// Ingest runs the nine-step ingestion pipeline described in spec.md §4.7. If existingDocID is
// non-empty the caller is re-ingesting a known document; per the Open Question decision in
// DESIGN.md this is handled as delete-then-insert rather than an in-place update.
func (s *IngestionService) Ingest(ctx context.Context, fileBytes []byte, filename, mimeHint string, meta IngestMetadata, callerUserID, existingDocID string) (Document, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	// Step 1: validate metadata.
	if err := s.validateMetadata(ctx, meta); err != nil {
		return Document{}, err
	}

	// Step 2: size check.
	if s.cfg.MaxFileSizeBytes > 0 && int64(len(fileBytes)) > s.cfg.MaxFileSizeBytes {
		return Document{}, apperrors.Wrap(CodePayloadTooLarge, fmt.Sprintf("file exceeds max size of %d bytes", s.cfg.MaxFileSizeBytes), nil)
	}

	docID := existingDocID
	if docID == "" {
		docID = uuid.NewString()
	} else if _, ok, _ := s.store.GetDocument(ctx, docID); ok {
		if err := s.deleteDocumentInternal(ctx, docID); err != nil {
			return Document{}, err
		}
	}

	if s.archive != nil {
		if err := s.archive.Put(ctx, docID, fileBytes, mimeHint); err != nil {
			s.logger.Warn("raw-file archive put failed", "doc_id", docID, "error", err)
		}
	}

	// Step 3: extract text.
	text, err := s.extractor.Extract(ctx, fileBytes, mimeHint)
	if err != nil {
		return Document{}, err
	}

	// Step 4: chunk.
	chunks := s.chunker.Chunk(text, s.chunkCfg)
	if len(chunks) == 0 {
		return Document{}, apperrors.Wrap(CodeEmptyDocument, "document produced zero chunks", nil)
	}

	// Step 5: embed all chunk texts in one batched call.
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return Document{}, apperrors.Wrap(CodeEmbeddingUnavailable, "embedding failed", err)
	}
	if len(vectors) != len(texts) {
		return Document{}, apperrors.Wrap(CodeEmbeddingUnavailable, "embedder returned a mismatched vector count", nil)
	}

	doc := Document{
		DocID:            docID,
		Filename:         filename,
		DocType:          meta.DocType,
		Year:             meta.Year,
		Outcome:          meta.Outcome,
		FileSizeBytes:    int64(len(fileBytes)),
		ChunksCount:      len(chunks),
		UploadTimestamp:  util.NowUTC(),
		CreatedBy:        callerUserID,
		IsSensitive:      meta.IsSensitive,
		SensitivityLevel: meta.SensitivityLevel,
		Notes:            meta.Notes,
		Programs:         meta.Programs,
		Tags:             meta.Tags,
	}

	// Step 6+7: compute chunk_id deterministically and upsert into C1.
	points := make([]VectorPoint, len(chunks))
	for i, c := range chunks {
		points[i] = VectorPoint{
			ChunkID:    deterministicChunkID(docID, c.ChunkIndex),
			DocID:      docID,
			Vector:     vectors[i],
			Text:       c.Text,
			DocType:    doc.DocType,
			Year:       doc.Year,
			Outcome:    doc.Outcome,
			Programs:   doc.Programs,
			Tags:       doc.Tags,
			Filename:   doc.Filename,
			ChunkIndex: c.ChunkIndex,
		}
	}
	if err := s.vectors.Upsert(ctx, points); err != nil {
		return Document{}, apperrors.Wrap(CodeStoreUnavailable, "vector upsert failed", err)
	}

	// Step 8: insert Document row (and junctions) transactionally.
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		// Compensation: delete what we just upserted so ingestion atomicity (property 1) holds.
		s.compensate(docID)
		return Document{}, apperrors.Wrap(CodeStoreUnavailable, "document insert failed", err)
	}

	// Step 9: mark BM25 stale, invalidate the query cache.
	if s.bm25 != nil {
		s.bm25.MarkStale()
	}
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}

	return doc, nil
}

// compensate performs the best-effort delete described in spec.md §4.7 / §9's design note on
// dual-store consistency. It deliberately does not return an error: the caller has already
// failed, and a leftover vector is reconciled by Reconcile at next startup.
func (s *IngestionService) compensate(docID string) {
	bg := context.Background()
	if err := s.vectors.Delete(bg, RetrievalFilters{DocIDEquals: docID}); err != nil {
		s.logger.Error("compensation delete failed", "doc_id", docID, "error", err)
	}
}

// DeleteDocument removes a document's chunks from C1 and its record from C2, then
// invalidates C10, per spec.md §6.
func (s *IngestionService) DeleteDocument(ctx context.Context, docID string) error {
	if _, ok, err := s.store.GetDocument(ctx, docID); err != nil {
		return apperrors.Wrap(CodeStoreUnavailable, "lookup failed", err)
	} else if !ok {
		return apperrors.Wrap(CodeNotFound, "document not found", nil)
	}
	if err := s.deleteDocumentInternal(ctx, docID); err != nil {
		return err
	}
	if s.bm25 != nil {
		s.bm25.MarkStale()
	}
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return nil
}

func (s *IngestionService) deleteDocumentInternal(ctx context.Context, docID string) error {
	if err := s.vectors.Delete(ctx, RetrievalFilters{DocIDEquals: docID}); err != nil {
		return apperrors.Wrap(CodeStoreUnavailable, "vector delete failed", err)
	}
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return apperrors.Wrap(CodeStoreUnavailable, "document delete failed", err)
	}
	return nil
}

// GetDocument returns a single document's archive metadata by id.
func (s *IngestionService) GetDocument(ctx context.Context, docID string) (Document, error) {
	doc, ok, err := s.store.GetDocument(ctx, docID)
	if err != nil {
		return Document{}, apperrors.Wrap(CodeStoreUnavailable, "lookup failed", err)
	}
	if !ok {
		return Document{}, apperrors.Wrap(CodeNotFound, "document not found", nil)
	}
	return doc, nil
}

// ListDocuments returns documents matching the given metadata filter.
func (s *IngestionService) ListDocuments(ctx context.Context, filter DocumentListFilter) ([]Document, error) {
	return s.store.ListDocuments(ctx, filter)
}

// UpdateDocumentMetadata edits a document's archive metadata without re-ingesting its content.
func (s *IngestionService) UpdateDocumentMetadata(ctx context.Context, doc Document) (Document, error) {
	if _, err := s.GetDocument(ctx, doc.DocID); err != nil {
		return Document{}, err
	}
	if err := s.validateMetadata(ctx, IngestMetadata{
		DocType: doc.DocType, Year: doc.Year, Outcome: doc.Outcome, Programs: doc.Programs,
		Tags: doc.Tags, Notes: doc.Notes, IsSensitive: doc.IsSensitive, SensitivityLevel: doc.SensitivityLevel,
	}); err != nil {
		return Document{}, err
	}
	if err := s.store.UpdateDocumentMetadata(ctx, doc); err != nil {
		return Document{}, apperrors.Wrap(CodeStoreUnavailable, "document metadata update failed", err)
	}
	if s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return s.GetDocument(ctx, doc.DocID)
}

// Reconcile is the supplemented startup scan (spec.md §9's design note): it compares C2's
// chunks_count invariant against C1's actual point count per document and re-syncs by
// deleting any vector-store orphans left by a crash between steps 7 and 8. It runs once,
// synchronously, at boot — it is not a background job.
func (s *IngestionService) Reconcile(ctx context.Context) error {
	docs, err := s.store.ListDocuments(ctx, DocumentListFilter{Limit: 0})
	if err != nil {
		return apperrors.Wrap(CodeStoreUnavailable, "reconcile: list documents failed", err)
	}
	known := make(map[string]int, len(docs))
	for _, d := range docs {
		known[d.DocID] = d.ChunksCount
	}

	vectorCounts, err := s.vectors.DocumentChunkCounts(ctx)
	if err != nil {
		s.logger.Warn("reconcile: vector store chunk counts failed", "error", err)
		return nil
	}

	var orphans int
	for docID, count := range vectorCounts {
		expected, isKnown := known[docID]
		switch {
		case !isKnown:
			// No Document row exists for this doc_id at all: step 8 never committed (or the
			// document was deleted after a crash mid-delete). Delete the orphaned points.
			if err := s.vectors.Delete(ctx, RetrievalFilters{DocIDEquals: docID}); err != nil {
				s.logger.Error("reconcile: failed to delete orphaned vectors", "doc_id", docID, "error", err)
				continue
			}
			orphans++
			s.logger.Info("reconcile: deleted orphaned vector points", "doc_id", docID, "point_count", count)
		case int64(expected) != count:
			// A Document row exists but its chunks_count invariant disagrees with the actual
			// point count; this is logged, not auto-repaired, since re-chunking would need the
			// original file bytes, which the vector/relational stores don't retain.
			s.logger.Warn("reconcile: chunks_count mismatch", "doc_id", docID, "expected", expected, "actual", count)
		}
	}

	s.logger.Info("reconcile scan complete", "known_documents", len(known), "orphans_removed", orphans)
	return nil
}

func (s *IngestionService) validateMetadata(ctx context.Context, meta IngestMetadata) error {
	if !validDocType(meta.DocType) {
		return apperrors.Wrap(CodeValidationError, "invalid doc_type", nil)
	}
	if meta.Year < 1900 || meta.Year > 2100 {
		return apperrors.Wrap(CodeValidationError, "year must be between 1900 and 2100", nil)
	}
	if !validOutcome(meta.Outcome) {
		return apperrors.Wrap(CodeValidationError, "invalid outcome", nil)
	}
	if meta.IsSensitive && !validSensitivity(meta.SensitivityLevel) {
		return apperrors.Wrap(CodeValidationError, "sensitivity_level must be confirmed for sensitive documents", nil)
	}
	for _, name := range meta.Programs {
		if _, ok, err := s.store.GetProgramByName(ctx, name); err != nil {
			return apperrors.Wrap(CodeStoreUnavailable, "program lookup failed", err)
		} else if !ok {
			return apperrors.Wrap(CodeValidationError, fmt.Sprintf("unknown program: %s", name), nil)
		}
	}
	return nil
}

func deterministicChunkID(docID string, chunkIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", docID, chunkIndex)))
	return hex.EncodeToString(sum[:16])
}
