package archivist_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	archivist "github.com/orgarchivist/archivist/internal/domain/archivist"
	"github.com/orgarchivist/archivist/internal/infra/archivist/relstore"
	"github.com/orgarchivist/archivist/internal/infra/archivist/vectorstore"
	apperrors "github.com/orgarchivist/archivist/pkg/errors"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeExtractor returns fixed text regardless of input, unless failNext is set.
type fakeExtractor struct {
	text     string
	failNext bool
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, _ string) (string, error) {
	if f.failNext {
		return "", apperrors.Wrap(archivist.CodeCorruptDocument, "cannot parse", nil)
	}
	return f.text, nil
}

// fakeChunker ignores its input and returns a preset chunk list so chunk counts are deterministic in tests.
type fakeChunker struct {
	chunks []archivist.TextChunk
}

func (f *fakeChunker) Chunk(_ string, _ archivist.ChunkingConfig) []archivist.TextChunk {
	return f.chunks
}

// fakeEmbedder returns a fixed-dimension vector per text, optionally failing or mismatching.
type fakeEmbedder struct {
	dim       int
	fail      bool
	mismatch  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, apperrors.Wrap(archivist.CodeEmbeddingUnavailable, "provider down", nil)
	}
	n := len(texts)
	if f.mismatch {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, f.dim)
		v[0] = float32(i + 1)
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func testIngestionConfig() archivist.IngestionConfig {
	return archivist.IngestionConfig{MaxFileSizeBytes: 1 << 20}
}

func testChunkingConfig() archivist.ChunkingConfig {
	return archivist.ChunkingConfig{TargetTokens: 200, OverlapTokens: 20, Strategy: archivist.StrategySentence}
}

func validIngestMetadata() archivist.IngestMetadata {
	return archivist.IngestMetadata{
		DocType: archivist.DocTypeGrantReport,
		Year:    2024,
		Outcome: archivist.OutcomeAwarded,
	}
}

func twoChunks() []archivist.TextChunk {
	return []archivist.TextChunk{
		{ChunkIndex: 0, Text: "first chunk of the report."},
		{ChunkIndex: 1, Text: "second chunk of the report."},
	}
}

func newIngestionHarness(t *testing.T, chunks []archivist.TextChunk, embedFail, embedMismatch bool) (*archivist.IngestionService, *vectorstore.Memory, *relstore.Memory) {
	t.Helper()
	vs := vectorstore.NewMemory()
	rs := relstore.NewMemory()
	extractor := &fakeExtractor{text: "irrelevant once chunked"}
	chunker := &fakeChunker{chunks: chunks}
	embedder := &fakeEmbedder{dim: 4, fail: embedFail, mismatch: embedMismatch}
	svc := archivist.NewIngestionService(
		extractor, chunker, embedder, vs, rs, nil, nil, nil,
		testIngestionConfig(), testChunkingConfig(), newTestLogger(),
	)
	return svc, vs, rs
}

func TestIngestSucceedsAndPersistsBothStores(t *testing.T) {
	svc, vs, rs := newIngestionHarness(t, twoChunks(), false, false)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, []byte("pdf bytes"), "report.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.NoError(t, err)
	require.NotEmpty(t, doc.DocID)
	require.Equal(t, 2, doc.ChunksCount)

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	stored, ok, err := rs.GetDocument(ctx, doc.DocID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, doc.DocID, stored.DocID)
}

func TestIngestChunkIDsAreDeterministicAcrossRuns(t *testing.T) {
	svc, vs, _ := newIngestionHarness(t, twoChunks(), false, false)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, []byte("pdf bytes"), "report.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.NoError(t, err)

	results, err := vs.Search(ctx, []float32{1, 0, 0, 0}, 10, archivist.RetrievalFilters{DocIDEquals: doc.DocID})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Re-ingesting the same doc id with the same chunk layout must reproduce the same chunk ids,
	// since the id is derived only from (docID, chunkIndex).
	secondVS := vectorstore.NewMemory()
	secondRS := relstore.NewMemory()
	secondSvc := archivist.NewIngestionService(
		&fakeExtractor{text: "x"}, &fakeChunker{chunks: twoChunks()}, &fakeEmbedder{dim: 4},
		secondVS, secondRS, nil, nil, nil, testIngestionConfig(), testChunkingConfig(), newTestLogger(),
	)
	doc2, err := secondSvc.Ingest(ctx, []byte("pdf bytes"), "report.pdf", "application/pdf", validIngestMetadata(), "user-1", doc.DocID)
	require.NoError(t, err)
	require.Equal(t, doc.DocID, doc2.DocID)

	results2, err := secondVS.Search(ctx, []float32{1, 0, 0, 0}, 10, archivist.RetrievalFilters{DocIDEquals: doc.DocID})
	require.NoError(t, err)
	ids1 := map[string]bool{}
	for _, r := range results {
		ids1[r.ChunkID] = true
	}
	for _, r := range results2 {
		require.True(t, ids1[r.ChunkID], "chunk id %s should reproduce deterministically", r.ChunkID)
	}
}

func TestIngestCompensatesVectorStoreOnDocumentInsertFailure(t *testing.T) {
	vs := vectorstore.NewMemory()
	rs := &failingInsertStore{Memory: relstore.NewMemory()}
	svc := archivist.NewIngestionService(
		&fakeExtractor{text: "x"}, &fakeChunker{chunks: twoChunks()}, &fakeEmbedder{dim: 4},
		vs, rs, nil, nil, nil, testIngestionConfig(), testChunkingConfig(), newTestLogger(),
	)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []byte("pdf bytes"), "report.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, archivist.CodeStoreUnavailable))

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count, "compensation should have deleted the orphaned vector points")
}

func TestIngestRejectsEmbedderVectorCountMismatch(t *testing.T) {
	svc, _, _ := newIngestionHarness(t, twoChunks(), false, true)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []byte("x"), "f.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, archivist.CodeEmbeddingUnavailable))
}

func TestIngestRejectsZeroChunkDocuments(t *testing.T) {
	svc, _, _ := newIngestionHarness(t, nil, false, false)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []byte("x"), "f.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, archivist.CodeEmptyDocument))
}

func TestIngestRejectsInvalidMetadata(t *testing.T) {
	svc, _, _ := newIngestionHarness(t, twoChunks(), false, false)
	ctx := context.Background()

	meta := validIngestMetadata()
	meta.DocType = "Not A Real Type"
	_, err := svc.Ingest(ctx, []byte("x"), "f.pdf", "application/pdf", meta, "user-1", "")
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, archivist.CodeValidationError))
}

func TestIngestRejectsOversizedFile(t *testing.T) {
	vs := vectorstore.NewMemory()
	rs := relstore.NewMemory()
	svc := archivist.NewIngestionService(
		&fakeExtractor{text: "x"}, &fakeChunker{chunks: twoChunks()}, &fakeEmbedder{dim: 4},
		vs, rs, nil, nil, nil, archivist.IngestionConfig{MaxFileSizeBytes: 4}, testChunkingConfig(), newTestLogger(),
	)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, []byte("way too many bytes"), "f.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, archivist.CodePayloadTooLarge))
}

func TestDeleteDocumentRemovesFromBothStores(t *testing.T) {
	svc, vs, rs := newIngestionHarness(t, twoChunks(), false, false)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, []byte("x"), "f.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(ctx, doc.DocID))

	_, ok, err := rs.GetDocument(ctx, doc.DocID)
	require.NoError(t, err)
	require.False(t, ok)

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestReconcileDeletesOrphanedVectorPoints(t *testing.T) {
	svc, _, rs := newIngestionHarness(t, twoChunks(), false, false)
	ctx := context.Background()

	doc, err := svc.Ingest(ctx, []byte("x"), "f.pdf", "application/pdf", validIngestMetadata(), "user-1", "")
	require.NoError(t, err)

	// Simulate a crash between §4.7 steps 7 and 8: vectors upserted under a doc_id whose
	// Document row was never committed.
	orphanVectors := vectorstore.NewMemory()
	require.NoError(t, orphanVectors.Upsert(ctx, []archivist.VectorPoint{
		{ChunkID: "orphan-chunk", DocID: "orphan-doc", Vector: []float32{1, 0, 0, 0}},
	}))
	countBefore, err := orphanVectors.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, countBefore)

	orphanSvc := archivist.NewIngestionService(
		&fakeExtractor{}, &fakeChunker{}, &fakeEmbedder{dim: 4},
		orphanVectors, rs, nil, nil, nil, testIngestionConfig(), testChunkingConfig(), newTestLogger(),
	)
	// rs already knows about doc.DocID (committed) but not orphan-doc.
	require.NoError(t, orphanSvc.Reconcile(ctx))

	countAfter, err := orphanVectors.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, countAfter, "reconcile should delete points for a doc_id with no Document row")

	_, okDoc, err := rs.GetDocument(ctx, doc.DocID)
	require.NoError(t, err)
	require.True(t, okDoc, "reconcile must not touch a document with a consistent chunks_count")
}

func TestDeleteDocumentNotFound(t *testing.T) {
	svc, _, _ := newIngestionHarness(t, twoChunks(), false, false)
	err := svc.DeleteDocument(context.Background(), "missing-doc")
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, archivist.CodeNotFound))
}

// failingInsertStore wraps relstore.Memory and always fails InsertDocument, to exercise
// the compensation path without a real database.
type failingInsertStore struct {
	*relstore.Memory
}

func (f *failingInsertStore) InsertDocument(_ context.Context, _ archivist.Document) error {
	return apperrors.Wrap(archivist.CodeStoreUnavailable, "simulated insert failure", nil)
}
