// Package embedder batches chunk text into provider embedding calls, grounded on the
// teacher's uploadask ChatGPTEmbedder token-budget batching.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
	"github.com/orgarchivist/archivist/internal/infra/llm/chatgpt"
)

const maxBatchTokens = 200_000 // stay well below provider's 300k cap

// ChatGPTEmbedder is C3: batched embed(texts) -> vectors with retry/backoff.
type ChatGPTEmbedder struct {
	client     *chatgpt.Client
	model      string
	dimension  int
	maxRetries int
	logger     *slog.Logger
}

// NewChatGPTEmbedder constructs the ChatGPT-backed embedder.
func NewChatGPTEmbedder(client *chatgpt.Client, model string, dimension, maxRetries int, logger *slog.Logger) *ChatGPTEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ChatGPTEmbedder{
		client:     client,
		model:      strings.TrimSpace(model),
		dimension:  dimension,
		maxRetries: maxRetries,
		logger:     logger.With("component", "archivist.embedder.chatgpt"),
	}
}

// Dimension reports the fixed vector dimension this model produces.
func (e *ChatGPTEmbedder) Dimension() int {
	return e.dimension
}

// Embed batches texts by an estimated token budget and retries each batch with exponential
// backoff, per spec.md §4.3's "max 3, exponential backoff" requirement (absent in the
// teacher's embedder, which fails immediately on a transient error).
func (e *ChatGPTEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var (
		out         [][]float32
		batch       []string
		batchTokens int
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		resp, err := e.embedWithRetry(ctx, batch)
		if err != nil {
			return err
		}
		vectors := make([][]float32, len(batch))
		for _, item := range resp {
			if item.Index < 0 || item.Index >= len(vectors) {
				continue
			}
			vec := make([]float32, len(item.Embedding))
			copy(vec, item.Embedding)
			vectors[item.Index] = vec
		}
		out = append(out, vectors...)
		batch = batch[:0]
		batchTokens = 0
		return nil
	}

	for _, text := range texts {
		tokens := estimateTokens(text)
		if batchTokens+tokens > maxBatchTokens && len(batch) > 0 {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, text)
		batchTokens += tokens
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

type embeddingItem struct {
	Embedding []float32
	Index     int
}

func (e *ChatGPTEmbedder) embedWithRetry(ctx context.Context, batch []string) ([]embeddingItem, error) {
	var lastErr error
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := e.client.CreateEmbedding(ctx, chatgpt.EmbeddingRequest{Model: e.model, Input: batch})
		if err != nil {
			lastErr = err
			e.logger.Warn("embedding attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		items := make([]embeddingItem, len(resp.Data))
		for i, d := range resp.Data {
			items[i] = embeddingItem{Embedding: d.Embedding, Index: d.Index}
		}
		if len(resp.Data) != len(batch) {
			e.logger.Warn("embedding result count mismatch", "expected", len(batch), "got", len(resp.Data))
		}
		return items, nil
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", e.maxRetries, lastErr)
}

// estimateTokens provides a rough, upper-biased token count without a second tokenizer call.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	runes := utf8.RuneCountInString(text)
	words := len(strings.Fields(text))
	byRunes := (runes + 1) / 2
	if byRunes < words {
		return words
	}
	return byRunes
}

var _ domain.Embedder = (*ChatGPTEmbedder)(nil)
