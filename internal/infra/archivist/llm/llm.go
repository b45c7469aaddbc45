// Package llm adapts the teacher's ChatGPT client to the archivist domain's LLM port,
// emitting content/done/error events (the sources event is emitted by GenerationService) instead
// of raw ChatGPT deltas, and adding the retry/backoff loop the teacher's chat client never had.
package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
	"github.com/orgarchivist/archivist/internal/infra/llm/chatgpt"
	apperrors "github.com/orgarchivist/archivist/pkg/errors"
)

// ChatGPTLLM is C4: generate/generate_streaming with retries and cancellation.
type ChatGPTLLM struct {
	client     *chatgpt.Client
	maxRetries int
	logger     *slog.Logger
}

// NewChatGPTLLM constructs the adapter.
func NewChatGPTLLM(client *chatgpt.Client, maxRetries int, logger *slog.Logger) *ChatGPTLLM {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ChatGPTLLM{client: client, maxRetries: maxRetries, logger: logger.With("component", "archivist.llm.chatgpt")}
}

// Generate performs a single non-streaming completion with bounded retry.
func (l *ChatGPTLLM) Generate(ctx context.Context, prompt string, params domain.GenParams) (domain.GenResult, error) {
	req := chatgpt.ChatCompletionRequest{
		Model:       params.Model,
		Temperature: params.Temperature,
		Messages:    []chatgpt.Message{{Role: "user", Content: prompt}},
	}

	timeout := time.Duration(params.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return domain.GenResult{}, apperrors.Wrap(domain.CodeCancelled, "generation cancelled", ctx.Err())
			}
		}
		resp, err := l.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			l.logger.Warn("generation attempt failed", "attempt", attempt+1, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			return domain.GenResult{}, apperrors.Wrap(domain.CodeLLMRejected, "model returned no choices", nil)
		}
		return domain.GenResult{
			Content:          strings.TrimSpace(resp.Choices[0].Message.Content),
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}, nil
	}
	return domain.GenResult{}, apperrors.Wrap(domain.CodeLLMUnavailable, "generation failed after retries", lastErr)
}

// GenerateStreaming performs a streaming completion, translating ChatGPT's delta chunks into
// the archivist domain's StreamEvent sum type.
func (l *ChatGPTLLM) GenerateStreaming(ctx context.Context, prompt string, params domain.GenParams) (<-chan domain.StreamEvent, error) {
	req := chatgpt.ChatCompletionRequest{
		Model:       params.Model,
		Temperature: params.Temperature,
		Messages:    []chatgpt.Message{{Role: "user", Content: prompt}},
	}

	stream, err := l.streamWithRetry(ctx, req)
	if err != nil {
		return nil, apperrors.Wrap(domain.CodeLLMUnavailable, "failed to start generation stream", err)
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		defer stream.Close()
		var completionTokens int
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ctx, out, domain.StreamEvent{Type: domain.EventDone, Done: &domain.DoneMetadata{
					TokensUsed: completionTokens,
				}})
				return
			}
			if err != nil {
				emit(ctx, out, domain.StreamEvent{Type: domain.EventError, Err: apperrors.Wrap(domain.CodeLLMUnavailable, "stream read failed", err)})
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			completionTokens++
			if !emit(ctx, out, domain.StreamEvent{Type: domain.EventContent, Delta: delta}) {
				return
			}
		}
	}()
	return out, nil
}

func (l *ChatGPTLLM) streamWithRetry(ctx context.Context, req chatgpt.ChatCompletionRequest) (chatgpt.Stream, error) {
	var lastErr error
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 200 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		stream, err := l.client.CreateChatCompletionStream(ctx, req)
		if err == nil {
			return stream, nil
		}
		lastErr = err
		l.logger.Warn("stream start attempt failed", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func emit(ctx context.Context, out chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ domain.LLM = (*ChatGPTLLM)(nil)
