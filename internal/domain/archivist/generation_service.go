package archivist

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// audienceDirectives and sectionDirectives are the table-driven prompt directives stage 2
// of spec.md §4.11 describes.
var audienceDirectives = map[string]string{
	"Foundation Grant":   "Write for a foundation program officer: emphasize measurable outcomes and fiscal stewardship.",
	"Government Grant":   "Write for a government reviewer: emphasize compliance, scope alignment, and reporting rigor.",
	"Individual Donor":   "Write for an individual donor: emphasize mission impact and personal connection to beneficiaries.",
	"Corporate Sponsor":  "Write for a corporate sponsor: emphasize community visibility and shared value.",
}

var sectionDirectives = map[string]string{
	"Program Description": "Describe the program's activities, target population, and delivery model.",
	"Needs Statement":      "Establish the community need with evidence and urgency.",
	"Outcomes":             "Describe measurable outcomes and evaluation methodology.",
	"Budget Narrative":      "Explain budget line items and their connection to program activities.",
}

var citationMarker = regexp.MustCompile(`\[Source (\d+)\]`)

// GenerateRequest is C11's input per spec.md §4.11.
type GenerateRequest struct {
	Query              string
	Audience           string
	Section            string
	Tone               string
	WritingStyleID     string
	Filters            RetrievalFilters
	MaxSources         int
	RecencyWeight      *float64
	MaxTokens          int
	Temperature        float32
	CustomInstructions string
}

// GenerationService is C11: retrieve, assemble prompt, invoke C4, validate citations.
type GenerationService struct {
	retrieval *RetrievalService
	llm       LLM
	store     RelationalStore
	cfg       GenerationConfig
	logger    *slog.Logger
}

// GenerationConfig holds C11's tunables.
type GenerationConfig struct {
	Model          string
	TimeoutSeconds int
	DefaultMaxTokens int
}

// NewGenerationService constructs C11.
func NewGenerationService(retrieval *RetrievalService, llm LLM, store RelationalStore, cfg GenerationConfig, logger *slog.Logger) *GenerationService {
	return &GenerationService{retrieval: retrieval, llm: llm, store: store, cfg: cfg, logger: logger.With("component", "archivist.generation")}
}

// Generate is the non-streaming variant: emit {content, sources, metadata} at completion.
func (g *GenerationService) Generate(ctx context.Context, req GenerateRequest) (GenResult, []SourceRef, DoneMetadata, error) {
	prompt, sources, err := g.prepare(ctx, req)
	if err != nil {
		return GenResult{}, nil, DoneMetadata{}, err
	}

	start := time.Now()
	result, err := g.llm.Generate(ctx, prompt, g.genParams(req))
	if err != nil {
		return GenResult{}, nil, DoneMetadata{}, err
	}

	content, invalid := validateCitations(result.Content, len(sources))
	result.Content = content

	meta := DoneMetadata{
		TokensUsed:       result.TotalTokens,
		Model:            g.cfg.Model,
		ElapsedMillis:    time.Since(start).Milliseconds(),
		InvalidCitations: invalid,
	}
	return result, sources, meta, nil
}

// GenerateStreaming is the streaming variant: emits sources, then content deltas, then done/error.
func (g *GenerationService) GenerateStreaming(ctx context.Context, req GenerateRequest) (<-chan StreamEvent, error) {
	prompt, sources, err := g.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	upstream, err := g.llm.GenerateStreaming(ctx, prompt, g.genParams(req))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		start := time.Now()

		select {
		case out <- StreamEvent{Type: EventSources, Sources: sources}:
		case <-ctx.Done():
			return
		}

		var builder strings.Builder
		var totalTokens int
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-upstream:
				if !ok {
					content, invalid := validateCitations(builder.String(), len(sources))
					_ = content
					g.emit(ctx, out, StreamEvent{Type: EventDone, Done: &DoneMetadata{
						TokensUsed: totalTokens, Model: g.cfg.Model,
						ElapsedMillis: time.Since(start).Milliseconds(), InvalidCitations: invalid,
					}})
					return
				}
				switch ev.Type {
				case EventContent:
					builder.WriteString(ev.Delta)
					if !g.emit(ctx, out, ev) {
						return
					}
				case EventDone:
					content, invalid := validateCitations(builder.String(), len(sources))
					_ = content
					if ev.Done != nil {
						totalTokens = ev.Done.TokensUsed
					}
					g.emit(ctx, out, StreamEvent{Type: EventDone, Done: &DoneMetadata{
						TokensUsed: totalTokens, Model: g.cfg.Model,
						ElapsedMillis: time.Since(start).Milliseconds(), InvalidCitations: invalid,
					}})
					return
				case EventError:
					g.emit(ctx, out, ev)
					return
				}
			}
		}
	}()
	return out, nil
}

func (g *GenerationService) emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (g *GenerationService) prepare(ctx context.Context, req GenerateRequest) (string, []SourceRef, error) {
	maxSources := req.MaxSources
	if maxSources <= 0 || maxSources > 15 {
		maxSources = 5
	}

	results, err := g.retrieval.Retrieve(ctx, RetrieveRequest{
		Query: req.Query, TopK: maxSources, Filters: req.Filters, RecencyWeightOverride: req.RecencyWeight,
	})
	if err != nil {
		return "", nil, err
	}

	sources := make([]SourceRef, len(results))
	for i, r := range results {
		sources[i] = SourceRef{ChunkID: r.ChunkID, DocID: r.DocID, Score: r.Score}
	}

	var stylePrompt string
	if req.WritingStyleID != "" && g.store != nil {
		if style, ok, err := g.store.GetWritingStyle(ctx, req.WritingStyleID); err == nil && ok {
			stylePrompt = style.PromptContent
		}
	}

	prompt := assemblePrompt(req, results, stylePrompt)
	return prompt, sources, nil
}

func assemblePrompt(req GenerateRequest, results []RetrievedChunk, stylePrompt string) string {
	var b strings.Builder
	b.WriteString("You are Org Archivist, a grant-writing assistant for a nonprofit. ")
	b.WriteString("Cite every factual claim using [Source N] markers referring only to the numbered sources below. Never invent a source number.\n\n")

	if stylePrompt != "" {
		b.WriteString(stylePrompt)
		b.WriteString("\n\n")
	}

	if directive, ok := audienceDirectives[req.Audience]; ok {
		b.WriteString(directive)
		b.WriteString("\n")
	}
	if directive, ok := sectionDirectives[req.Section]; ok {
		b.WriteString(directive)
		b.WriteString("\n")
	}
	if req.CustomInstructions != "" {
		b.WriteString(req.CustomInstructions)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for i, r := range results {
		b.WriteString(fmt.Sprintf("[Source %d: %s (%d)]\n%s\n\n", i+1, r.Filename, r.Year, r.Text))
	}

	b.WriteString("User query: ")
	b.WriteString(req.Query)
	return b.String()
}

func (g *GenerationService) genParams(req GenerateRequest) GenParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.DefaultMaxTokens
	}
	timeout := g.cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}
	return GenParams{Model: g.cfg.Model, Temperature: req.Temperature, MaxTokens: maxTokens, TimeoutSeconds: timeout}
}

// validateCitations implements spec.md §4.11 step 4: drop markers that don't reference a
// source index that was included; never invent citations.
func validateCitations(content string, sourceCount int) (string, int) {
	invalid := 0
	result := citationMarker.ReplaceAllStringFunc(content, func(match string) string {
		sub := citationMarker.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil || n < 1 || n > sourceCount {
			invalid++
			return ""
		}
		return match
	})
	return result, invalid
}
