package archivist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/orgarchivist/archivist/pkg/errors"
	"github.com/orgarchivist/archivist/pkg/util"
)

const (
	minStyleSamples    = 3
	maxStyleSamples    = 7
	minSampleWords     = 200
	styleAnalysisTokens = 8000
)

var styleCategoryOrder = []string{
	"vocabulary", "sentenceStructure", "thoughtComposition", "paragraphStructure",
	"transitions", "tone", "perspective", "dataIntegration",
}

// StyleServiceConfig holds C12's tunables.
type StyleServiceConfig struct {
	Model string
}

// StyleService is C12: analyze 3-7 writing samples into a reusable conditioning prompt.
type StyleService struct {
	llm    LLM
	store  RelationalStore
	cfg    StyleServiceConfig
	logger *slog.Logger
}

// NewStyleService constructs C12.
func NewStyleService(llm LLM, store RelationalStore, cfg StyleServiceConfig, logger *slog.Logger) *StyleService {
	return &StyleService{llm: llm, store: store, cfg: cfg, logger: logger.With("component", "archivist.style")}
}

// AnalyzeRequest is C12's input: named samples that together establish one writing voice.
type AnalyzeRequest struct {
	Name        string
	Type        WritingStyleType
	Description string
	Samples     []string
}

// AnalyzeSamples validates the sample set, builds the analysis prompt, invokes C4, and
// persists the resulting WritingStyle, per spec.md §4.12.
func (s *StyleService) AnalyzeSamples(ctx context.Context, req AnalyzeRequest) (WritingStyle, error) {
	if err := validateSamples(req.Samples); err != nil {
		return WritingStyle{}, err
	}
	if !validStyleType(req.Type) {
		return WritingStyle{}, apperrors.Wrap(CodeValidationError, "invalid writing style type", nil)
	}
	if strings.TrimSpace(req.Name) == "" {
		return WritingStyle{}, apperrors.Wrap(CodeValidationError, "name is required", nil)
	}

	prompt := buildAnalysisPrompt(req.Samples)
	result, err := s.llm.Generate(ctx, prompt, GenParams{
		Model: s.cfg.Model, Temperature: 0.2, MaxTokens: styleAnalysisTokens, TimeoutSeconds: 90,
	})
	if err != nil {
		return WritingStyle{}, err
	}

	scores, promptContent := parseAnalysisResponse(result.Content)

	style := WritingStyle{
		StyleID:          uuid.NewString(),
		Name:             req.Name,
		Type:             req.Type,
		Description:      req.Description,
		PromptContent:    promptContent,
		Samples:          req.Samples,
		AnalysisMetadata: scores,
		Active:           true,
		CreatedAt:        util.NowUTC(),
		UpdatedAt:        util.NowUTC(),
	}
	return s.store.CreateWritingStyle(ctx, style)
}

// GetStyle returns a single writing style by id.
func (s *StyleService) GetStyle(ctx context.Context, styleID string) (WritingStyle, error) {
	style, ok, err := s.store.GetWritingStyle(ctx, styleID)
	if err != nil {
		return WritingStyle{}, apperrors.Wrap(CodeStoreUnavailable, "lookup failed", err)
	}
	if !ok {
		return WritingStyle{}, apperrors.Wrap(CodeNotFound, "writing style not found", nil)
	}
	return style, nil
}

// ListStyles returns every writing style, active and retired.
func (s *StyleService) ListStyles(ctx context.Context) ([]WritingStyle, error) {
	return s.store.ListWritingStyles(ctx)
}

// DeactivateStyle retires a style without deleting its history; generation requests that
// reference it by id continue to resolve it, but it drops from pickers.
func (s *StyleService) DeactivateStyle(ctx context.Context, styleID string) error {
	style, err := s.GetStyle(ctx, styleID)
	if err != nil {
		return err
	}
	style.Active = false
	style.UpdatedAt = util.NowUTC()
	return s.store.UpdateWritingStyle(ctx, style)
}

// DeleteStyle permanently removes a writing style.
func (s *StyleService) DeleteStyle(ctx context.Context, styleID string) error {
	if _, err := s.GetStyle(ctx, styleID); err != nil {
		return err
	}
	return s.store.DeleteWritingStyle(ctx, styleID)
}

func validateSamples(samples []string) error {
	if len(samples) < minStyleSamples || len(samples) > maxStyleSamples {
		return apperrors.Wrap(CodeInsufficientSamples, fmt.Sprintf("requires between %d and %d samples", minStyleSamples, maxStyleSamples), nil)
	}
	for i, sample := range samples {
		if wordCount(sample) < minSampleWords {
			return apperrors.Wrap(CodeInsufficientSamples, fmt.Sprintf("sample %d has fewer than %d words", i+1, minSampleWords), nil)
		}
	}
	return nil
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func buildAnalysisPrompt(samples []string) string {
	var b strings.Builder
	b.WriteString("Analyze the following writing samples for their shared voice across eight categories: ")
	b.WriteString(strings.Join(styleCategoryOrder, ", "))
	b.WriteString(". Score each category 0-10, then write a 1500-2000 word style guide a writer could follow to reproduce this voice. ")
	b.WriteString("Respond with a \"Scores:\" section listing \"category: score\" lines, followed by a \"Guide:\" section with the style guide.\n\n")
	for i, sample := range samples {
		b.WriteString(fmt.Sprintf("Sample %d:\n%s\n\n", i+1, sample))
	}
	return b.String()
}

// parseAnalysisResponse splits the model's reply into structured scores and the free-text
// guide that becomes the writing style's prompt_content. It degrades gracefully: a category
// the model didn't score is left at zero rather than failing the whole analysis.
func parseAnalysisResponse(content string) (StyleCategoryScores, string) {
	var scores StyleCategoryScores
	guideIdx := strings.Index(content, "Guide:")
	scoresBlock := content
	guide := content
	if guideIdx >= 0 {
		scoresBlock = content[:guideIdx]
		guide = strings.TrimSpace(content[guideIdx+len("Guide:"):])
	}

	fields := map[string]*float64{
		"vocabulary":          &scores.Vocabulary,
		"sentencestructure":   &scores.SentenceStructure,
		"thoughtcomposition":  &scores.ThoughtComposition,
		"paragraphstructure":  &scores.ParagraphStructure,
		"transitions":         &scores.Transitions,
		"tone":                &scores.Tone,
		"perspective":         &scores.Perspective,
		"dataintegration":     &scores.DataIntegration,
	}
	for _, line := range strings.Split(scoresBlock, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(parts[0], " ", "")))
		target, ok := fields[key]
		if !ok {
			continue
		}
		var val float64
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%f", &val); err == nil {
			*target = val
		}
	}

	if guide == "" {
		guide = strings.TrimSpace(content)
	}
	return scores, guide
}
