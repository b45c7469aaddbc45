// Package chunker splits extracted document text into overlapping, token-budgeted segments,
// generalizing the teacher's SimpleChunker with configurable target/overlap and a choice of
// splitting strategy.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/orgarchivist/archivist/internal/domain/archivist"
)

var sentenceBoundary = regexp.MustCompile(`(?:[.!?]+["')\]]*)\s+`)

// Chunker is C6: token-aware chunking with SENTENCE/SEMANTIC/TOKEN strategies.
type Chunker struct {
	encoder *tiktoken.Tiktoken
}

// New constructs the chunker, loading the cl100k_base encoding used by the teacher's embedder.
func New() *Chunker {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Chunker{encoder: enc}
}

// Chunk dispatches to a strategy-specific splitter, all sharing the same token-budget
// accumulation primitives as the teacher's SimpleChunker.
func (c *Chunker) Chunk(text string, cfg archivist.ChunkingConfig) []archivist.TextChunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	target := cfg.TargetTokens
	if target <= 0 {
		target = 512
	}
	overlap := cfg.OverlapTokens
	if overlap < 0 {
		overlap = 0
	}

	var units []string
	switch cfg.Strategy {
	case archivist.StrategySentence:
		units = splitSentences(text)
	case archivist.StrategySemantic:
		units = splitParagraphs(text)
	default:
		units = strings.Fields(text)
	}

	return c.accumulate(units, target, overlap)
}

// accumulate packs units (sentences, paragraphs, or words) into chunks bounded by target
// tokens, carrying the trailing `overlap` tokens of each chunk into the next.
func (c *Chunker) accumulate(units []string, target, overlap int) []archivist.TextChunk {
	var (
		current strings.Builder
		out     []archivist.TextChunk
		index   int
	)
	maxRunes := target * 5

	flush := func() string {
		content := strings.TrimSpace(current.String())
		current.Reset()
		if content == "" {
			return ""
		}
		out = append(out, archivist.TextChunk{ChunkIndex: index, Text: content})
		index++
		return content
	}

	for _, unit := range units {
		unit = strings.TrimSpace(unit)
		if unit == "" {
			continue
		}
		if utf8.RuneCountInString(unit) > maxRunes {
			for _, piece := range splitLongUnit(unit, maxRunes) {
				c.appendWithFlush(&current, piece, target, maxRunes, &out, &index)
			}
			continue
		}
		c.appendWithFlush(&current, unit, target, maxRunes, &out, &index)
	}
	if last := flush(); last != "" && overlap > 0 {
		// flush() above emitted the final pending chunk; nothing further to do.
		_ = last
	}
	if overlap > 0 {
		out = c.applyOverlap(out, overlap)
	}
	return out
}

func (c *Chunker) appendWithFlush(current *strings.Builder, unit string, target, maxRunes int, out *[]archivist.TextChunk, index *int) {
	candidate := strings.TrimSpace(current.String() + " " + unit)
	if current.Len() > 0 && (c.countTokens(candidate) > target || utf8.RuneCountInString(candidate) > maxRunes) {
		content := strings.TrimSpace(current.String())
		if content != "" {
			*out = append(*out, archivist.TextChunk{ChunkIndex: *index, Text: content})
			*index++
		}
		current.Reset()
	}
	if current.Len() > 0 {
		current.WriteString(" ")
	}
	current.WriteString(unit)
}

// applyOverlap prepends the trailing `overlap` tokens of each chunk to the next one, matching
// the teacher's tailTokens-prefix behavior but applied as a post-pass over finished chunks
// rather than interleaved with accumulation, since sentence/paragraph units don't lend
// themselves to the word-at-a-time interleaving the teacher used for TOKEN-only splitting.
func (c *Chunker) applyOverlap(chunks []archivist.TextChunk, overlap int) []archivist.TextChunk {
	if len(chunks) < 2 {
		return chunks
	}
	result := make([]archivist.TextChunk, len(chunks))
	result[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		tail := c.tailTokens(chunks[i-1].Text, overlap)
		text := chunks[i].Text
		if tail != "" {
			text = tail + " " + text
		}
		result[i] = archivist.TextChunk{ChunkIndex: chunks[i].ChunkIndex, Text: text}
	}
	return result
}

func (c *Chunker) countTokens(text string) int {
	if text == "" {
		return 0
	}
	if c.encoder != nil {
		return len(c.encoder.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

func (c *Chunker) tailTokens(text string, limit int) string {
	if limit <= 0 || text == "" {
		return ""
	}
	if c.encoder != nil {
		ids := c.encoder.Encode(text, nil, nil)
		if len(ids) <= limit {
			return text
		}
		return c.encoder.Decode(ids[len(ids)-limit:])
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	return strings.Join(words[len(words)-limit:], " ")
}

func splitSentences(text string) []string {
	return sentenceBoundary.Split(text, -1)
}

func splitParagraphs(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool { return r == '\n' })
}

func splitLongUnit(unit string, maxRunes int) []string {
	if maxRunes <= 0 || utf8.RuneCountInString(unit) <= maxRunes {
		return []string{unit}
	}
	runes := []rune(unit)
	var parts []string
	for i := 0; i < len(runes); i += maxRunes {
		end := i + maxRunes
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[i:end]))
	}
	return parts
}

var _ archivist.Chunker = (*Chunker)(nil)
