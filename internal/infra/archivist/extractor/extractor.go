// Package extractor adapts byte-slice uploads into the normalized UTF-8 text the ingestion
// pipeline chunks and embeds, dispatching by MIME hint the way niski84-the-hive's parser
// package dispatches by file extension.
package extractor

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/nguyenthenguyen/docx"

	"github.com/orgarchivist/archivist/internal/domain/archivist"
	apperrors "github.com/orgarchivist/archivist/pkg/errors"
)

// runsOfSpace and runsOfBlankLines implement spec.md §4.1's whitespace normalization:
// collapse runs of horizontal whitespace, but preserve paragraph breaks (capped at one
// blank line between paragraphs rather than the arbitrary runs PDF column extraction and
// DOCX run breaks tend to leave behind).
var (
	runsOfSpace      = regexp.MustCompile(`[ \t]+`)
	runsOfBlankLines = regexp.MustCompile(`\n{3,}`)
)

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = runsOfSpace.ReplaceAllString(text, " ")
	text = runsOfBlankLines.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// MIME hints the dispatcher recognizes; an empty hint is read as plain text and any other
// hint fails with unsupported_format.
const (
	mimePDF  = "application/pdf"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimeTXT  = "text/plain"
)

// Extractor is C5: PDF via go-fitz, DOCX via nguyenthenguyen/docx, text/plain (or no hint) as text.
type Extractor struct{}

// New constructs the byte-slice text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract dispatches on mimeHint and returns normalized UTF-8 text.
func (e *Extractor) Extract(ctx context.Context, content []byte, mimeHint string) (string, error) {
	switch mimeHint {
	case mimePDF:
		return extractPDF(content)
	case mimeDOCX:
		return extractDOCX(content)
	case mimeTXT, "":
		return extractText(content)
	default:
		return "", apperrors.Wrap(archivist.CodeUnsupportedFormat, fmt.Sprintf("unsupported mime type: %s", mimeHint), nil)
	}
}

// extractPDF spools to a temp file because go-fitz's MuPDF binding needs a filesystem path,
// not an in-memory reader.
func extractPDF(content []byte) (string, error) {
	path, cleanup, err := spool(content, "archivist-*.pdf")
	if err != nil {
		return "", apperrors.Wrap(archivist.CodeCorruptDocument, "could not spool PDF for parsing", err)
	}
	defer cleanup()

	doc, err := fitz.New(path)
	if err != nil {
		return "", apperrors.Wrap(archivist.CodeCorruptDocument, "failed to open PDF", err)
	}
	defer doc.Close()

	var b strings.Builder
	numPages := doc.NumPage()
	for i := 0; i < numPages; i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
		if i < numPages-1 {
			b.WriteString("\n\n")
		}
	}

	text := normalizeWhitespace(b.String())
	if text == "" {
		return "", apperrors.Wrap(archivist.CodeEmptyDocument, "no text extracted from PDF", nil)
	}
	return text, nil
}

func extractDOCX(content []byte) (string, error) {
	path, cleanup, err := spool(content, "archivist-*.docx")
	if err != nil {
		return "", apperrors.Wrap(archivist.CodeCorruptDocument, "could not spool DOCX for parsing", err)
	}
	defer cleanup()

	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", apperrors.Wrap(archivist.CodeCorruptDocument, "failed to open DOCX file", err)
	}
	defer doc.Close()

	text := normalizeWhitespace(doc.Editable().GetContent())
	if text == "" {
		return "", apperrors.Wrap(archivist.CodeEmptyDocument, "no text extracted from DOCX", nil)
	}
	return text, nil
}

func extractText(content []byte) (string, error) {
	text := normalizeWhitespace(string(content))
	if text == "" {
		return "", apperrors.Wrap(archivist.CodeEmptyDocument, "document is empty", nil)
	}
	return text, nil
}

func spool(content []byte, pattern string) (string, func(), error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", func() {}, err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", func() {}, err
	}
	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}
