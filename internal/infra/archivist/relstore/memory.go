package relstore

import (
	"context"
	"sort"
	"sync"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
	apperrors "github.com/orgarchivist/archivist/pkg/errors"
)

// Memory is an in-process RelationalStore used in tests and as the no-database fallback.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]domain.Document
	programs  map[string]domain.Program
	convos    map[string]domain.Conversation
	messages  map[string][]domain.Message
	outputs   map[string]domain.Output
	styles    map[string]domain.WritingStyle
}

// NewMemory constructs the in-memory relational store.
func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]domain.Document),
		programs:  make(map[string]domain.Program),
		convos:    make(map[string]domain.Conversation),
		messages:  make(map[string][]domain.Message),
		outputs:   make(map[string]domain.Output),
		styles:    make(map[string]domain.WritingStyle),
	}
}

func (m *Memory) InsertDocument(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[doc.DocID] = doc
	return nil
}

func (m *Memory) GetDocument(_ context.Context, docID string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[docID]
	return doc, ok, nil
}

func (m *Memory) UpdateDocumentMetadata(_ context.Context, doc domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[doc.DocID]; !ok {
		return apperrors.Wrap(domain.CodeNotFound, "document not found", nil)
	}
	m.documents[doc.DocID] = doc
	return nil
}

func (m *Memory) DeleteDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, docID)
	return nil
}

func (m *Memory) ListDocuments(_ context.Context, filter domain.DocumentListFilter) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []domain.Document
	for _, doc := range m.documents {
		if !documentMatchesListFilter(doc, filter) {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadTimestamp.After(docs[j].UploadTimestamp) })
	if filter.Limit > 0 && len(docs) > filter.Offset+filter.Limit {
		docs = docs[filter.Offset : filter.Offset+filter.Limit]
	} else if filter.Offset > 0 && filter.Offset < len(docs) {
		docs = docs[filter.Offset:]
	}
	return docs, nil
}

func documentMatchesListFilter(doc domain.Document, f domain.DocumentListFilter) bool {
	if len(f.DocTypes) > 0 {
		found := false
		for _, t := range f.DocTypes {
			if t == doc.DocType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Years) > 0 {
		found := false
		for _, y := range f.Years {
			if y == doc.Year {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Outcomes) > 0 {
		found := false
		for _, o := range f.Outcomes {
			if o == doc.Outcome {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Programs) > 0 {
		found := false
		for _, want := range f.Programs {
			for _, have := range doc.Programs {
				if want == have {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *Memory) GetAllChunksTextByID(_ context.Context) ([]domain.ChunkTextRecord, error) {
	// The in-memory relational store has no direct line to C1's chunk vectors; callers
	// wiring an all-memory stack should rebuild BM25 from the in-memory vector store instead.
	return nil, nil
}

func (m *Memory) CreateProgram(_ context.Context, p domain.Program) (domain.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[p.ProgramID] = p
	return p, nil
}

func (m *Memory) GetProgram(_ context.Context, programID string) (domain.Program, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[programID]
	return p, ok, nil
}

func (m *Memory) GetProgramByName(_ context.Context, name string) (domain.Program, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.programs {
		if p.Name == name {
			return p, true, nil
		}
	}
	return domain.Program{}, false, nil
}

func (m *Memory) ListPrograms(_ context.Context) ([]domain.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	programs := make([]domain.Program, 0, len(m.programs))
	for _, p := range m.programs {
		programs = append(programs, p)
	}
	sort.Slice(programs, func(i, j int) bool { return programs[i].DisplayOrder < programs[j].DisplayOrder })
	return programs, nil
}

func (m *Memory) UpdateProgram(_ context.Context, p domain.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.programs[p.ProgramID]; !ok {
		return apperrors.Wrap(domain.CodeNotFound, "program not found", nil)
	}
	m.programs[p.ProgramID] = p
	return nil
}

func (m *Memory) DeleteProgram(_ context.Context, programID string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.programs, programID)
	return nil
}

func (m *Memory) DocumentsUsingProgram(_ context.Context, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, doc := range m.documents {
		for _, p := range doc.Programs {
			if p == name {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *Memory) CreateConversation(_ context.Context, c domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convos[c.ConversationID] = c
	return c, nil
}

func (m *Memory) GetConversation(_ context.Context, conversationID string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.convos[conversationID]
	return c, ok, nil
}

func (m *Memory) UpdateConversationContext(_ context.Context, conversationID string, patch domain.ConversationContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convos[conversationID]
	if !ok {
		return apperrors.Wrap(domain.CodeNotFound, "conversation not found", nil)
	}
	c.Context = patch
	m.convos[conversationID] = c
	return nil
}

func (m *Memory) DeleteConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convos, conversationID)
	delete(m.messages, conversationID)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg domain.Message) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return msg, nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Message(nil), m.messages[conversationID]...), nil
}

func (m *Memory) CreateOutput(_ context.Context, o domain.Output) (domain.Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[o.OutputID] = o
	return o, nil
}

func (m *Memory) GetOutput(_ context.Context, outputID string) (domain.Output, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.outputs[outputID]
	return o, ok, nil
}

func (m *Memory) UpdateOutput(_ context.Context, o domain.Output) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outputs[o.OutputID]; !ok {
		return apperrors.Wrap(domain.CodeNotFound, "output not found", nil)
	}
	m.outputs[o.OutputID] = o
	return nil
}

func (m *Memory) DeleteOutput(_ context.Context, outputID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outputs, outputID)
	return nil
}

func (m *Memory) ListOutputs(_ context.Context, createdBy string) ([]domain.Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var outputs []domain.Output
	for _, o := range m.outputs {
		if o.CreatedBy == createdBy {
			outputs = append(outputs, o)
		}
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].CreatedAt.After(outputs[j].CreatedAt) })
	return outputs, nil
}

func (m *Memory) CreateWritingStyle(_ context.Context, s domain.WritingStyle) (domain.WritingStyle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.styles[s.StyleID] = s
	return s, nil
}

func (m *Memory) GetWritingStyle(_ context.Context, styleID string) (domain.WritingStyle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.styles[styleID]
	return s, ok, nil
}

func (m *Memory) GetWritingStyleByName(_ context.Context, name string) (domain.WritingStyle, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.styles {
		if s.Name == name {
			return s, true, nil
		}
	}
	return domain.WritingStyle{}, false, nil
}

func (m *Memory) ListWritingStyles(_ context.Context) ([]domain.WritingStyle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	styles := make([]domain.WritingStyle, 0, len(m.styles))
	for _, s := range m.styles {
		styles = append(styles, s)
	}
	sort.Slice(styles, func(i, j int) bool { return styles[i].CreatedAt.After(styles[j].CreatedAt) })
	return styles, nil
}

func (m *Memory) UpdateWritingStyle(_ context.Context, s domain.WritingStyle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.styles[s.StyleID]; !ok {
		return apperrors.Wrap(domain.CodeNotFound, "writing style not found", nil)
	}
	m.styles[s.StyleID] = s
	return nil
}

func (m *Memory) DeleteWritingStyle(_ context.Context, styleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.styles, styleID)
	return nil
}

var _ domain.RelationalStore = (*Memory)(nil)
