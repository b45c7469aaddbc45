// Package relstore is C2+C13: typed CRUD and transactional writes for every entity in
// spec.md §3, grounded on the teacher's PostgresDocumentRepository/PostgresQASessionRepository/
// PostgresQueryLogRepository shape, generalized from the teacher's flat session+log pair into
// the richer Conversation+Message model and extended with Program/Output/WritingStyle tables
// and their junctions the teacher never needed.
package relstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
)

// Postgres is C2+C13: the relational store backing every archivist entity.
type Postgres struct {
	pool *pgxpool.Pool
}

// New constructs the Postgres-backed relational store.
func New(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// InsertDocument writes a document row and its program junction rows in one transaction.
func (p *Postgres) InsertDocument(ctx context.Context, doc domain.Document) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO archivist_documents
			(doc_id, filename, doc_type, year, outcome, file_size_bytes, chunks_count, upload_timestamp,
			 created_by, is_sensitive, sensitivity_level, notes, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, doc.DocID, doc.Filename, string(doc.DocType), doc.Year, string(doc.Outcome), doc.FileSizeBytes,
		doc.ChunksCount, doc.UploadTimestamp, doc.CreatedBy, doc.IsSensitive, string(doc.SensitivityLevel),
		doc.Notes, doc.Tags)
	if err != nil {
		return err
	}

	for _, programName := range doc.Programs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO archivist_document_programs (doc_id, program_name)
			SELECT $1, $2 WHERE EXISTS (SELECT 1 FROM archivist_programs WHERE name = $2)
		`, doc.DocID, programName); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetDocument returns a single document and its program list.
func (p *Postgres) GetDocument(ctx context.Context, docID string) (domain.Document, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT doc_id, filename, doc_type, year, outcome, file_size_bytes, chunks_count, upload_timestamp,
			created_by, is_sensitive, sensitivity_level, notes, tags
		FROM archivist_documents WHERE doc_id = $1
	`, docID)
	doc, err := scanDocument(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	programs, err := p.programsForDoc(ctx, docID)
	if err != nil {
		return domain.Document{}, false, err
	}
	doc.Programs = programs
	return doc, true, nil
}

func (p *Postgres) programsForDoc(ctx context.Context, docID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT program_name FROM archivist_document_programs WHERE doc_id = $1`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpdateDocumentMetadata edits a document's editable metadata fields.
func (p *Postgres) UpdateDocumentMetadata(ctx context.Context, doc domain.Document) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE archivist_documents
		SET doc_type = $1, year = $2, outcome = $3, is_sensitive = $4, sensitivity_level = $5,
			notes = $6, tags = $7
		WHERE doc_id = $8
	`, string(doc.DocType), doc.Year, string(doc.Outcome), doc.IsSensitive, string(doc.SensitivityLevel),
		doc.Notes, doc.Tags, doc.DocID)
	return err
}

// DeleteDocument removes a document and its program junction rows (cascading).
func (p *Postgres) DeleteDocument(ctx context.Context, docID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM archivist_documents WHERE doc_id = $1`, docID)
	return err
}

// ListDocuments returns documents matching filter, newest first.
func (p *Postgres) ListDocuments(ctx context.Context, filter domain.DocumentListFilter) ([]domain.Document, error) {
	query := `
		SELECT doc_id, filename, doc_type, year, outcome, file_size_bytes, chunks_count, upload_timestamp,
			created_by, is_sensitive, sensitivity_level, notes, tags
		FROM archivist_documents WHERE 1=1
	`
	var args []any
	pos := 1
	if len(filter.DocTypes) > 0 {
		types := make([]string, len(filter.DocTypes))
		for i, t := range filter.DocTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND doc_type = ANY($%d)", pos)
		args = append(args, types)
		pos++
	}
	if len(filter.Years) > 0 {
		query += fmt.Sprintf(" AND year = ANY($%d)", pos)
		args = append(args, filter.Years)
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
		query += fmt.Sprintf(" AND doc_id IN (SELECT doc_id FROM archivist_document_programs WHERE program_name = ANY($%d))", pos)
		args = append(args, filter.Programs)
		pos++
	}
	query += " ORDER BY upload_timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range docs {
		programs, err := p.programsForDoc(ctx, docs[i].DocID)
		if err != nil {
			return nil, err
		}
		docs[i].Programs = programs
	}
	return docs, nil
}

// GetAllChunksTextByID returns every persisted chunk's text and metadata for BM25 rebuild.
func (p *Postgres) GetAllChunksTextByID(ctx context.Context) ([]domain.ChunkTextRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT chunk_id, doc_id, content, doc_type, year, outcome, programs, tags, filename
		FROM archivist_chunk_vectors
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.ChunkTextRecord
	for rows.Next() {
		var r domain.ChunkTextRecord
		var docType, outcome string
		if err := rows.Scan(&r.ChunkID, &r.DocID, &r.Text, &docType, &r.Year, &outcome, &r.Programs, &r.Tags, &r.Filename); err != nil {
			return nil, err
		}
		r.DocType = domain.DocType(docType)
		r.Outcome = domain.Outcome(outcome)
		records = append(records, r)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var docType, outcome, sensitivity string
	err := row.Scan(&doc.DocID, &doc.Filename, &docType, &doc.Year, &outcome, &doc.FileSizeBytes,
		&doc.ChunksCount, &doc.UploadTimestamp, &doc.CreatedBy, &doc.IsSensitive, &sensitivity,
		&doc.Notes, &doc.Tags)
	if err != nil {
		return domain.Document{}, err
	}
	doc.DocType = domain.DocType(docType)
	doc.Outcome = domain.Outcome(outcome)
	doc.SensitivityLevel = domain.SensitivityLevel(sensitivity)
	return doc, nil
}

// CreateProgram inserts a new program row.
func (p *Postgres) CreateProgram(ctx context.Context, prog domain.Program) (domain.Program, error) {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO archivist_programs (program_id, name, description, display_order, active)
		VALUES ($1, $2, $3, $4, $5)
	`, prog.ProgramID, prog.Name, prog.Description, prog.DisplayOrder, prog.Active)
	return prog, err
}

// GetProgram returns a program by id.
func (p *Postgres) GetProgram(ctx context.Context, programID string) (domain.Program, bool, error) {
	return p.queryProgram(ctx, `WHERE program_id = $1`, programID)
}

// GetProgramByName returns a program by its unique name.
func (p *Postgres) GetProgramByName(ctx context.Context, name string) (domain.Program, bool, error) {
	return p.queryProgram(ctx, `WHERE name = $1`, name)
}

func (p *Postgres) queryProgram(ctx context.Context, clause string, arg any) (domain.Program, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT program_id, name, description, display_order, active
		FROM archivist_programs `+clause, arg)
	var prog domain.Program
	if err := row.Scan(&prog.ProgramID, &prog.Name, &prog.Description, &prog.DisplayOrder, &prog.Active); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Program{}, false, nil
		}
		return domain.Program{}, false, err
	}
	return prog, true, nil
}

// ListPrograms returns every program in display order.
func (p *Postgres) ListPrograms(ctx context.Context) ([]domain.Program, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT program_id, name, description, display_order, active
		FROM archivist_programs ORDER BY display_order ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var programs []domain.Program
	for rows.Next() {
		var prog domain.Program
		if err := rows.Scan(&prog.ProgramID, &prog.Name, &prog.Description, &prog.DisplayOrder, &prog.Active); err != nil {
			return nil, err
		}
		programs = append(programs, prog)
	}
	return programs, rows.Err()
}

// UpdateProgram edits a program's display metadata.
func (p *Postgres) UpdateProgram(ctx context.Context, prog domain.Program) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE archivist_programs SET name = $1, description = $2, display_order = $3, active = $4
		WHERE program_id = $5
	`, prog.Name, prog.Description, prog.DisplayOrder, prog.Active, prog.ProgramID)
	return err
}

// DeleteProgram removes a program; force also removes its junction rows from documents.
func (p *Postgres) DeleteProgram(ctx context.Context, programID string, force bool) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if force {
		if _, err := tx.Exec(ctx, `
			DELETE FROM archivist_document_programs WHERE program_name = (SELECT name FROM archivist_programs WHERE program_id = $1)
		`, programID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM archivist_programs WHERE program_id = $1`, programID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DocumentsUsingProgram counts documents currently tagged with a program name.
func (p *Postgres) DocumentsUsingProgram(ctx context.Context, name string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM archivist_document_programs WHERE program_name = $1`, name).Scan(&count)
	return count, err
}

// CreateConversation inserts a new conversation with its JSON-encoded context.
func (p *Postgres) CreateConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	ctxJSON, err := json.Marshal(c.Context)
	if err != nil {
		return domain.Conversation{}, err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO archivist_conversations (conversation_id, name, owner_user_id, context, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ConversationID, c.Name, c.OwnerUserID, ctxJSON, c.CreatedAt, c.UpdatedAt)
	return c, err
}

// GetConversation returns a conversation by id, decoding its JSON context column.
func (p *Postgres) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT conversation_id, name, owner_user_id, context, created_at, updated_at
		FROM archivist_conversations WHERE conversation_id = $1
	`, conversationID)
	var c domain.Conversation
	var ctxJSON []byte
	if err := row.Scan(&c.ConversationID, &c.Name, &c.OwnerUserID, &ctxJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	_ = json.Unmarshal(ctxJSON, &c.Context)
	return c, true, nil
}

// UpdateConversationContext overwrites a conversation's pinned retrieval/generation context.
func (p *Postgres) UpdateConversationContext(ctx context.Context, conversationID string, patch domain.ConversationContext) error {
	ctxJSON, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE archivist_conversations SET context = $1, updated_at = NOW() WHERE conversation_id = $2
	`, ctxJSON, conversationID)
	return err
}

// DeleteConversation removes a conversation and its messages (cascading).
func (p *Postgres) DeleteConversation(ctx context.Context, conversationID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM archivist_conversations WHERE conversation_id = $1`, conversationID)
	return err
}

// AppendMessage inserts an immutable conversation turn with its JSON-encoded source list.
func (p *Postgres) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	sources, err := json.Marshal(m.Sources)
	if err != nil {
		return domain.Message{}, err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO archivist_messages (message_id, conversation_id, role, content, sources, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.MessageID, m.ConversationID, string(m.Role), m.Content, sources, m.CreatedAt)
	return m, err
}

// ListMessages returns a conversation's history in turn order.
func (p *Postgres) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT message_id, conversation_id, role, content, sources, created_at
		FROM archivist_messages WHERE conversation_id = $1 ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var role string
		var sourcesJSON []byte
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &role, &m.Content, &sourcesJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = domain.MessageRole(role)
		_ = json.Unmarshal(sourcesJSON, &m.Sources)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CreateOutput inserts a new tracked artifact.
func (p *Postgres) CreateOutput(ctx context.Context, o domain.Output) (domain.Output, error) {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO archivist_outputs
			(output_id, conversation_id, output_type, title, content, word_count, status, writing_style_id,
			 funder_name, requested_amount, awarded_amount, submission_date, decision_date, success_notes,
			 created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, o.OutputID, o.ConversationID, o.OutputType, o.Title, o.Content, o.WordCount, string(o.Status),
		o.WritingStyleID, o.FunderName, o.RequestedAmount, o.AwardedAmount, o.SubmissionDate, o.DecisionDate,
		o.SuccessNotes, o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	return o, err
}

// GetOutput returns an output by id.
func (p *Postgres) GetOutput(ctx context.Context, outputID string) (domain.Output, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT output_id, conversation_id, output_type, title, content, word_count, status, writing_style_id,
			funder_name, requested_amount, awarded_amount, submission_date, decision_date, success_notes,
			created_by, created_at, updated_at
		FROM archivist_outputs WHERE output_id = $1
	`, outputID)
	return scanOutput(row)
}

func scanOutput(row rowScanner) (domain.Output, bool, error) {
	var o domain.Output
	var status string
	err := row.Scan(&o.OutputID, &o.ConversationID, &o.OutputType, &o.Title, &o.Content, &o.WordCount, &status,
		&o.WritingStyleID, &o.FunderName, &o.RequestedAmount, &o.AwardedAmount, &o.SubmissionDate, &o.DecisionDate,
		&o.SuccessNotes, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Output{}, false, nil
		}
		return domain.Output{}, false, err
	}
	o.Status = domain.OutputStatus(status)
	return o, true, nil
}

// UpdateOutput persists an output's mutable fields.
func (p *Postgres) UpdateOutput(ctx context.Context, o domain.Output) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE archivist_outputs SET
			content = $1, word_count = $2, status = $3, funder_name = $4, requested_amount = $5,
			awarded_amount = $6, submission_date = $7, decision_date = $8, success_notes = $9, updated_at = $10
		WHERE output_id = $11
	`, o.Content, o.WordCount, string(o.Status), o.FunderName, o.RequestedAmount, o.AwardedAmount,
		o.SubmissionDate, o.DecisionDate, o.SuccessNotes, o.UpdatedAt, o.OutputID)
	return err
}

// DeleteOutput permanently removes an output.
func (p *Postgres) DeleteOutput(ctx context.Context, outputID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM archivist_outputs WHERE output_id = $1`, outputID)
	return err
}

// ListOutputs returns every output created by a user, newest first.
func (p *Postgres) ListOutputs(ctx context.Context, createdBy string) ([]domain.Output, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT output_id, conversation_id, output_type, title, content, word_count, status, writing_style_id,
			funder_name, requested_amount, awarded_amount, submission_date, decision_date, success_notes,
			created_by, created_at, updated_at
		FROM archivist_outputs WHERE created_by = $1 ORDER BY created_at DESC
	`, createdBy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var outputs []domain.Output
	for rows.Next() {
		o, _, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, o)
	}
	return outputs, rows.Err()
}

// CreateWritingStyle persists a newly analyzed writing style.
func (p *Postgres) CreateWritingStyle(ctx context.Context, s domain.WritingStyle) (domain.WritingStyle, error) {
	metaJSON, err := json.Marshal(s.AnalysisMetadata)
	if err != nil {
		return domain.WritingStyle{}, err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO archivist_writing_styles
			(style_id, name, type, description, prompt_content, samples, analysis_metadata, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.StyleID, s.Name, string(s.Type), s.Description, s.PromptContent, s.Samples, metaJSON, s.Active, s.CreatedAt, s.UpdatedAt)
	return s, err
}

// GetWritingStyle returns a writing style by id.
func (p *Postgres) GetWritingStyle(ctx context.Context, styleID string) (domain.WritingStyle, bool, error) {
	return p.queryWritingStyle(ctx, `WHERE style_id = $1`, styleID)
}

// GetWritingStyleByName returns a writing style by name.
func (p *Postgres) GetWritingStyleByName(ctx context.Context, name string) (domain.WritingStyle, bool, error) {
	return p.queryWritingStyle(ctx, `WHERE name = $1`, name)
}

func (p *Postgres) queryWritingStyle(ctx context.Context, clause string, arg any) (domain.WritingStyle, bool, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT style_id, name, type, description, prompt_content, samples, analysis_metadata, active, created_at, updated_at
		FROM archivist_writing_styles `+clause, arg)
	var s domain.WritingStyle
	var styleType string
	var metaJSON []byte
	if err := row.Scan(&s.StyleID, &s.Name, &styleType, &s.Description, &s.PromptContent, &s.Samples,
		&metaJSON, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.WritingStyle{}, false, nil
		}
		return domain.WritingStyle{}, false, err
	}
	s.Type = domain.WritingStyleType(styleType)
	_ = json.Unmarshal(metaJSON, &s.AnalysisMetadata)
	return s, true, nil
}

// ListWritingStyles returns every writing style, active and retired.
func (p *Postgres) ListWritingStyles(ctx context.Context) ([]domain.WritingStyle, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT style_id, name, type, description, prompt_content, samples, analysis_metadata, active, created_at, updated_at
		FROM archivist_writing_styles ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var styles []domain.WritingStyle
	for rows.Next() {
		var s domain.WritingStyle
		var styleType string
		var metaJSON []byte
		if err := rows.Scan(&s.StyleID, &s.Name, &styleType, &s.Description, &s.PromptContent, &s.Samples,
			&metaJSON, &s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Type = domain.WritingStyleType(styleType)
		_ = json.Unmarshal(metaJSON, &s.AnalysisMetadata)
		styles = append(styles, s)
	}
	return styles, rows.Err()
}

// UpdateWritingStyle persists a writing style's mutable fields.
func (p *Postgres) UpdateWritingStyle(ctx context.Context, s domain.WritingStyle) error {
	metaJSON, err := json.Marshal(s.AnalysisMetadata)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE archivist_writing_styles SET
			description = $1, prompt_content = $2, analysis_metadata = $3, active = $4, updated_at = $5
		WHERE style_id = $6
	`, s.Description, s.PromptContent, metaJSON, s.Active, s.UpdatedAt, s.StyleID)
	return err
}

// DeleteWritingStyle permanently removes a writing style.
func (p *Postgres) DeleteWritingStyle(ctx context.Context, styleID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM archivist_writing_styles WHERE style_id = $1`, styleID)
	return err
}

var _ domain.RelationalStore = (*Postgres)(nil)
