package archivist

import "time"

// DocType enumerates the kinds of documents the archive accepts.
type DocType string

const (
	DocTypeGrantProposal DocType = "Grant Proposal"
	DocTypeGrantReport   DocType = "Grant Report"
	DocTypeCaseStudy     DocType = "Case Study"
	DocTypeAnnualReport  DocType = "Annual Report"
	DocTypeOther         DocType = "Other"
)

func validDocType(t DocType) bool {
	switch t {
	case DocTypeGrantProposal, DocTypeGrantReport, DocTypeCaseStudy, DocTypeAnnualReport, DocTypeOther:
		return true
	}
	return false
}

// Outcome enumerates the funding outcome of a document.
type Outcome string

const (
	OutcomeAwarded    Outcome = "Awarded"
	OutcomeNotAwarded Outcome = "Not Awarded"
	OutcomePending    Outcome = "Pending"
	OutcomeNA         Outcome = "N/A"
)

func validOutcome(o Outcome) bool {
	switch o {
	case OutcomeAwarded, OutcomeNotAwarded, OutcomePending, OutcomeNA:
		return true
	}
	return false
}

// SensitivityLevel classifies how sensitive a document's content is.
type SensitivityLevel string

const (
	SensitivityLow    SensitivityLevel = "low"
	SensitivityMedium SensitivityLevel = "medium"
	SensitivityHigh   SensitivityLevel = "high"
)

func validSensitivity(s SensitivityLevel) bool {
	switch s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

// Document is a single ingested file and its archive metadata.
type Document struct {
	DocID           string
	Filename        string
	DocType         DocType
	Year            int
	Outcome         Outcome
	FileSizeBytes   int64
	ChunksCount     int
	UploadTimestamp time.Time
	CreatedBy       string
	IsSensitive     bool
	SensitivityLevel SensitivityLevel
	Notes           string
	Programs        []string
	Tags            []string
}

// Chunk is an embedding-bearing text fragment denormalizing its parent's metadata.
type Chunk struct {
	ChunkID     string
	DocID       string
	ChunkIndex  int
	Text        string
	Embedding   []float32
	DocType     DocType
	Year        int
	Outcome     Outcome
	Programs    []string
	Tags        []string
	Filename    string
}

// Program is a named organizational category used for metadata filtering.
type Program struct {
	ProgramID    string
	Name         string
	Description  string
	DisplayOrder int
	Active       bool
}

// ConversationContext is the retrieval/generation configuration pinned to a conversation.
type ConversationContext struct {
	Audience        string
	Section         string
	WritingStyleID  string
	Filters         RetrievalFilters
	WorkingOutputID string
}

// Conversation is a chat session with a persisted context and ordered messages.
type Conversation struct {
	ConversationID string
	Name           string
	OwnerUserID    string
	Context        ConversationContext
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageRole enumerates the speaker of a conversation turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// SourceRef ties a generated message back to the retrieved chunk that supports it.
type SourceRef struct {
	ChunkID string
	DocID   string
	Score   float64
}

// Message is a single conversation turn.
type Message struct {
	MessageID      string
	ConversationID string
	Role           MessageRole
	Content        string
	Sources        []SourceRef
	CreatedAt      time.Time
}

// OutputStatus enumerates the lifecycle states of a saved generated artifact.
type OutputStatus string

const (
	OutputStatusDraft      OutputStatus = "draft"
	OutputStatusSubmitted  OutputStatus = "submitted"
	OutputStatusPending    OutputStatus = "pending"
	OutputStatusAwarded    OutputStatus = "awarded"
	OutputStatusNotAwarded OutputStatus = "not_awarded"
)

func validOutputStatus(s OutputStatus) bool {
	switch s {
	case OutputStatusDraft, OutputStatusSubmitted, OutputStatusPending, OutputStatusAwarded, OutputStatusNotAwarded:
		return true
	}
	return false
}

// allowedOutputTransitions encodes the state machine from spec.md §3: draft -> submitted ->
// pending -> {awarded, not_awarded}, plus explicit terminal shortcuts from draft.
var allowedOutputTransitions = map[OutputStatus]map[OutputStatus]bool{
	OutputStatusDraft: {
		OutputStatusSubmitted:  true,
		OutputStatusAwarded:    true,
		OutputStatusNotAwarded: true,
	},
	OutputStatusSubmitted: {
		OutputStatusPending: true,
	},
	OutputStatusPending: {
		OutputStatusAwarded:    true,
		OutputStatusNotAwarded: true,
	},
	OutputStatusAwarded:    {},
	OutputStatusNotAwarded: {},
}

func isTerminalOutputStatus(s OutputStatus) bool {
	return s == OutputStatusAwarded || s == OutputStatusNotAwarded
}

// Output is a saved/tracked generated artifact with grant-lifecycle financial tracking.
type Output struct {
	OutputID        string
	ConversationID  string
	OutputType      string
	Title           string
	Content         string
	WordCount       int
	Status          OutputStatus
	WritingStyleID  string
	FunderName      string
	RequestedAmount float64
	AwardedAmount   float64
	SubmissionDate  *time.Time
	DecisionDate    *time.Time
	SuccessNotes    string
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WritingStyleType enumerates the target register a style prompt is built for.
type WritingStyleType string

const (
	StyleTypeGrant    WritingStyleType = "grant"
	StyleTypeProposal WritingStyleType = "proposal"
	StyleTypeReport   WritingStyleType = "report"
	StyleTypeGeneral  WritingStyleType = "general"
)

func validStyleType(t WritingStyleType) bool {
	switch t {
	case StyleTypeGrant, StyleTypeProposal, StyleTypeReport, StyleTypeGeneral:
		return true
	}
	return false
}

// StyleCategoryScores holds the per-category emphasis scores produced by the style analyzer.
type StyleCategoryScores struct {
	Vocabulary          float64 `json:"vocabulary"`
	SentenceStructure   float64 `json:"sentenceStructure"`
	ThoughtComposition  float64 `json:"thoughtComposition"`
	ParagraphStructure  float64 `json:"paragraphStructure"`
	Transitions         float64 `json:"transitions"`
	Tone                float64 `json:"tone"`
	Perspective         float64 `json:"perspective"`
	DataIntegration     float64 `json:"dataIntegration"`
}

// WritingStyle is a reusable, analyzer-produced prompt that conditions the generator.
type WritingStyle struct {
	StyleID          string
	Name             string
	Type             WritingStyleType
	Description      string
	PromptContent    string
	Samples          []string
	AnalysisMetadata StyleCategoryScores
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// RetrievalFilters is the metadata predicate pushed down to C1 and applied client-side to C8.
type RetrievalFilters struct {
	DocTypes      []DocType
	YearMin       *int
	YearMax       *int
	Outcomes      []Outcome
	Programs      []string
	Tags          []string
	ExcludeDocIDs []string
	// DocIDEquals restricts the filter to a single document; used by C1 delete(filter) for
	// whole-document deletion rather than as a retrieval-time predicate.
	DocIDEquals string
}
