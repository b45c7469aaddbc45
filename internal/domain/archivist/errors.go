package archivist

// Error codes propagated via pkg/errors.AppError, matching spec.md §7's taxonomy.
const (
	CodeValidationError        = "validation_error"
	CodeNotFound               = "not_found"
	CodeConflict               = "conflict"
	CodePayloadTooLarge        = "payload_too_large"
	CodeUnsupportedFormat      = "unsupported_format"
	CodeCorruptDocument        = "corrupt_document"
	CodeEmptyDocument          = "empty_document"
	CodeInsufficientSamples    = "insufficient_samples"
	CodeEmbeddingUnavailable   = "embedding_unavailable"
	CodeLLMUnavailable         = "llm_unavailable"
	CodeLLMRejected            = "llm_rejected"
	CodeStoreUnavailable       = "store_unavailable"
	CodeRetrievalUnavailable   = "retrieval_unavailable"
	CodeCancelled              = "cancelled"
)
