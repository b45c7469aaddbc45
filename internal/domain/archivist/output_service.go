package archivist

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/orgarchivist/archivist/pkg/errors"
	"github.com/orgarchivist/archivist/pkg/util"
)

// OutputService is the supplemented CRUD service for saved generated artifacts, enforcing the
// draft -> submitted -> pending -> {awarded, not_awarded} lifecycle from spec.md §3.
type OutputService struct {
	store  RelationalStore
	logger *slog.Logger
}

// NewOutputService constructs the output tracking service.
func NewOutputService(store RelationalStore, logger *slog.Logger) *OutputService {
	return &OutputService{store: store, logger: logger.With("component", "archivist.output")}
}

// CreateOutput saves a new artifact in the draft state.
func (s *OutputService) CreateOutput(ctx context.Context, o Output, callerUserID string) (Output, error) {
	if strings.TrimSpace(o.Title) == "" {
		return Output{}, apperrors.Wrap(CodeValidationError, "title is required", nil)
	}
	o.OutputID = uuid.NewString()
	o.Status = OutputStatusDraft
	o.WordCount = wordCount(o.Content)
	o.CreatedBy = callerUserID
	o.CreatedAt = util.NowUTC()
	o.UpdatedAt = util.NowUTC()
	return s.store.CreateOutput(ctx, o)
}

// GetOutput returns a single output by id.
func (s *OutputService) GetOutput(ctx context.Context, outputID string) (Output, error) {
	o, ok, err := s.store.GetOutput(ctx, outputID)
	if err != nil {
		return Output{}, apperrors.Wrap(CodeStoreUnavailable, "lookup failed", err)
	}
	if !ok {
		return Output{}, apperrors.Wrap(CodeNotFound, "output not found", nil)
	}
	return o, nil
}

// ListOutputs returns every output owned by a caller.
func (s *OutputService) ListOutputs(ctx context.Context, createdBy string) ([]Output, error) {
	return s.store.ListOutputs(ctx, createdBy)
}

// UpdateContent edits a draft's content; edits to a non-draft output are rejected since
// submitted/pending/terminal artifacts represent a record of what was actually sent out.
func (s *OutputService) UpdateContent(ctx context.Context, outputID, content string) (Output, error) {
	o, err := s.GetOutput(ctx, outputID)
	if err != nil {
		return Output{}, err
	}
	if o.Status != OutputStatusDraft {
		return Output{}, apperrors.Wrap(CodeConflict, "only draft outputs can be edited", nil)
	}
	o.Content = content
	o.WordCount = wordCount(content)
	o.UpdatedAt = util.NowUTC()
	if err := s.store.UpdateOutput(ctx, o); err != nil {
		return Output{}, err
	}
	return o, nil
}

// TransitionStatus moves an output through its lifecycle, rejecting any transition not in
// allowedOutputTransitions and any attempt to leave a terminal state.
func (s *OutputService) TransitionStatus(ctx context.Context, outputID string, next OutputStatus, funderName string, amount float64) (Output, error) {
	o, err := s.GetOutput(ctx, outputID)
	if err != nil {
		return Output{}, err
	}
	if !validOutputStatus(next) {
		return Output{}, apperrors.Wrap(CodeValidationError, "invalid status", nil)
	}
	if isTerminalOutputStatus(o.Status) {
		return Output{}, apperrors.Wrap(CodeValidationError, "output is already in a terminal state", nil)
	}
	if !allowedOutputTransitions[o.Status][next] {
		return Output{}, apperrors.Wrap(CodeValidationError, "transition not permitted from current status", nil)
	}

	now := util.NowUTC()
	o.Status = next
	o.UpdatedAt = now
	switch next {
	case OutputStatusSubmitted:
		o.FunderName = funderName
		if amount > 0 {
			o.RequestedAmount = amount
		}
		o.SubmissionDate = &now
	case OutputStatusAwarded:
		if amount > 0 {
			o.AwardedAmount = amount
		}
		o.DecisionDate = &now
	case OutputStatusNotAwarded:
		o.DecisionDate = &now
	}
	if err := s.store.UpdateOutput(ctx, o); err != nil {
		return Output{}, err
	}
	return o, nil
}

// DeleteOutput permanently removes an output.
func (s *OutputService) DeleteOutput(ctx context.Context, outputID string) error {
	if _, err := s.GetOutput(ctx, outputID); err != nil {
		return err
	}
	return s.store.DeleteOutput(ctx, outputID)
}
