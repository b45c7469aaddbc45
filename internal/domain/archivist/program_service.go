package archivist

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/orgarchivist/archivist/pkg/errors"
)

// ProgramService is the supplemented CRUD service for a nonprofit's named program taxonomy,
// which C7's metadata validation and C9's retrieval filters both depend on.
type ProgramService struct {
	store  RelationalStore
	logger *slog.Logger
}

// NewProgramService constructs the program catalog service.
func NewProgramService(store RelationalStore, logger *slog.Logger) *ProgramService {
	return &ProgramService{store: store, logger: logger.With("component", "archivist.program")}
}

// CreateProgram adds a new named program category.
func (s *ProgramService) CreateProgram(ctx context.Context, p Program) (Program, error) {
	if strings.TrimSpace(p.Name) == "" {
		return Program{}, apperrors.Wrap(CodeValidationError, "name is required", nil)
	}
	if _, ok, err := s.store.GetProgramByName(ctx, p.Name); err != nil {
		return Program{}, apperrors.Wrap(CodeStoreUnavailable, "lookup failed", err)
	} else if ok {
		return Program{}, apperrors.Wrap(CodeValidationError, "a program with this name already exists", nil)
	}
	p.ProgramID = uuid.NewString()
	p.Active = true
	return s.store.CreateProgram(ctx, p)
}

// GetProgram returns a single program by id.
func (s *ProgramService) GetProgram(ctx context.Context, programID string) (Program, error) {
	p, ok, err := s.store.GetProgram(ctx, programID)
	if err != nil {
		return Program{}, apperrors.Wrap(CodeStoreUnavailable, "lookup failed", err)
	}
	if !ok {
		return Program{}, apperrors.Wrap(CodeNotFound, "program not found", nil)
	}
	return p, nil
}

// ListPrograms returns every program in display order.
func (s *ProgramService) ListPrograms(ctx context.Context) ([]Program, error) {
	return s.store.ListPrograms(ctx)
}

// UpdateProgram edits a program's display metadata.
func (s *ProgramService) UpdateProgram(ctx context.Context, p Program) error {
	if _, err := s.GetProgram(ctx, p.ProgramID); err != nil {
		return err
	}
	return s.store.UpdateProgram(ctx, p)
}

// DeleteProgram removes a program. If documents still reference it and force is false, the
// deletion is rejected so document metadata never dangles on a name that no longer resolves.
func (s *ProgramService) DeleteProgram(ctx context.Context, programID string, force bool) error {
	p, err := s.GetProgram(ctx, programID)
	if err != nil {
		return err
	}
	if !force {
		count, err := s.store.DocumentsUsingProgram(ctx, p.Name)
		if err != nil {
			return apperrors.Wrap(CodeStoreUnavailable, "usage lookup failed", err)
		}
		if count > 0 {
			return apperrors.Wrap(CodeConflict, "program is referenced by existing documents; pass force to delete anyway", nil)
		}
	}
	return s.store.DeleteProgram(ctx, programID, force)
}
