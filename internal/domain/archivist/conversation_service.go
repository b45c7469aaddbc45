package archivist

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/orgarchivist/archivist/pkg/errors"
	"github.com/orgarchivist/archivist/pkg/util"
)

// ConversationService is C13: a chat session's persisted retrieval/generation context plus
// its append-only message history.
type ConversationService struct {
	store      RelationalStore
	generation *GenerationService
	logger     *slog.Logger
}

// NewConversationService constructs C13.
func NewConversationService(store RelationalStore, generation *GenerationService, logger *slog.Logger) *ConversationService {
	return &ConversationService{store: store, generation: generation, logger: logger.With("component", "archivist.conversation")}
}

// CreateConversation starts a new chat session with a default empty context.
func (s *ConversationService) CreateConversation(ctx context.Context, name, ownerUserID string) (Conversation, error) {
	c := Conversation{
		ConversationID: uuid.NewString(),
		Name:           name,
		OwnerUserID:    ownerUserID,
		CreatedAt:      util.NowUTC(),
		UpdatedAt:      util.NowUTC(),
	}
	return s.store.CreateConversation(ctx, c)
}

// GetConversation returns a conversation by id.
func (s *ConversationService) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	c, ok, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, apperrors.Wrap(CodeStoreUnavailable, "lookup failed", err)
	}
	if !ok {
		return Conversation{}, apperrors.Wrap(CodeNotFound, "conversation not found", nil)
	}
	return c, nil
}

// UpdateContext patches a conversation's pinned retrieval/generation context: audience,
// section, writing style and working output change only when the patch sets them (non-empty),
// while filters are always replaced by the patch's filters.
func (s *ConversationService) UpdateContext(ctx context.Context, conversationID string, patch ConversationContext) (Conversation, error) {
	c, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if patch.Audience != "" {
		c.Context.Audience = patch.Audience
	}
	if patch.Section != "" {
		c.Context.Section = patch.Section
	}
	if patch.WritingStyleID != "" {
		c.Context.WritingStyleID = patch.WritingStyleID
	}
	if patch.WorkingOutputID != "" {
		c.Context.WorkingOutputID = patch.WorkingOutputID
	}
	c.Context.Filters = patch.Filters
	if err := s.store.UpdateConversationContext(ctx, conversationID, c.Context); err != nil {
		return Conversation{}, apperrors.Wrap(CodeStoreUnavailable, "context update failed", err)
	}
	return s.GetConversation(ctx, conversationID)
}

// DeleteConversation removes a conversation and its message history.
func (s *ConversationService) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	return s.store.DeleteConversation(ctx, conversationID)
}

// ListMessages returns a conversation's ordered message history.
func (s *ConversationService) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	return s.store.ListMessages(ctx, conversationID)
}

// Chat is the orchestration operation from spec.md §6: it resolves (or creates) a
// conversation, appends the user's message, generates a reply against the conversation's
// pinned context, and appends the assistant's reply with its supporting sources.
func (s *ConversationService) Chat(ctx context.Context, conversationID, message, ownerUserID string, contextPatch *ConversationContext) (Conversation, Message, error) {
	if strings.TrimSpace(message) == "" {
		return Conversation{}, Message{}, apperrors.Wrap(CodeValidationError, "message is required", nil)
	}

	var convo Conversation
	var err error
	if conversationID == "" {
		convo, err = s.CreateConversation(ctx, truncateForTitle(message), ownerUserID)
	} else {
		convo, err = s.GetConversation(ctx, conversationID)
	}
	if err != nil {
		return Conversation{}, Message{}, err
	}

	if contextPatch != nil {
		convo, err = s.UpdateContext(ctx, convo.ConversationID, *contextPatch)
		if err != nil {
			return Conversation{}, Message{}, err
		}
	}

	if _, err := s.store.AppendMessage(ctx, Message{
		ConversationID: convo.ConversationID,
		Role:           RoleUser,
		Content:        message,
		CreatedAt:      util.NowUTC(),
	}); err != nil {
		return Conversation{}, Message{}, apperrors.Wrap(CodeStoreUnavailable, "append user message failed", err)
	}

	result, sources, _, err := s.generation.Generate(ctx, GenerateRequest{
		Query:          message,
		Audience:       convo.Context.Audience,
		Section:        convo.Context.Section,
		WritingStyleID: convo.Context.WritingStyleID,
		Filters:        convo.Context.Filters,
	})
	if err != nil {
		return Conversation{}, Message{}, err
	}

	assistantMsg, err := s.store.AppendMessage(ctx, Message{
		ConversationID: convo.ConversationID,
		Role:           RoleAssistant,
		Content:        result.Content,
		Sources:        sources,
		CreatedAt:      util.NowUTC(),
	})
	if err != nil {
		return Conversation{}, Message{}, apperrors.Wrap(CodeStoreUnavailable, "append assistant message failed", err)
	}

	return convo, assistantMsg, nil
}

func truncateForTitle(message string) string {
	const maxLen = 60
	message = strings.TrimSpace(message)
	if len(message) <= maxLen {
		return message
	}
	return message[:maxLen] + "..."
}
