package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	archivist "github.com/orgarchivist/archivist/internal/domain/archivist"
	"github.com/orgarchivist/archivist/internal/domain/auth"
	apperrors "github.com/orgarchivist/archivist/pkg/errors"
)

// Handler wires the HTTP transport to domain services.
type Handler struct {
	ingestion    *archivist.IngestionService
	retrieval    *archivist.RetrievalService
	generation   *archivist.GenerationService
	style        *archivist.StyleService
	conversation *archivist.ConversationService
	output       *archivist.OutputService
	program      *archivist.ProgramService
	authSvc      auth.Service
	logger       *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(
	ingestion *archivist.IngestionService,
	retrieval *archivist.RetrievalService,
	generation *archivist.GenerationService,
	style *archivist.StyleService,
	conversation *archivist.ConversationService,
	output *archivist.OutputService,
	program *archivist.ProgramService,
	authSvc auth.Service,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ingestion:    ingestion,
		retrieval:    retrieval,
		generation:   generation,
		style:        style,
		conversation: conversation,
		output:       output,
		program:      program,
		authSvc:      authSvc,
		logger:       logger.With("component", "http.handler"),
	}
}

// Register handles account creation.
func (h *Handler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	user, err := h.authSvc.Register(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		switch {
		case apperrors.IsCode(err, "invalid_input"):
			status = http.StatusBadRequest
			code = "invalid_request"
		case apperrors.IsCode(err, "email_exists"):
			status = http.StatusConflict
			code = "email_exists"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "User registered successfully",
		"user":    user,
	})
}

// Login authenticates and issues a JWT.
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	resp, err := h.authSvc.Login(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		switch {
		case apperrors.IsCode(err, "invalid_input"):
			status = http.StatusBadRequest
			code = "invalid_request"
		case apperrors.IsCode(err, "invalid_credentials"):
			status = http.StatusUnauthorized
			code = "invalid_credentials"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Refresh exchanges a refresh token for a new access token.
func (h *Handler) Refresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	resp, err := h.authSvc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		if apperrors.IsCode(err, "invalid_token") {
			status = http.StatusUnauthorized
			code = "invalid_token"
		}
		if apperrors.IsCode(err, "user_not_found") {
			status = http.StatusNotFound
			code = "user_not_found"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Profile returns the authenticated user's info.
func (h *Handler) Profile(c *gin.Context) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}
	user, err := h.authSvc.Profile(c.Request.Context(), claims.UserID)
	if err != nil {
		status := http.StatusInternalServerError
		code := "auth_failed"
		if apperrors.IsCode(err, "user_not_found") {
			status = http.StatusNotFound
			code = "user_not_found"
		}
		abortWithError(c, NewHTTPError(status, code, errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to the private dashboard",
		"user":    user,
	})
}

// Logout revokes the caller's stored Google refresh token, if any.
func (h *Handler) Logout(c *gin.Context) {
	claims, ok := getClaims(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "unauthorized", "missing token", nil))
		return
	}
	if err := h.authSvc.Logout(c.Request.Context(), claims.UserID); err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "auth_failed", errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// GoogleLogin redirects the caller into Google's PKCE consent flow.
func (h *Handler) GoogleLogin(c *gin.Context) {
	state, codeVerifier, codeChallenge, err := auth.NewOAuthState()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "auth_failed", errMessage(err), err))
		return
	}
	url, err := h.authSvc.GoogleAuthURL(c.Request.Context(), state, codeChallenge)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "auth_failed", errMessage(err), err))
		return
	}
	setOAuthStateCookie(c, state, codeVerifier)
	c.Redirect(http.StatusFound, url)
}

// GoogleCallback completes the PKCE flow and issues the application's own JWT pair.
func (h *Handler) GoogleCallback(c *gin.Context) {
	defer clearOAuthStateCookie(c)

	cookie, ok := readOAuthStateCookie(c)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "missing oauth state", nil))
		return
	}
	if c.Query("state") != cookie.State {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "state mismatch", nil))
		return
	}
	code := c.Query("code")
	if code == "" {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "missing code", nil))
		return
	}
	resp, err := h.authSvc.GoogleCallback(c.Request.Context(), code, cookie.CodeVerifier)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusUnauthorized, "auth_failed", errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// IngestDocument accepts a multipart file upload plus archive metadata and runs it through the
// extract/chunk/embed/store pipeline.
func (h *Handler) IngestDocument(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "file is required", err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "file could not be opened", err))
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", "file could not be read", err))
		return
	}

	year, _ := strconv.Atoi(c.PostForm("year"))
	meta := archivist.IngestMetadata{
		DocType:          archivist.DocType(c.PostForm("docType")),
		Year:             year,
		Outcome:          archivist.Outcome(c.PostForm("outcome")),
		Programs:         splitCSV(c.PostForm("programs")),
		Tags:             splitCSV(c.PostForm("tags")),
		Notes:            c.PostForm("notes"),
		IsSensitive:      c.PostForm("isSensitive") == "true",
		SensitivityLevel: archivist.SensitivityLevel(c.PostForm("sensitivityLevel")),
	}

	claims, _ := getClaims(c)
	mimeHint := fileHeader.Header.Get("Content-Type")
	doc, err := h.ingestion.Ingest(c.Request.Context(), content, fileHeader.Filename, mimeHint, meta, strconv.FormatInt(claims.UserID, 10), c.PostForm("existingDocId"))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// GetDocument returns a single document's archive metadata.
func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.ingestion.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListDocuments returns documents matching optional query filters.
func (h *Handler) ListDocuments(c *gin.Context) {
	filter := archivist.DocumentListFilter{
		Programs: splitCSV(c.Query("programs")),
	}
	if v := c.Query("docType"); v != "" {
		filter.DocTypes = []archivist.DocType{archivist.DocType(v)}
	}
	if v := c.Query("outcome"); v != "" {
		filter.Outcomes = []archivist.Outcome{archivist.Outcome(v)}
	}
	if v, err := strconv.Atoi(c.Query("year")); err == nil {
		filter.Years = []int{v}
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil {
		filter.Offset = v
	}
	if v, err := strconv.Atoi(c.Query("limit")); err == nil {
		filter.Limit = v
	}
	docs, err := h.ingestion.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// UpdateDocument edits a document's archive metadata without re-ingesting its content.
func (h *Handler) UpdateDocument(c *gin.Context) {
	var doc archivist.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	doc.DocID = c.Param("id")
	updated, err := h.ingestion.UpdateDocumentMetadata(c.Request.Context(), doc)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, updated)
}

// DeleteDocument permanently removes a document and its chunks.
func (h *Handler) DeleteDocument(c *gin.Context) {
	if err := h.ingestion.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

type retrieveRequest struct {
	Query                 string                    `json:"query"`
	TopK                  int                       `json:"topK"`
	Filters               retrievalFiltersDTO       `json:"filters"`
	RecencyWeightOverride *float64                  `json:"recencyWeightOverride"`
}

type retrievalFiltersDTO struct {
	DocTypes      []archivist.DocType `json:"docTypes"`
	YearMin       *int                `json:"yearMin"`
	YearMax       *int                `json:"yearMax"`
	Outcomes      []archivist.Outcome `json:"outcomes"`
	Programs      []string            `json:"programs"`
	Tags          []string            `json:"tags"`
	ExcludeDocIDs []string            `json:"excludeDocIds"`
}

func (d retrievalFiltersDTO) toDomain() archivist.RetrievalFilters {
	return archivist.RetrievalFilters{
		DocTypes:      d.DocTypes,
		YearMin:       d.YearMin,
		YearMax:       d.YearMax,
		Outcomes:      d.Outcomes,
		Programs:      d.Programs,
		Tags:          d.Tags,
		ExcludeDocIDs: d.ExcludeDocIDs,
	}
}

// Retrieve runs the hybrid retrieval pipeline and returns scored chunks.
func (h *Handler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	results, err := h.retrieval.Retrieve(c.Request.Context(), archivist.RetrieveRequest{
		Query:                 req.Query,
		TopK:                  req.TopK,
		Filters:               req.Filters.toDomain(),
		RecencyWeightOverride: req.RecencyWeightOverride,
	})
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

type generateRequest struct {
	Query              string              `json:"query"`
	Audience           string              `json:"audience"`
	Section            string              `json:"section"`
	Tone               string              `json:"tone"`
	WritingStyleID     string              `json:"writingStyleId"`
	Filters            retrievalFiltersDTO `json:"filters"`
	MaxSources         int                 `json:"maxSources"`
	RecencyWeight      *float64            `json:"recencyWeight"`
	MaxTokens          int                 `json:"maxTokens"`
	Temperature        float32             `json:"temperature"`
	CustomInstructions string              `json:"customInstructions"`
}

func (r generateRequest) toDomain() archivist.GenerateRequest {
	return archivist.GenerateRequest{
		Query:              r.Query,
		Audience:           r.Audience,
		Section:            r.Section,
		Tone:               r.Tone,
		WritingStyleID:     r.WritingStyleID,
		Filters:            r.Filters.toDomain(),
		MaxSources:         r.MaxSources,
		RecencyWeight:      r.RecencyWeight,
		MaxTokens:          r.MaxTokens,
		Temperature:        r.Temperature,
		CustomInstructions: r.CustomInstructions,
	}
}

// Generate runs the non-streaming retrieve-then-generate pipeline.
func (h *Handler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	result, sources, meta, err := h.generation.Generate(c.Request.Context(), req.toDomain())
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"content": result.Content,
		"sources": sources,
		"meta":    meta,
		"usage": gin.H{
			"promptTokens":     result.PromptTokens,
			"completionTokens": result.CompletionTokens,
			"totalTokens":      result.TotalTokens,
		},
	})
}

// GenerateStream streams {sources, content, done, error} events over Server-Sent Events.
func (h *Handler) GenerateStream(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}

	stream, err := h.generation.GenerateStreaming(c.Request.Context(), req.toDomain())
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "stream_unsupported", "streaming not supported", nil))
		return
	}

	for ev := range stream {
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshal stream event failed", "error", err)
			continue
		}
		c.Writer.Write([]byte("data: "))
		c.Writer.Write(payload)
		c.Writer.Write([]byte("\n\n"))
		flusher.Flush()
	}
}

type chatRequest struct {
	ConversationID string                       `json:"conversationId"`
	Message        string                       `json:"message"`
	ContextPatch   *archivist.ConversationContext `json:"contextPatch"`
}

// Chat appends a user message to a conversation, generates a grounded reply, and appends it.
func (h *Handler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	claims, _ := getClaims(c)
	convo, msg, err := h.conversation.Chat(c.Request.Context(), req.ConversationID, req.Message, strconv.FormatInt(claims.UserID, 10), req.ContextPatch)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": convo, "message": msg})
}

// CreateConversation starts a new chat session.
func (h *Handler) CreateConversation(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	claims, _ := getClaims(c)
	convo, err := h.conversation.CreateConversation(c.Request.Context(), req.Name, strconv.FormatInt(claims.UserID, 10))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, convo)
}

// GetConversation returns a conversation by id.
func (h *Handler) GetConversation(c *gin.Context) {
	convo, err := h.conversation.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, convo)
}

// UpdateConversationContext patches the audience/section/style/filters pinned to a conversation.
func (h *Handler) UpdateConversationContext(c *gin.Context) {
	var patch archivist.ConversationContext
	if err := c.ShouldBindJSON(&patch); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	convo, err := h.conversation.UpdateContext(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, convo)
}

// DeleteConversation removes a conversation and its message history.
func (h *Handler) DeleteConversation(c *gin.Context) {
	if err := h.conversation.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation deleted"})
}

// ListMessages returns a conversation's ordered message history.
func (h *Handler) ListMessages(c *gin.Context) {
	msgs, err := h.conversation.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CreateProgram adds a new named program category.
func (h *Handler) CreateProgram(c *gin.Context) {
	var p archivist.Program
	if err := c.ShouldBindJSON(&p); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	created, err := h.program.CreateProgram(c.Request.Context(), p)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetProgram returns a single program by id.
func (h *Handler) GetProgram(c *gin.Context) {
	p, err := h.program.GetProgram(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, p)
}

// ListPrograms returns every program in display order.
func (h *Handler) ListPrograms(c *gin.Context) {
	programs, err := h.program.ListPrograms(c.Request.Context())
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"programs": programs})
}

// UpdateProgram edits a program's display metadata.
func (h *Handler) UpdateProgram(c *gin.Context) {
	var p archivist.Program
	if err := c.ShouldBindJSON(&p); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	p.ProgramID = c.Param("id")
	if err := h.program.UpdateProgram(c.Request.Context(), p); err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteProgram removes a program, optionally forcing past still-referencing documents.
func (h *Handler) DeleteProgram(c *gin.Context) {
	force := c.Query("force") == "true"
	if err := h.program.DeleteProgram(c.Request.Context(), c.Param("id"), force); err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "program deleted"})
}

// AnalyzeStyle validates 3-7 writing samples and persists the resulting style prompt.
func (h *Handler) AnalyzeStyle(c *gin.Context) {
	var req archivist.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	style, err := h.style.AnalyzeSamples(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, style)
}

// GetStyle returns a single writing style by id.
func (h *Handler) GetStyle(c *gin.Context) {
	style, err := h.style.GetStyle(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, style)
}

// ListStyles returns every writing style, active and retired.
func (h *Handler) ListStyles(c *gin.Context) {
	styles, err := h.style.ListStyles(c.Request.Context())
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"styles": styles})
}

// DeactivateStyle retires a style without deleting its history.
func (h *Handler) DeactivateStyle(c *gin.Context) {
	if err := h.style.DeactivateStyle(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "style deactivated"})
}

// DeleteStyle permanently removes a writing style.
func (h *Handler) DeleteStyle(c *gin.Context) {
	if err := h.style.DeleteStyle(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "style deleted"})
}

// CreateOutput saves a new artifact in the draft state.
func (h *Handler) CreateOutput(c *gin.Context) {
	var o archivist.Output
	if err := c.ShouldBindJSON(&o); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	claims, _ := getClaims(c)
	created, err := h.output.CreateOutput(c.Request.Context(), o, strconv.FormatInt(claims.UserID, 10))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusCreated, created)
}

// GetOutput returns a single output by id.
func (h *Handler) GetOutput(c *gin.Context) {
	o, err := h.output.GetOutput(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListOutputs returns every output owned by the caller.
func (h *Handler) ListOutputs(c *gin.Context) {
	claims, _ := getClaims(c)
	outputs, err := h.output.ListOutputs(c.Request.Context(), strconv.FormatInt(claims.UserID, 10))
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"outputs": outputs})
}

// UpdateOutputContent edits a draft output's content.
func (h *Handler) UpdateOutputContent(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	o, err := h.output.UpdateContent(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, o)
}

// TransitionOutputStatus moves an output through its draft/submitted/pending/terminal lifecycle.
func (h *Handler) TransitionOutputStatus(c *gin.Context) {
	var req struct {
		Status     archivist.OutputStatus `json:"status"`
		FunderName string                 `json:"funderName"`
		Amount     float64                `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return
	}
	o, err := h.output.TransitionStatus(c.Request.Context(), c.Param("id"), req.Status, req.FunderName, req.Amount)
	if err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, o)
}

// DeleteOutput permanently removes an output.
func (h *Handler) DeleteOutput(c *gin.Context) {
	if err := h.output.DeleteOutput(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, NewHTTPError(archivistStatus(err), archivistCode(err), errMessage(err), err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "output deleted"})
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// archivistCode maps a wrapped archivist error to the response's machine-readable code,
// falling back to a generic code for errors the domain didn't tag.
func archivistCode(err error) string {
	codes := []string{
		archivist.CodeValidationError, archivist.CodeNotFound, archivist.CodeConflict,
		archivist.CodePayloadTooLarge, archivist.CodeUnsupportedFormat, archivist.CodeCorruptDocument,
		archivist.CodeEmptyDocument, archivist.CodeInsufficientSamples, archivist.CodeEmbeddingUnavailable,
		archivist.CodeLLMUnavailable, archivist.CodeLLMRejected, archivist.CodeStoreUnavailable,
		archivist.CodeRetrievalUnavailable, archivist.CodeCancelled,
	}
	for _, code := range codes {
		if apperrors.IsCode(err, code) {
			return code
		}
	}
	return "archivist_error"
}

// archivistStatus maps the archivist error taxonomy from spec.md §7 onto HTTP status codes.
func archivistStatus(err error) int {
	switch {
	case apperrors.IsCode(err, archivist.CodeValidationError),
		apperrors.IsCode(err, archivist.CodeUnsupportedFormat),
		apperrors.IsCode(err, archivist.CodeEmptyDocument),
		apperrors.IsCode(err, archivist.CodeInsufficientSamples),
		apperrors.IsCode(err, archivist.CodeCorruptDocument):
		return http.StatusBadRequest
	case apperrors.IsCode(err, archivist.CodeNotFound):
		return http.StatusNotFound
	case apperrors.IsCode(err, archivist.CodeConflict):
		return http.StatusConflict
	case apperrors.IsCode(err, archivist.CodePayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case apperrors.IsCode(err, archivist.CodeCancelled):
		return 499
	case apperrors.IsCode(err, archivist.CodeEmbeddingUnavailable),
		apperrors.IsCode(err, archivist.CodeLLMUnavailable),
		apperrors.IsCode(err, archivist.CodeStoreUnavailable),
		apperrors.IsCode(err, archivist.CodeRetrievalUnavailable):
		return http.StatusBadGateway
	case apperrors.IsCode(err, archivist.CodeLLMRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
