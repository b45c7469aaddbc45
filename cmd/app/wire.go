//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	archivist "github.com/orgarchivist/archivist/internal/domain/archivist"
	"github.com/orgarchivist/archivist/internal/bootstrap"
	"github.com/orgarchivist/archivist/internal/domain/auth"
	"github.com/orgarchivist/archivist/internal/infra/config"
	httpiface "github.com/orgarchivist/archivist/internal/interface/http"
	"github.com/orgarchivist/archivist/pkg/logger"
)

func initializeApp() (*bootstrap.App, error) {
	wire.Build(
		config.Load,
		logger.New,
		provideAuthConfig,
		provideAuthRepository,
		provideChatGPTClient,
		provideVectorStore,
		provideRelStore,
		provideEmbedder,
		provideLLM,
		provideExtractor,
		provideChunker,
		provideChunkingConfig,
		provideBM25Index,
		provideCache,
		provideObjectStorage,
		provideIngestionConfig,
		provideRetrievalConfig,
		provideGenerationConfig,
		provideStyleConfig,
		provideReranker,
		auth.NewService,
		archivist.NewIngestionService,
		archivist.NewRetrievalService,
		archivist.NewGenerationService,
		archivist.NewStyleService,
		archivist.NewConversationService,
		archivist.NewOutputService,
		archivist.NewProgramService,
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil
}
