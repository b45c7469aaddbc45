package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orgarchivist/archivist/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		errorHandlingMiddleware(handler.logger),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowedOrigins),
		rateLimitMiddleware(cfg.HTTP.RateLimit, handler.logger),
	)

	api := router.Group("/api/v1")
	{
		authRoutes := api.Group("/auth")
		{
			authRoutes.POST("/register", handler.Register)
			authRoutes.POST("/login", handler.Login)
			authRoutes.POST("/refresh", handler.Refresh)
			authRoutes.GET("/google/login", handler.GoogleLogin)
			authRoutes.GET("/google/callback", handler.GoogleCallback)
		}

		protected := api.Group("/")
		protected.Use(authMiddleware(handler.authSvc))
		{
			protected.POST("/auth/logout", handler.Logout)
			protected.GET("/auth/me", handler.Profile)

			documents := protected.Group("/archivist/documents")
			{
				documents.POST("", handler.IngestDocument)
				documents.GET("", handler.ListDocuments)
				documents.GET("/:id", handler.GetDocument)
				documents.PATCH("/:id", handler.UpdateDocument)
				documents.DELETE("/:id", handler.DeleteDocument)
			}

			protected.POST("/archivist/retrieve", handler.Retrieve)
			protected.POST("/archivist/generate", handler.Generate)
			protected.POST("/archivist/generate/stream", handler.GenerateStream)

			conversations := protected.Group("/archivist/conversations")
			{
				conversations.POST("", handler.CreateConversation)
				conversations.GET("/:id", handler.GetConversation)
				conversations.PATCH("/:id/context", handler.UpdateConversationContext)
				conversations.DELETE("/:id", handler.DeleteConversation)
				conversations.GET("/:id/messages", handler.ListMessages)
				conversations.POST("/chat", handler.Chat)
			}

			programs := protected.Group("/archivist/programs")
			{
				programs.POST("", handler.CreateProgram)
				programs.GET("", handler.ListPrograms)
				programs.GET("/:id", handler.GetProgram)
				programs.PATCH("/:id", handler.UpdateProgram)
				programs.DELETE("/:id", handler.DeleteProgram)
			}

			styles := protected.Group("/archivist/styles")
			{
				styles.POST("", handler.AnalyzeStyle)
				styles.GET("", handler.ListStyles)
				styles.GET("/:id", handler.GetStyle)
				styles.POST("/:id/deactivate", handler.DeactivateStyle)
				styles.DELETE("/:id", handler.DeleteStyle)
			}

			outputs := protected.Group("/archivist/outputs")
			{
				outputs.POST("", handler.CreateOutput)
				outputs.GET("", handler.ListOutputs)
				outputs.GET("/:id", handler.GetOutput)
				outputs.PATCH("/:id/content", handler.UpdateOutputContent)
				outputs.POST("/:id/transition", handler.TransitionOutputStatus)
				outputs.DELETE("/:id", handler.DeleteOutput)
			}
		}
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        withRetry(router, cfg.HTTP.Retry, handler.logger),
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}
