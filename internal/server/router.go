package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/handlers"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/middleware"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/utils"
)

type RouterConfig struct {
	BrainHandler       *handlers.BrainHandler
	IdentityMiddleware *middleware.IdentityMiddleware
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	allowOrigins := []string{
		"http://localhost:80",
		"http://localhost:3000",
		"http://localhost:5174",
	}
	if raw := utils.GetEnv("CORS_ALLOW_ORIGINS", "", nil); raw != "" {
		allowOrigins = nil
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				allowOrigins = append(allowOrigins, o)
			}
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.Use(otelgin.Middleware("estateiq-brain"))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", handlers.HealthCheck)

	// ===============
	// || Protected ||
	// ===============
	brain := router.Group("/api/brain")
	brain.Use(cfg.IdentityMiddleware.RequireIdentity())
	{
		brain.POST("/documents", cfg.BrainHandler.UploadDocument)
		brain.GET("/documents", cfg.BrainHandler.ListDocuments)
		brain.GET("/documents/:id", cfg.BrainHandler.GetDocumentStatus)
		brain.DELETE("/documents/:id", cfg.BrainHandler.DeleteDocument)
		brain.POST("/query", cfg.BrainHandler.Query)
	}

	return router
}
