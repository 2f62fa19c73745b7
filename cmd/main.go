package main

import (
	"context"
	"fmt"
	"os"

	"github.com/inBots-Organization/estateiq-backend-sub000/internal/db"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/handlers"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/middleware"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/notify"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/observability"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/logger"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/platform/openai"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/repos"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/server"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/services"
	"github.com/inBots-Organization/estateiq-backend-sub000/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing (no-op unless OTEL_ENABLED)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "estateiq-brain",
		Environment: utils.GetEnv("DEPLOY_ENV", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "", log),
	})
	if otelShutdown != nil {
		defer func() { _ = otelShutdown(ctx) }()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	brainDocumentRepo := repos.NewBrainDocumentRepo(thePG, log)
	brainChunkRepo := repos.NewBrainChunkRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}

	var events notify.Publisher = notify.NopPublisher{}
	if pub, pErr := notify.NewRedisPublisher(log); pErr != nil {
		log.Warn("Document event publishing disabled", "error", pErr)
	} else {
		events = pub
		defer func() { _ = pub.Close() }()
	}

	var bucketService services.BucketService
	if bsvc, bErr := services.NewBucketService(log); bErr != nil {
		log.Warn("Raw file retention disabled", "error", bErr)
	} else {
		bucketService = bsvc
	}

	ingestService := services.NewIngestService(thePG, log, brainDocumentRepo, brainChunkRepo, openaiClient, events)
	ingestService.Start(ctx)

	brainService := services.NewBrainService(thePG, log, brainDocumentRepo, brainChunkRepo, ingestService, openaiClient, bucketService, events)

	// Handlers
	log.Info("Setting up handlers from main...")
	brainHandler := handlers.NewBrainHandler(log, brainService)

	// Middleware
	log.Info("Setting up middleware from main...")
	identityMiddleware := middleware.NewIdentityMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		BrainHandler:       brainHandler,
		IdentityMiddleware: identityMiddleware,
	})

	port := utils.GetEnv("PORT", "8080", log)
	log.Info("Server listening", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
