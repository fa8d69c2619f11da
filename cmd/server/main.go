package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zoonk/zoonk-sub009/internal/ai"
	"github.com/zoonk/zoonk-sub009/internal/data/db"
	catalogRepos "github.com/zoonk/zoonk-sub009/internal/data/repos/catalog"
	generationRepos "github.com/zoonk/zoonk-sub009/internal/data/repos/generation"
	httpx "github.com/zoonk/zoonk-sub009/internal/http"
	httpH "github.com/zoonk/zoonk-sub009/internal/http/handlers"
	"github.com/zoonk/zoonk-sub009/internal/pipelines"
	"github.com/zoonk/zoonk-sub009/internal/platform/envutil"
	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
	"github.com/zoonk/zoonk-sub009/internal/services"
	"github.com/zoonk/zoonk-sub009/internal/stream"
	"github.com/zoonk/zoonk-sub009/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err.Error())
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err.Error())
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	runRepo := generationRepos.NewRunRepo(thePG, log)
	courseRepo := catalogRepos.NewCourseRepo(thePG, log)
	chapterRepo := catalogRepos.NewChapterRepo(thePG, log)
	lessonRepo := catalogRepos.NewLessonRepo(thePG, log)
	activityRepo := catalogRepos.NewActivityRepo(thePG, log)

	// Status stream: local hub, plus a redis fanout when REDIS_ADDR is
	// set so clients can attach to any node.
	hub := stream.NewHub(log,
		envutil.Int("STREAM_CAPACITY", 256),
		envutil.Duration("STREAM_RETENTION", 15*time.Minute),
	)
	var publisher stream.Publisher = hub
	rootCtx := context.Background()
	if envutil.String("REDIS_ADDR", "") != "" {
		bus, err := stream.NewRedisBus(log)
		if err != nil {
			log.Error("Redis bus init failed", "error", err.Error())
			os.Exit(1)
		}
		fanout := &stream.Fanout{Hub: hub, Bus: bus, NodeID: uuid.NewString()}
		if err := bus.StartForwarder(rootCtx, fanout.Forward); err != nil {
			log.Error("Redis forwarder failed", "error", err.Error())
			os.Exit(1)
		}
		publisher = fanout
	}

	// Model client + fallback policy
	openaiClient, err := ai.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAI client", "error", err.Error())
		os.Exit(1)
	}
	policy := ai.NewFallbackPolicy(log,
		envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		envutil.List("OPENAI_FALLBACK_MODELS"),
		envutil.Bool("OPENAI_USE_FALLBACK", true),
		envutil.Duration("OPENAI_CALL_TIMEOUT", 3*time.Minute),
	)

	// Workflows + worker
	pipes := pipelines.New(courseRepo, chapterRepo, lessonRepo, activityRepo, openaiClient, policy, log)
	worker := workflow.NewWorker(thePG, runRepo, publisher, pipes.Resolve, workflow.WorkerConfig{
		Concurrency:  envutil.Int("WORKER_CONCURRENCY", 2),
		PollInterval: envutil.Duration("WORKER_POLL_INTERVAL", 2*time.Second),
		MaxAttempts:  envutil.Int("RUN_MAX_ATTEMPTS", 3),
		StaleRunning: envutil.Duration("RUN_STALE_AFTER", 5*time.Minute),
		Heartbeat:    envutil.Duration("RUN_HEARTBEAT", 30*time.Second),
	}, log)
	worker.Start(rootCtx)

	// Reaper
	reaper := services.NewReaper(runRepo, services.ReaperConfig{
		Interval:     envutil.Duration("REAPER_INTERVAL", time.Minute),
		StaleRunning: envutil.Duration("RUN_STALE_AFTER", 5*time.Minute),
		MaxAttempts:  envutil.Int("RUN_MAX_ATTEMPTS", 3),
	}, log)
	reaper.Start(rootCtx)

	// Services + handlers
	entitlements := services.NewEnvEntitlements(log)
	generationService := services.NewGenerationService(
		runRepo, courseRepo, chapterRepo, lessonRepo, activityRepo, entitlements, log,
	)
	generationHandler := httpH.NewGenerationHandler(generationService, hub)
	healthHandler := httpH.NewHealthHandler()

	server := httpx.NewServer(httpx.RouterConfig{
		GenerationHandler: generationHandler,
		HealthHandler:     healthHandler,
		Log:               log,
	})

	port := envutil.String("PORT", "8080")
	log.Info("Server listening", "port", port)
	if err := server.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err.Error())
		os.Exit(1)
	}
}
