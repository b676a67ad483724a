package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/coaching/orchestrator"
	"github.com/pitchlabs/pitchcoach-backend/internal/coaching/rounds"
	"github.com/pitchlabs/pitchcoach-backend/internal/db"
	httpx "github.com/pitchlabs/pitchcoach-backend/internal/http"
	"github.com/pitchlabs/pitchcoach-backend/internal/http/handlers"
	"github.com/pitchlabs/pitchcoach-backend/internal/observability"
	"github.com/pitchlabs/pitchcoach-backend/internal/pipeline"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/gcp"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/localmedia"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/openai"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Tracing
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "pitchcoach-backend",
		Environment: envutil.String("APP_ENV", "development"),
		Version:     envutil.String("APP_VERSION", "dev"),
	})
	if shutdownOtel != nil {
		defer func() { _ = shutdownOtel(ctx) }()
	}

	// Store: Postgres, SQLite, or in-memory, in that order of
	// preference. The memory store only suits single-process dev runs.
	store := buildStore(log)

	// Platform services
	bucketService, err := gcp.NewBucketService(log)
	if err != nil {
		log.Error("Could not init BucketService", "error", err)
		os.Exit(1)
	}
	defer bucketService.Close()

	speechService, err := gcp.NewSpeechService(log)
	if err != nil {
		log.Error("Could not init SpeechService", "error", err)
		os.Exit(1)
	}
	defer speechService.Close()

	var deckReader gcp.DeckReader
	if dr, err := gcp.NewDeckReader(log); err != nil {
		log.Warn("DeckReader unavailable, deck text extraction disabled", "error", err)
	} else {
		deckReader = dr
	}

	var videoService gcp.VideoService
	if vs, err := gcp.NewVideoService(log); err != nil {
		log.Warn("VideoService unavailable, body language extraction disabled", "error", err)
	} else {
		videoService = vs
	}

	chatClient, err := openai.NewClient(log)
	if err != nil {
		log.Error("Could not init LLM client", "error", err)
		os.Exit(1)
	}

	mediaTools := localmedia.New(log)
	if err := mediaTools.AssertReady(ctx); err != nil {
		log.Warn("media tools not fully available", "error", err)
	}

	// Pipeline
	pipe, err := pipeline.New(store, bucketService, speechService, mediaTools, deckReader, videoService, log)
	if err != nil {
		log.Error("Could not init pipeline", "error", err)
		os.Exit(1)
	}

	// Coaching
	assembler, err := coaching.NewInputAssembler(store, log)
	if err != nil {
		log.Error("Could not init input assembler", "error", err)
		os.Exit(1)
	}
	runner, err := rounds.NewRunner(store, assembler, chatClient, videoService, log)
	if err != nil {
		log.Error("Could not init round runner", "error", err)
		os.Exit(1)
	}
	orch, err := orchestrator.New(store, runner, log)
	if err != nil {
		log.Error("Could not init orchestrator", "error", err)
		os.Exit(1)
	}
	summarizer, err := rounds.NewSummarizer(store, assembler, chatClient, log)
	if err != nil {
		log.Error("Could not init summarizer", "error", err)
		os.Exit(1)
	}

	// HTTP
	server := httpx.NewServer(httpx.RouterConfig{
		JobHandler:      handlers.NewJobHandler(store, pipe, bucketService, deckReader, summarizer, log),
		FeedbackHandler: handlers.NewFeedbackHandler(store, orch, log),
		HealthHandler:   handlers.NewHealthHandler(),
		Log:             log,
	})

	addr := envutil.String("HTTP_ADDR", ":8080")
	log.Info("Starting HTTP server", "addr", addr)
	if err := server.Run(addr); err != nil {
		log.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}

func buildStore(log *logger.Logger) repos.JobStore {
	driver := envutil.String("DB_DRIVER", "postgres")
	switch driver {
	case "postgres":
		pg, err := db.NewPostgresService(log)
		if err != nil {
			log.Warn("Postgres init failed, falling back to in-memory store", "error", err)
			return repos.NewMemoryJobStore()
		}
		if err := pg.AutoMigrateAll(); err != nil {
			log.Warn("Postgres auto migration failed", "error", err)
		}
		store, err := repos.NewGormJobStore(pg.DB(), log)
		if err != nil {
			log.Warn("Job store init failed, falling back to in-memory store", "error", err)
			return repos.NewMemoryJobStore()
		}
		return store
	case "sqlite":
		sq, err := db.NewSQLiteService(log)
		if err != nil {
			log.Warn("SQLite init failed, falling back to in-memory store", "error", err)
			return repos.NewMemoryJobStore()
		}
		if err := sq.AutoMigrateAll(); err != nil {
			log.Warn("SQLite auto migration failed", "error", err)
		}
		store, err := repos.NewGormJobStore(sq.DB(), log)
		if err != nil {
			log.Warn("Job store init failed, falling back to in-memory store", "error", err)
			return repos.NewMemoryJobStore()
		}
		return store
	default:
		log.Info("Using in-memory job store", "driver", driver)
		return repos.NewMemoryJobStore()
	}
}
