package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/adapters/gemini"
	"github.com/M7mdRef3t/dawayir-live-agent/adapters/memory"
	"github.com/M7mdRef3t/dawayir-live-agent/adapters/mongo"
	"github.com/M7mdRef3t/dawayir-live-agent/adapters/redis"
	"github.com/M7mdRef3t/dawayir-live-agent/domain/repositories"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/api"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/auth"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/config"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/relay"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/websocket"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	cfg, err := config.LoadRelayFromEnv()
	if err != nil {
		logger.Fatal("Invalid relay configuration", zap.Error(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Upstream
	var connector repositories.LiveConnector
	switch cfg.Upstream {
	case "echo":
		connector = memory.EchoConnector{}
		logger.Warn("Using echo upstream; no model is contacted")
	default:
		connector, err = gemini.NewConnector(ctx, gemini.Config{
			APIKey: cfg.GeminiAPIKey,
			Model:  cfg.GeminiModel,
			Voice:  cfg.GeminiVoice,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini connector", zap.Error(err))
		}
	}

	// Storage
	var records repositories.SessionRepository = memory.NewSessionRepository()
	if cfg.MongoURI != "" {
		mc, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer mc.Close(context.Background())
		records = mongo.NewSessionRepository(mc.Database, logger)
	}

	var conversation repositories.ConversationMemory = memory.NewConversationMemory(cfg.MemoryLines)
	if cfg.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		conversation = redis.NewConversationMemory(rdb, cfg.MemoryLines, logger)
	}

	var issuer *auth.Issuer
	if cfg.JWTSecret != "" {
		issuer, err = auth.NewIssuer(cfg.JWTSecret, auth.DefaultTokenTTL)
		if err != nil {
			logger.Fatal("Failed to create token issuer", zap.Error(err))
		}
	}

	sessionCfg := relay.DefaultConfig()
	sessionCfg.Reconnect = cfg.Reconnect
	sessionCfg.ConnectTimeout = cfg.ConnectTimeout
	sessionCfg.MaxPending = cfg.MaxPending
	sessionCfg.TranscriptFlush = cfg.TranscriptFlush
	sessionCfg.CommandDedupe = cfg.CommandDedupe
	sessionCfg.SentimentQuiet = cfg.SentimentQuiet
	sessionCfg.MemoryLines = cfg.MemoryLines
	if cfg.SystemInstruction != "" {
		sessionCfg.SystemInstruction = cfg.SystemInstruction
	}

	var detector relay.CommandDetector
	if cfg.CommandsEnabled {
		detector = relay.KeywordDetector{}
	}
	router := relay.NewRouter()

	hub := websocket.NewHub(func(id, remoteAddr string, sink relay.ClientSink) *relay.Session {
		return relay.NewSession(id, remoteAddr, sink, sessionCfg, relay.Deps{
			Connector: connector,
			Router:    router,
			Detector:  detector,
			Sentiment: cfg.SentimentEnabled,
			Records:   records,
			Memory:    conversation,
			Logger:    logger,
		})
	}, cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	cleanup := websocket.NewSessionCleanupService(records, cfg.RecordTTL, logger)
	cleanup.Start()
	defer cleanup.Stop()

	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, api.Deps{
		Hub:       hub,
		Issuer:    issuer,
		AccessKey: cfg.AccessKey,
		Records:   records,
		Upstream:  cfg.Upstream,
		Logger:    logger,
	})

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Relay started",
		zap.String("port", cfg.Port),
		zap.String("upstream", cfg.Upstream),
		zap.Bool("auth", issuer != nil),
		zap.Bool("mongo", cfg.MongoURI != ""),
		zap.Bool("redis", cfg.RedisURL != ""))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Relay is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Closing the hub sends going-away to every client and ends their sessions.
	stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Relay exited")
}
