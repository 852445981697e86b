// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/api/voice-api/config"
	internal_callstore "github.com/voxbridgeai/api/voice-api/internal/callstore"
	internal_conversation "github.com/voxbridgeai/api/voice-api/internal/conversation"
	internal_orchestrator "github.com/voxbridgeai/api/voice-api/internal/orchestrator"
	internal_rtp "github.com/voxbridgeai/api/voice-api/internal/rtp"
	internal_service "github.com/voxbridgeai/api/voice-api/internal/service"
	internal_switchctl "github.com/voxbridgeai/api/voice-api/internal/switchctl"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
	"github.com/voxbridgeai/pkg/connectors"
	"github.com/voxbridgeai/pkg/utils"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("config init: %v", err)
	}
	cfg, err := config.GetVoiceConfig(vConfig)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	loggerOpts := []commons.LoggerOption{commons.WithLevel(cfg.LogLevel)}
	if cfg.LogPath != "" {
		loggerOpts = append(loggerOpts, commons.WithRotatingFile(cfg.LogPath))
	}
	logger, err := commons.NewApplicationLogger(loggerOpts...)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	logger.Infow("starting", "service", cfg.Name, "version", cfg.Version)

	redisOpts, err := redis.ParseURL(cfg.Bus.URL)
	if err != nil {
		logger.Warnw("bus url unparseable, using redis config", "url", cfg.Bus.URL, "error", err)
		redisOpts = &redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Errorw("redis unreachable", "addr", redisOpts.Addr, "error", err)
		os.Exit(1)
	}
	pingCancel()

	messageBus := bus.New(bus.NewRedisTransport(redisClient, logger), logger)
	defer messageBus.Close()

	var calls internal_callstore.Store
	if cfg.Postgres.DSN != "" {
		conn, err := connectors.NewPostgresConnector(cfg.Postgres.DSN, logger)
		if err != nil {
			logger.Errorw("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer conn.Close()
		if err := conn.DB(context.Background()).AutoMigrate(&internal_callstore.CallRecord{}); err != nil {
			logger.Errorw("migration failed", "error", err)
			os.Exit(1)
		}
		calls = internal_callstore.NewStore(conn, logger)
	}

	counter := internal_conversation.NewTokenCounter(logger)
	convStore := internal_conversation.NewStore(redisClient, counter, logger,
		internal_conversation.WithTTL(time.Duration(cfg.Conversation.TTLSec)*time.Second))

	var switchClient internal_service.SwitchClient
	if cfg.Switch.BaseURL != "" {
		switchClient = internal_switchctl.NewClient(internal_switchctl.Config{
			BaseURL:  cfg.Switch.BaseURL,
			Username: cfg.Switch.Username,
			Password: cfg.Switch.Password,
		}, logger)
	}

	portPool, err := internal_rtp.NewPortPool(cfg.RTP.PortStart, cfg.RTP.PortEnd, logger)
	if err != nil {
		logger.Errorw("rtp port pool", "error", err)
		os.Exit(1)
	}
	rtpEngine := internal_rtp.NewEngine(portPool, internal_rtp.NewCorrelationManager(), logger)

	orch := internal_orchestrator.New(messageBus, logger)
	if err := orch.Start(); err != nil {
		logger.Errorw("orchestrator start", "error", err)
		os.Exit(1)
	}

	svc := internal_service.New(internal_service.Params{
		Config:        cfg,
		Bus:           messageBus,
		RTP:           rtpEngine,
		Orchestrator:  orch,
		Calls:         calls,
		Conversations: convStore,
		Switch:        switchClient,
		RecordingsDir: cfg.RecordingsDir,
		Logger:        logger,
	})

	if utils.FromEnvironmentStr(cfg.Environment) == utils.PRODUCTION {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	svc.RegisterRoutes(engine)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	go func() {
		logger.Infow("http listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("http server", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("http shutdown", "error", err)
	}
	svc.Close()
}
