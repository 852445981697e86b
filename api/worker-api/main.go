// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxbridgeai/api/worker-api/config"
	internal_artifact "github.com/voxbridgeai/api/worker-api/internal/artifact"
	internal_llm "github.com/voxbridgeai/api/worker-api/internal/llm"
	internal_stt "github.com/voxbridgeai/api/worker-api/internal/stt"
	internal_tts "github.com/voxbridgeai/api/worker-api/internal/tts"
	internal_worker "github.com/voxbridgeai/api/worker-api/internal/worker"
	"github.com/voxbridgeai/pkg/bus"
	"github.com/voxbridgeai/pkg/commons"
)

type closer interface{ Close() }

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("config init: %v", err)
	}
	cfg, err := config.GetWorkerConfig(vConfig)
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtimeOpts := []internal_worker.RuntimeOption{
		internal_worker.WithConcurrency(int64(cfg.Concurrency)),
		internal_worker.WithHealthInterval(time.Duration(cfg.HealthIntervalSec) * time.Second),
	}
	var workers []closer

	if cfg.STT.APIKey != "" {
		rt := internal_worker.NewRuntime("stt", bus.TopicHealthSTT, messageBus, logger, runtimeOpts...)
		backend := internal_stt.NewDeepgram(internal_stt.DeepgramConfig{
			BaseURL: cfg.STT.BaseURL,
			APIKey:  cfg.STT.APIKey,
			Model:   cfg.STT.Model,
			Timeout: time.Duration(cfg.STT.TimeoutSec) * time.Second,
		}, logger)
		w := internal_stt.NewWorker(messageBus, rt, backend, time.Duration(cfg.STT.TimeoutSec)*time.Second)
		if err := w.Start(); err != nil {
			logger.Errorw("stt worker start", "error", err)
			os.Exit(1)
		}
		workers = append(workers, w)
		go rt.RunHealth(ctx)
		logger.Infow("stt worker up", "model", cfg.STT.Model)
	}

	if cfg.LLM.OpenAIKey != "" {
		rt := internal_worker.NewRuntime("llm", bus.TopicHealthLLM, messageBus, logger, runtimeOpts...)
		primary, err := internal_llm.NewOpenAI(cfg.LLM.OpenAIKey, cfg.LLM.PrimaryModel)
		if err != nil {
			logger.Errorw("llm primary backend", "error", err)
			os.Exit(1)
		}
		var fallback internal_llm.Chat
		if cfg.LLM.AnthropicKey != "" && cfg.LLM.FallbackModel != "" {
			fb, err := internal_llm.NewAnthropic(cfg.LLM.AnthropicKey, cfg.LLM.FallbackModel)
			if err != nil {
				logger.Errorw("llm fallback backend", "error", err)
				os.Exit(1)
			}
			fallback = fb
		}
		defaults := internal_llm.Defaults{MaxTokens: cfg.LLM.MaxTokens, Temperature: cfg.LLM.Temperature}
		w := internal_llm.NewWorker(messageBus, rt, primary, fallback, defaults, time.Duration(cfg.LLM.TimeoutSec)*time.Second)
		if err := w.Start(); err != nil {
			logger.Errorw("llm worker start", "error", err)
			os.Exit(1)
		}
		workers = append(workers, w)
		go rt.RunHealth(ctx)
		logger.Infow("llm worker up", "primary", cfg.LLM.PrimaryModel, "fallback", cfg.LLM.FallbackModel)
	}

	if cfg.TTS.APIKey != "" {
		rt := internal_worker.NewRuntime("tts", bus.TopicHealthTTS, messageBus, logger, runtimeOpts...)
		backend, err := internal_tts.NewOpenAI(cfg.TTS.APIKey, cfg.TTS.Model, logger)
		if err != nil {
			logger.Errorw("tts backend", "error", err)
			os.Exit(1)
		}
		store, err := internal_artifact.NewStore(cfg.TTS.ArtifactDir, logger,
			internal_artifact.WithTTL(time.Duration(cfg.TTS.ArtifactTTLSec)*time.Second))
		if err != nil {
			logger.Errorw("artifact store", "error", err)
			os.Exit(1)
		}
		w := internal_tts.NewWorker(messageBus, rt, backend, store, time.Duration(cfg.TTS.TimeoutSec)*time.Second)
		if err := w.Start(); err != nil {
			logger.Errorw("tts worker start", "error", err)
			os.Exit(1)
		}
		workers = append(workers, w)
		go rt.RunHealth(ctx)
		go store.RunJanitor(ctx, time.Duration(cfg.TTS.SweepIntervalSec)*time.Second)
		logger.Infow("tts worker up", "model", cfg.TTS.Model, "artifact_dir", cfg.TTS.ArtifactDir)
	}

	if len(workers) == 0 {
		logger.Errorw("no worker enabled; set STT__API_KEY, LLM__OPENAI_API_KEY or TTS__API_KEY")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Infow("shutting down")

	cancel()
	for _, w := range workers {
		w.Close()
	}
}
