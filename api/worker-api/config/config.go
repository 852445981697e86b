// Copyright (c) 2024-2026 VoxBridge AI
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package config

import (
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// WorkerConfig is the full configuration surface of the worker
// service. One process hosts all three workers; unset API keys
// disable the corresponding worker.
type WorkerConfig struct {
	Name     string `mapstructure:"service_name" validate:"required"`
	Version  string `mapstructure:"version" validate:"required"`
	LogLevel string `mapstructure:"log_level" validate:"required"`
	LogPath  string `mapstructure:"log_path"`

	Concurrency       int `mapstructure:"concurrency" validate:"required,gt=0"`
	HealthIntervalSec int `mapstructure:"health_interval_sec" validate:"required,gt=0"`

	STT STTConfig `mapstructure:"stt"`
	LLM LLMConfig `mapstructure:"llm"`
	TTS TTSConfig `mapstructure:"tts"`

	Bus   BusConfig   `mapstructure:"bus" validate:"required"`
	Redis RedisConfig `mapstructure:"redis"`
}

type STTConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type LLMConfig struct {
	OpenAIKey     string  `mapstructure:"openai_api_key"`
	AnthropicKey  string  `mapstructure:"anthropic_api_key"`
	PrimaryModel  string  `mapstructure:"primary_model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	TimeoutSec    int     `mapstructure:"timeout_sec"`
}

type TTSConfig struct {
	APIKey           string `mapstructure:"api_key"`
	Model            string `mapstructure:"model"`
	TimeoutSec       int    `mapstructure:"timeout_sec"`
	ArtifactDir      string `mapstructure:"artifact_dir"`
	ArtifactTTLSec   int    `mapstructure:"artifact_ttl_sec"`
	SweepIntervalSec int    `mapstructure:"sweep_interval_sec"`
}

type BusConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// InitConfig reads configuration from .env (or ENV_PATH) plus the
// environment, with defaults for every tunable.
func InitConfig() (*viper.Viper, error) {
	vConfig := viper.NewWithOptions(viper.KeyDelimiter("__"))

	vConfig.AddConfigPath(".")
	vConfig.SetConfigName(".env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		log.Printf("env path %v", path)
		vConfig.SetConfigFile(path)
	}
	vConfig.SetConfigType("env")
	vConfig.AutomaticEnv()

	setDefault(vConfig)
	if err := vConfig.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		log.Printf("Reading from env variables.")
	}
	return vConfig, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "worker-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "")

	v.SetDefault("CONCURRENCY", 4)
	v.SetDefault("HEALTH_INTERVAL_SEC", 10)

	v.SetDefault("STT__API_KEY", "")
	v.SetDefault("STT__BASE_URL", "https://api.deepgram.com")
	v.SetDefault("STT__MODEL", "nova-2")
	v.SetDefault("STT__TIMEOUT_SEC", 15)

	v.SetDefault("LLM__OPENAI_API_KEY", "")
	v.SetDefault("LLM__ANTHROPIC_API_KEY", "")
	v.SetDefault("LLM__PRIMARY_MODEL", "gpt-4o-mini")
	v.SetDefault("LLM__FALLBACK_MODEL", "claude-3-5-haiku-latest")
	v.SetDefault("LLM__MAX_TOKENS", 512)
	v.SetDefault("LLM__TEMPERATURE", 0.7)
	v.SetDefault("LLM__TIMEOUT_SEC", 30)

	v.SetDefault("TTS__API_KEY", "")
	v.SetDefault("TTS__MODEL", "tts-1")
	v.SetDefault("TTS__TIMEOUT_SEC", 20)
	v.SetDefault("TTS__ARTIFACT_DIR", "/tmp/voxbridge/artifacts")
	v.SetDefault("TTS__ARTIFACT_TTL_SEC", 300)
	v.SetDefault("TTS__SWEEP_INTERVAL_SEC", 30)

	v.SetDefault("BUS__URL", "redis://localhost:6379/0")

	v.SetDefault("REDIS__ADDR", "localhost:6379")
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)
}

// GetWorkerConfig unmarshals and validates the application config.
func GetWorkerConfig(v *viper.Viper) (*WorkerConfig, error) {
	var config WorkerConfig
	if err := v.Unmarshal(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.Printf("%+v\n", err)
		return nil, err
	}
	return &config, nil
}
