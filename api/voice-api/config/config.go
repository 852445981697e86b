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

// VoiceConfig is the full configuration surface of the voice service.
type VoiceConfig struct {
	Name        string `mapstructure:"service_name" validate:"required"`
	Version     string `mapstructure:"version" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required"`
	Host        string `mapstructure:"host" validate:"required"`
	Port        int    `mapstructure:"port" validate:"required"`
	APIKey      string `mapstructure:"api_key"`
	LogLevel    string `mapstructure:"log_level" validate:"required"`
	LogPath     string `mapstructure:"log_path"`

	// RecordingsDir enables two-track call recording when set.
	RecordingsDir string `mapstructure:"recordings_dir"`

	RTP          RTPConfig          `mapstructure:"rtp" validate:"required"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" validate:"required"`
	VAD          VADConfig          `mapstructure:"vad" validate:"required"`
	Echo         EchoConfig         `mapstructure:"echo"`
	Noise        NoiseConfig        `mapstructure:"noise"`
	StateMachine StateMachineConfig `mapstructure:"state_machine" validate:"required"`
	Conversation ConversationConfig `mapstructure:"conversation" validate:"required"`
	LLM          LLMConfig          `mapstructure:"llm" validate:"required"`
	TTS          TTSConfig          `mapstructure:"tts" validate:"required"`
	BargeIn      BargeInConfig      `mapstructure:"bargein" validate:"required"`
	Fallback     FallbackConfig     `mapstructure:"fallback"`
	Bus          BusConfig          `mapstructure:"bus" validate:"required"`
	Switch       SwitchConfig       `mapstructure:"switch"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis"`
}

type RTPConfig struct {
	Host      string `mapstructure:"host" validate:"required"`
	PortStart int    `mapstructure:"port_start" validate:"required,gt=0"`
	PortEnd   int    `mapstructure:"port_end" validate:"required,gtfield=PortStart"`
}

type PipelineConfig struct {
	FrameMs           int `mapstructure:"frame_ms" validate:"required"`
	MinUtteranceMs    int `mapstructure:"min_utterance_ms"`
	MaxUtteranceMs    int `mapstructure:"max_utterance_ms"`
	MaxUtteranceBytes int `mapstructure:"max_utterance_bytes"`
	SilenceTimeoutMs  int `mapstructure:"silence_timeout_ms"`
}

type VADConfig struct {
	Engine              string  `mapstructure:"engine" validate:"required"`
	ModelPath           string  `mapstructure:"model_path"`
	KIn                 int     `mapstructure:"k_in" validate:"required"`
	KOut                int     `mapstructure:"k_out" validate:"required"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type EchoConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	ReferenceMs int  `mapstructure:"reference_ms"`
}

type NoiseConfig struct {
	Mode string `mapstructure:"mode"` // off | gentle | moderate | aggressive
}

type StateMachineConfig struct {
	MaxDurationSec     int `mapstructure:"max_duration_sec" validate:"required"`
	SilenceTimeoutSec  int `mapstructure:"silence_timeout_sec" validate:"required"`
	ResponseTimeoutSec int `mapstructure:"response_timeout_sec" validate:"required"`
}

type ConversationConfig struct {
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxTokens    int    `mapstructure:"max_tokens" validate:"required"`
	Language     string `mapstructure:"language"`
	TTLSec       int    `mapstructure:"ttl_sec"`
}

// LLMConfig holds the per-request knobs the controller stamps on llm
// requests. Model selection lives with the worker.
type LLMConfig struct {
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type TTSConfig struct {
	Voice      string `mapstructure:"voice" validate:"required"`
	SampleRate int    `mapstructure:"sample_rate" validate:"required"`
}

type BargeInConfig struct {
	Enabled             bool    `mapstructure:"enabled"`
	DebounceMs          int     `mapstructure:"debounce_ms" validate:"required"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

type FallbackConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type BusConfig struct {
	URL string `mapstructure:"url" validate:"required"`
}

type SwitchConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
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
	v.SetDefault("SERVICE_NAME", "voice-api")
	v.SetDefault("VERSION", "0.0.1")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("API_KEY", "")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 9080)
	v.SetDefault("LOG_LEVEL", "debug")
	v.SetDefault("LOG_PATH", "")
	v.SetDefault("RECORDINGS_DIR", "")

	v.SetDefault("RTP__HOST", "0.0.0.0")
	v.SetDefault("RTP__PORT_START", 10000)
	v.SetDefault("RTP__PORT_END", 20000)

	v.SetDefault("PIPELINE__FRAME_MS", 20)
	v.SetDefault("PIPELINE__MIN_UTTERANCE_MS", 300)
	v.SetDefault("PIPELINE__MAX_UTTERANCE_MS", 15000)
	v.SetDefault("PIPELINE__MAX_UTTERANCE_BYTES", 1<<20)
	v.SetDefault("PIPELINE__SILENCE_TIMEOUT_MS", 2000)

	v.SetDefault("VAD__ENGINE", "energy")
	v.SetDefault("VAD__MODEL_PATH", "")
	v.SetDefault("VAD__K_IN", 3)
	v.SetDefault("VAD__K_OUT", 15)
	v.SetDefault("VAD__CONFIDENCE_THRESHOLD", 0.5)

	v.SetDefault("ECHO__ENABLED", true)
	v.SetDefault("ECHO__REFERENCE_MS", 200)

	v.SetDefault("NOISE__MODE", "moderate")

	v.SetDefault("STATE_MACHINE__MAX_DURATION_SEC", 1800)
	v.SetDefault("STATE_MACHINE__SILENCE_TIMEOUT_SEC", 30)
	v.SetDefault("STATE_MACHINE__RESPONSE_TIMEOUT_SEC", 30)

	v.SetDefault("CONVERSATION__SYSTEM_PROMPT", "You are a helpful voice assistant. Keep responses short and conversational.")
	v.SetDefault("CONVERSATION__MAX_TOKENS", 4096)
	v.SetDefault("CONVERSATION__LANGUAGE", "en")
	v.SetDefault("CONVERSATION__TTL_SEC", 3600)

	v.SetDefault("LLM__MAX_TOKENS", 512)
	v.SetDefault("LLM__TEMPERATURE", 0.7)

	v.SetDefault("TTS__VOICE", "alloy")
	v.SetDefault("TTS__SAMPLE_RATE", 24000)

	v.SetDefault("BARGEIN__ENABLED", true)
	v.SetDefault("BARGEIN__DEBOUNCE_MS", 150)
	v.SetDefault("BARGEIN__CONFIDENCE_THRESHOLD", 0.6)

	v.SetDefault("FALLBACK__ENABLED", true)

	v.SetDefault("BUS__URL", "redis://localhost:6379/0")

	v.SetDefault("SWITCH__BASE_URL", "")
	v.SetDefault("SWITCH__USERNAME", "")
	v.SetDefault("SWITCH__PASSWORD", "")

	v.SetDefault("POSTGRES__DSN", "")

	v.SetDefault("REDIS__ADDR", "localhost:6379")
	v.SetDefault("REDIS__PASSWORD", "")
	v.SetDefault("REDIS__DB", 0)
}

// GetVoiceConfig unmarshals and validates the application config.
func GetVoiceConfig(v *viper.Viper) (*VoiceConfig, error) {
	var config VoiceConfig
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
