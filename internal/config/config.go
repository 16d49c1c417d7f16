// Package config assembles runtime settings from defaults, an optional config
// file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the support-assistant persona the adapter was trained with.
const DefaultSystemPrompt = "Вы профессиональный менеджер поддержки в чате компании (компания продает курсы по AI) " +
	"Университет Искусственного интеллекта.\n" +
	"Ответьте на вопрос так, чтобы человек захотел после ответа купить обучение. Отвечайте на русском языке!"

// Config holds runtime parameters for the service. Later sources override
// earlier ones: Default, then the config file, then the environment.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr" env:"ADDR"`

	// Model and adapter
	BaseModelName string `json:"base_model_name" yaml:"base_model_name" toml:"base_model_name" env:"BASE_MODEL_NAME"`
	AdapterDir    string `json:"adapter_dir" yaml:"adapter_dir" toml:"adapter_dir" env:"ADAPTER_DIR"`
	ModelsDir     string `json:"models_dir" yaml:"models_dir" toml:"models_dir" env:"MODELS_DIR"`

	// Generation
	DefaultMaxNewTokens int     `json:"default_max_new_tokens" yaml:"default_max_new_tokens" toml:"default_max_new_tokens" env:"DEFAULT_MAX_NEW_TOKENS"`
	// MaxNewTokensLimit caps max_new_tokens per request; 0 disables.
	MaxNewTokensLimit   int     `json:"max_new_tokens_limit" yaml:"max_new_tokens_limit" toml:"max_new_tokens_limit" env:"MAX_NEW_TOKENS_LIMIT"`
	DefaultTemperature  float64 `json:"default_temperature" yaml:"default_temperature" toml:"default_temperature" env:"DEFAULT_TEMPERATURE"`
	SystemPrompt        string  `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt" env:"SYSTEM_PROMPT"`

	// Backend
	Backend        string   `json:"backend" yaml:"backend" toml:"backend" env:"BACKEND"`
	LlamaServerURL string   `json:"llama_server_url" yaml:"llama_server_url" toml:"llama_server_url" env:"LLAMA_SERVER_URL"`
	LlamaAPIKey    string   `json:"llama_api_key" yaml:"llama_api_key" toml:"llama_api_key" env:"LLAMA_API_KEY"`
	LlamaBin       string   `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin" env:"LLAMA_BIN"`
	LlamaHost      string   `json:"llama_host" yaml:"llama_host" toml:"llama_host" env:"LLAMA_HOST"`
	LlamaCtxSize   int      `json:"llama_ctx_size" yaml:"llama_ctx_size" toml:"llama_ctx_size" env:"LLAMA_CTX_SIZE"`
	LlamaNGL       int      `json:"llama_ngl" yaml:"llama_ngl" toml:"llama_ngl" env:"LLAMA_NGL"`
	LlamaThreads   int      `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads" env:"LLAMA_THREADS"`
	LlamaExtraArgs []string `json:"llama_extra_args" yaml:"llama_extra_args" toml:"llama_extra_args" env:"LLAMA_EXTRA_ARGS" envSeparator:" "`
	LlamaLoraBase  string   `json:"llama_lora_base" yaml:"llama_lora_base" toml:"llama_lora_base" env:"LLAMA_LORA_BASE"`
	// RequestTimeoutSeconds bounds one generation against the runtime; 0 disables.
	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds" env:"REQUEST_TIMEOUT_SECONDS"`

	// Readiness
	QuantLibDirs []string `json:"quant_lib_dirs" yaml:"quant_lib_dirs" toml:"quant_lib_dirs" env:"QUANT_LIB_DIRS" envSeparator:":"`
	// Isolated forces container detection on or off; nil autodetects.
	Isolated *bool `json:"isolated,omitempty" yaml:"isolated,omitempty" toml:"isolated,omitempty" env:"ISOLATED"`

	// HTTP
	MaxBodyBytes       int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	CORSEnabled        bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled" env:"CORS_ENABLED"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins" toml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowedMethods []string `json:"cors_allowed_methods" yaml:"cors_allowed_methods" toml:"cors_allowed_methods" env:"CORS_ALLOWED_METHODS" envSeparator:","`
	CORSAllowedHeaders []string `json:"cors_allowed_headers" yaml:"cors_allowed_headers" toml:"cors_allowed_headers" env:"CORS_ALLOWED_HEADERS" envSeparator:","`
	ShutdownSeconds    int      `json:"shutdown_seconds" yaml:"shutdown_seconds" toml:"shutdown_seconds" env:"SHUTDOWN_SECONDS"`

	// Observability
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level" env:"LOG_LEVEL"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format" env:"LOG_FORMAT"`
	OTLPEndpoint string `json:"otlp_endpoint" yaml:"otlp_endpoint" toml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders  string `json:"otlp_headers" yaml:"otlp_headers" toml:"otlp_headers" env:"OTEL_EXPORTER_OTLP_HEADERS"`
	ServiceName  string `json:"service_name" yaml:"service_name" toml:"service_name" env:"SERVICE_NAME"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                ":8000",
		BaseModelName:       "unsloth/llama-3-8b-Instruct-bnb-4bit",
		DefaultMaxNewTokens: 180,
		DefaultTemperature:  0.7,
		SystemPrompt:        DefaultSystemPrompt,
		Backend:             "server",
		LlamaServerURL:      "http://127.0.0.1:8080",
		LlamaBin:            "llama-server",
		LlamaHost:           "127.0.0.1",
		LlamaCtxSize:        4096,
		MaxBodyBytes:        1 << 20,
		ShutdownSeconds:     5,
		LogLevel:            "warn",
		LogFormat:           "console",
		ServiceName:         "lorad",
	}
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if strings.TrimSpace(c.BaseModelName) == "" {
		errs = append(errs, errors.New("base_model_name is empty"))
	}
	if c.DefaultMaxNewTokens < 1 {
		errs = append(errs, fmt.Errorf("default_max_new_tokens must be at least 1, got %d", c.DefaultMaxNewTokens))
	}
	if c.MaxNewTokensLimit > 0 && c.DefaultMaxNewTokens > c.MaxNewTokensLimit {
		errs = append(errs, fmt.Errorf("default_max_new_tokens %d exceeds max_new_tokens_limit %d", c.DefaultMaxNewTokens, c.MaxNewTokensLimit))
	}
	if c.DefaultTemperature < 0 {
		errs = append(errs, fmt.Errorf("default_temperature must not be negative, got %g", c.DefaultTemperature))
	}
	if c.RequestTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("request_timeout_seconds must not be negative, got %d", c.RequestTimeoutSeconds))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be console or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}
