// Package types holds the JSON payloads of the lorad HTTP API.
package types

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	// Required prompt text for the user turn.
	// example: Explain LoRA in one sentence.
	Prompt string `json:"prompt" example:"Explain LoRA in one sentence."`
	// Maximum number of new tokens to generate. Server default when omitted.
	// example: 180
	MaxNewTokens *int `json:"max_new_tokens,omitempty" example:"180"`
	// Sampling temperature. Server default when omitted.
	// example: 0.7
	Temperature *float64 `json:"temperature,omitempty" example:"0.7"`
}

// GenerateResponse is returned by POST /generate.
type GenerateResponse struct {
	// Cleaned assistant text.
	// example: LoRA fine-tunes a model by learning small low-rank weight updates.
	Result string `json:"result" example:"LoRA fine-tunes a model by learning small low-rank weight updates."`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Service state: uninitialized, ready or unavailable.
	// example: ready
	State string `json:"state" example:"ready"`
	// Configured base model identifier.
	// example: unsloth/llama-3-8b-Instruct-bnb-4bit
	BaseModel string `json:"base_model" example:"unsloth/llama-3-8b-Instruct-bnb-4bit"`
	// Directory holding adapter_config.json, when resolved.
	// example: /app/adapters/run1
	AdapterDir string `json:"adapter_dir,omitempty" example:"/app/adapters/run1"`
	// Where the tokenizer is loaded from: adapter or base.
	// example: adapter
	TokenizerSource string `json:"tokenizer_source,omitempty" example:"adapter"`
	// Runtime integration in use.
	// example: server
	Backend string `json:"backend" example:"server"`
	// Whether the process runs inside a container.
	// example: true
	Isolated bool `json:"isolated" example:"true"`
	// Last initialization or generation error, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
	// Total generations served since start.
	// example: 12
	GenerationsTotal uint64 `json:"generations_total" example:"12"`
}
