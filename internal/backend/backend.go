// Package backend loads a base model plus LoRA adapter into a llama.cpp
// runtime and runs completions against it.
package backend

import (
	"context"
	"fmt"
	"strings"

	"lorad/internal/adapter"
)

// Kind selects the runtime integration.
type Kind string

const (
	// KindServer talks to an already running llama-server.
	KindServer Kind = "server"
	// KindSubprocess spawns and owns a llama-server process.
	KindSubprocess Kind = "subprocess"
	// KindLlama runs go-llama.cpp in process (requires the llama build tag).
	KindLlama Kind = "llama"
)

// ParseKind validates a backend name. Empty selects KindServer.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return KindServer, nil
	case KindServer, KindSubprocess, KindLlama:
		return k, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want server|subprocess|llama)", s)
	}
}

// LoadSpec describes what to load.
type LoadSpec struct {
	// BaseModel is the configured base model identifier.
	BaseModel string
	// BaseModelPath is a local GGUF file. Backends that need local weights
	// resolve it from BaseModel when empty.
	BaseModelPath string
	Adapter       adapter.Location
	Tokenizer     adapter.TokenizerSource
}

// Params are per-request sampling parameters.
type Params struct {
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Loader creates a Model. Load is called once at startup.
type Loader interface {
	Kind() Kind
	Load(ctx context.Context, spec LoadSpec) (Model, error)
}

// Model is a loaded base model with its adapter applied. Implementations
// returned by a Loader are safe for concurrent use; runtimes that are not
// are wrapped with Serialize.
type Model interface {
	// Generate returns the decoded continuation of prompt.
	Generate(ctx context.Context, prompt string, p Params) (string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Kind       Kind
	Server     ServerConfig
	Subprocess SubprocessConfig
	Llama      LlamaConfig
}

// NewLoader returns the Loader for c.Kind.
func NewLoader(c Config) (Loader, error) {
	switch c.Kind {
	case KindServer, "":
		return NewServerLoader(c.Server), nil
	case KindSubprocess:
		return NewSubprocessLoader(c.Subprocess), nil
	case KindLlama:
		return NewLlamaLoader(c.Llama), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Kind)
	}
}
