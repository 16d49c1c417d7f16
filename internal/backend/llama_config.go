package backend

import "github.com/rs/zerolog"

// LlamaConfig configures the in-process go-llama.cpp backend.
type LlamaConfig struct {
	ModelsDir string
	CtxSize   int
	GPULayers int
	Threads   int
	// LoraBase is an optional higher precision base used when applying the adapter.
	LoraBase string
	Logger   zerolog.Logger
}
