package cli

import (
	"time"

	"github.com/rs/zerolog"

	"lorad/internal/backend"
	"lorad/internal/config"
	"lorad/internal/readiness"
	"lorad/internal/service"
)

// isolated reports whether the process runs inside a container. The config
// override wins over detection.
func isolated(cfg config.Config) bool {
	if cfg.Isolated != nil {
		return *cfg.Isolated
	}
	return readiness.DetectIsolated()
}

func newChecker(cfg config.Config, log zerolog.Logger) *readiness.Checker {
	return readiness.New(readiness.Options{
		Libraries: readiness.NewLibraryFinder(cfg.QuantLibDirs, nil),
		Logger:    log.With().Str("component", "readiness").Logger(),
	})
}

func newLoader(cfg config.Config, log zerolog.Logger) (backend.Loader, error) {
	kind, err := backend.ParseKind(cfg.Backend)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	blog := log.With().Str("component", "backend").Str("backend", string(kind)).Logger()
	return backend.NewLoader(backend.Config{
		Kind: kind,
		Server: backend.ServerConfig{
			URL:            cfg.LlamaServerURL,
			APIKey:         cfg.LlamaAPIKey,
			RequestTimeout: timeout,
			Logger:         blog,
		},
		Subprocess: backend.SubprocessConfig{
			Bin:            cfg.LlamaBin,
			Host:           cfg.LlamaHost,
			ModelsDir:      cfg.ModelsDir,
			CtxSize:        cfg.LlamaCtxSize,
			GPULayers:      cfg.LlamaNGL,
			Threads:        cfg.LlamaThreads,
			ExtraArgs:      cfg.LlamaExtraArgs,
			RequestTimeout: timeout,
			Logger:         blog,
		},
		Llama: backend.LlamaConfig{
			ModelsDir: cfg.ModelsDir,
			CtxSize:   cfg.LlamaCtxSize,
			GPULayers: cfg.LlamaNGL,
			Threads:   cfg.LlamaThreads,
			LoraBase:  cfg.LlamaLoraBase,
			Logger:    blog,
		},
	})
}

func newService(cfg config.Config, loader backend.Loader, isolated bool, log zerolog.Logger) *service.InferenceService {
	return service.New(service.Options{
		Loader:            loader,
		AdapterRoot:       cfg.AdapterDir,
		Isolated:          isolated,
		BaseModel:         cfg.BaseModelName,
		SystemPrompt:      cfg.SystemPrompt,
		Defaults:          service.Defaults{MaxNewTokens: cfg.DefaultMaxNewTokens, Temperature: cfg.DefaultTemperature},
		MaxNewTokensLimit: cfg.MaxNewTokensLimit,
		Logger:            log.With().Str("component", "service").Logger(),
	})
}
