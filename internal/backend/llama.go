//go:build llama

package backend

import (
	"context"
	"errors"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"

	"lorad/internal/registry"
)

type llamaLoader struct {
	cfg LlamaConfig
}

// NewLlamaLoader constructs the in-process go-llama.cpp loader.
func NewLlamaLoader(cfg LlamaConfig) Loader {
	return &llamaLoader{cfg: cfg}
}

func (l *llamaLoader) Kind() Kind { return KindLlama }

func (l *llamaLoader) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	basePath := strings.TrimSpace(spec.BaseModelPath)
	if basePath == "" {
		p, err := registry.ResolvePath(l.cfg.ModelsDir, spec.BaseModel)
		if err != nil {
			return nil, wrapLoad(KindLlama, err)
		}
		basePath = p
	}
	loraPath, err := FindAdapterGGUF(spec.Adapter.Dir)
	if err != nil {
		return nil, wrapLoad(KindLlama, err)
	}
	mo := []llama.ModelOption{
		llama.SetContext(zn(l.cfg.CtxSize, 4096)),
		llama.SetLoraAdapter(loraPath),
	}
	if l.cfg.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(l.cfg.GPULayers))
	}
	if l.cfg.LoraBase != "" {
		mo = append(mo, llama.SetLoraBase(l.cfg.LoraBase))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := llama.New(basePath, mo...)
	if err != nil {
		return nil, wrapLoad(KindLlama, err)
	}
	l.cfg.Logger.Info().Str("model", basePath).Str("lora", loraPath).Msg("llama model loaded")
	// A single llama context cannot decode two prompts at once.
	return Serialize(&llamaModel{model: m, threads: l.cfg.Threads}), nil
}

type llamaModel struct {
	model   *llama.LLama
	threads int
}

func (s *llamaModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	if s.model == nil {
		return "", errors.New("llama model not initialized")
	}
	s.model.SetTokenCallback(func(string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	})
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, s.threads)),
		llama.SetTemperature(float32(p.Temperature)),
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	text, err := s.model.Predict(prompt, po...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return text, nil
}

func (s *llamaModel) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
