//go:build !llama

package backend

import "context"

// llamaLoader refuses to load without the 'llama' build tag so default builds
// stay CGO-free.
type llamaLoader struct {
	cfg LlamaConfig
}

// NewLlamaLoader constructs the in-process loader stub.
func NewLlamaLoader(cfg LlamaConfig) Loader {
	return &llamaLoader{cfg: cfg}
}

func (l *llamaLoader) Kind() Kind { return KindLlama }

func (l *llamaLoader) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
