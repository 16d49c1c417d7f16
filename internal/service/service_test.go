package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lorad/internal/adapter"
	"lorad/internal/backend"
	"lorad/internal/prompt"
	"lorad/pkg/types"
)

type fakeModel struct {
	mu      sync.Mutex
	out     string
	err     error
	panicV  any
	prompts []string
	params  []backend.Params
	closed  int
}

func (m *fakeModel) Generate(ctx context.Context, p string, params backend.Params) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, p)
	m.params = append(m.params, params)
	m.mu.Unlock()
	if m.panicV != nil {
		panic(m.panicV)
	}
	return m.out, m.err
}

func (m *fakeModel) Close() error {
	m.closed++
	return nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type fakeLoader struct {
	model *fakeModel
	err   error
	specs []backend.LoadSpec
}

func (l *fakeLoader) Kind() backend.Kind { return backend.KindServer }

func (l *fakeLoader) Load(ctx context.Context, spec backend.LoadSpec) (backend.Model, error) {
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

// adapterTree writes root/run1/adapter_config.json plus the given extra files.
func adapterTree(t *testing.T, extra ...string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "run1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cfg := `{"base_model_name_or_path":"unsloth/llama-3-8b-Instruct-bnb-4bit","peft_type":"LORA","r":16,"lora_alpha":32,"target_modules":["q_proj","v_proj"]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, adapter.ConfigFileName), []byte(cfg), 0o644))
	for _, n := range extra {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0o644))
	}
	return root
}

func newService(t *testing.T, root string, l backend.Loader) *InferenceService {
	t.Helper()
	return New(Options{
		Loader:            l,
		AdapterRoot:       root,
		BaseModel:         "unsloth/llama-3-8b-Instruct-bnb-4bit",
		SystemPrompt:      "You are helpful.",
		Defaults:          Defaults{MaxNewTokens: 180, Temperature: 0.7},
		MaxNewTokensLimit: 1000,
		Logger:            zerolog.Nop(),
	})
}

func startedService(t *testing.T, m *fakeModel) *InferenceService {
	t.Helper()
	svc := newService(t, adapterTree(t), &fakeLoader{model: m})
	require.NoError(t, svc.Start(context.Background()))
	return svc
}

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestStart_Ready(t *testing.T) {
	root := adapterTree(t, "tokenizer.json")
	l := &fakeLoader{model: &fakeModel{}}
	svc := newService(t, root, l)
	assert.Equal(t, StateUninitialized, svc.State())
	assert.False(t, svc.Ready())

	require.NoError(t, svc.Start(context.Background()))
	assert.True(t, svc.Ready())
	require.Len(t, l.specs, 1)
	spec := l.specs[0]
	assert.Equal(t, filepath.Join(root, "run1"), spec.Adapter.Dir)
	assert.True(t, spec.Tokenizer.UseAdapterDir)
	assert.Equal(t, []string{"tokenizer.json"}, spec.Tokenizer.Files)

	st := svc.Status()
	assert.Equal(t, "ready", st.State)
	assert.Equal(t, "adapter", st.TokenizerSource)
	assert.Equal(t, "server", st.Backend)
	assert.Empty(t, st.LastError)

	loc, params := svc.Adapter()
	assert.Equal(t, spec.Adapter, loc)
	assert.Equal(t, 16, params.Rank)

	assert.Error(t, svc.Start(context.Background()), "second Start must fail")
}

func TestStart_TokenizerFromBase(t *testing.T) {
	svc := startedService(t, &fakeModel{})
	assert.Equal(t, "base", svc.Status().TokenizerSource)
}

func TestStart_AdapterMissingIsTerminal(t *testing.T) {
	m := &fakeModel{out: "x"}
	l := &fakeLoader{model: m}
	svc := newService(t, t.TempDir(), l)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.True(t, adapter.IsNotFound(err))
	assert.Equal(t, StateUnavailable, svc.State())
	assert.Empty(t, l.specs, "loader must not run without an adapter")
	assert.Contains(t, svc.Status().LastError, "ADAPTER_DIR")

	_, err = svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi", MaxNewTokens: intp(50), Temperature: floatp(0.5)})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, 0, m.calls())
}

func TestStart_LoadFailure(t *testing.T) {
	svc := newService(t, adapterTree(t), &fakeLoader{err: errors.New("llama-server unreachable")})
	require.Error(t, svc.Start(context.Background()))
	assert.False(t, svc.Ready())
	assert.Equal(t, "llama-server unreachable", svc.Status().LastError)
}

func TestStart_NoLoader(t *testing.T) {
	svc := newService(t, adapterTree(t), nil)
	require.Error(t, svc.Start(context.Background()))
	assert.Equal(t, StateUnavailable, svc.State())
}

func TestGenerate_BeforeStart(t *testing.T) {
	svc := newService(t, adapterTree(t), &fakeLoader{model: &fakeModel{}})
	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi"})
	assert.True(t, IsUnavailable(err))
	var he interface{ StatusCode() int }
	require.True(t, errors.As(err, &he))
	assert.Equal(t, 503, he.StatusCode())
}

func TestGenerate_FramesAndCleans(t *testing.T) {
	m := &fakeModel{out: " Hello!<|eot_id|>"}
	svc := startedService(t, m)
	before := testutil.ToFloat64(llmRequestsTotal)

	out, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi", MaxNewTokens: intp(50), Temperature: floatp(0.5)})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", out)

	require.Equal(t, 1, m.calls())
	assert.Equal(t, prompt.Frame("You are helpful.", "Hi"), m.prompts[0])
	assert.Equal(t, 50, m.params[0].MaxTokens)
	assert.InDelta(t, 0.5, m.params[0].Temperature, 1e-9)
	assert.Equal(t, prompt.StopSequences(), m.params[0].Stop)
	assert.Equal(t, before+1, testutil.ToFloat64(llmRequestsTotal))
	assert.Equal(t, uint64(1), svc.Status().GenerationsTotal)
}

func TestGenerate_AppliesDefaults(t *testing.T) {
	m := &fakeModel{out: "ok"}
	svc := startedService(t, m)
	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, 180, m.params[0].MaxTokens)
	assert.InDelta(t, 0.7, m.params[0].Temperature, 1e-9)
}

func TestGenerate_ZeroTemperatureAllowed(t *testing.T) {
	m := &fakeModel{out: "ok"}
	svc := startedService(t, m)
	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi", Temperature: floatp(0)})
	require.NoError(t, err)
	assert.Zero(t, m.params[0].Temperature)
}

func TestGenerate_NoTokenCapByDefault(t *testing.T) {
	m := &fakeModel{out: "ok"}
	svc := New(Options{
		Loader:      &fakeLoader{model: m},
		AdapterRoot: adapterTree(t),
		BaseModel:   "unsloth/llama-3-8b-Instruct-bnb-4bit",
		Defaults:    Defaults{MaxNewTokens: 180, Temperature: 0.7},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, svc.Start(context.Background()))
	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi", MaxNewTokens: intp(4096)})
	require.NoError(t, err)
	assert.Equal(t, 4096, m.params[0].MaxTokens)
}

func TestGenerate_Validation(t *testing.T) {
	m := &fakeModel{out: "ok"}
	svc := startedService(t, m)
	cases := []struct {
		name  string
		req   types.GenerateRequest
		field string
	}{
		{"blank prompt", types.GenerateRequest{Prompt: "  "}, "prompt"},
		{"zero tokens", types.GenerateRequest{Prompt: "Hi", MaxNewTokens: intp(0)}, "max_new_tokens"},
		{"over limit", types.GenerateRequest{Prompt: "Hi", MaxNewTokens: intp(1001)}, "max_new_tokens"},
		{"negative temperature", types.GenerateRequest{Prompt: "Hi", Temperature: floatp(-0.1)}, "temperature"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Generate(context.Background(), tc.req)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
			assert.Equal(t, 400, ve.StatusCode())
		})
	}
	assert.Equal(t, 0, m.calls())
}

func TestGenerate_BackendError(t *testing.T) {
	cause := errors.New("CUDA out of memory")
	svc := startedService(t, &fakeModel{err: cause})
	before := testutil.ToFloat64(llmGenerationErrors)

	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi"})
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "Generation error: CUDA out of memory", ge.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 500, ge.StatusCode())
	assert.GreaterOrEqual(t, ge.Elapsed.Nanoseconds(), int64(0))
	assert.Equal(t, before+1, testutil.ToFloat64(llmGenerationErrors))
	assert.Equal(t, "CUDA out of memory", svc.Status().LastError)
	assert.True(t, svc.Ready(), "a failed generation does not change state")
}

func TestGenerate_PanicRecovered(t *testing.T) {
	svc := startedService(t, &fakeModel{panicV: "boom"})
	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi"})
	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Contains(t, ge.Error(), "panic in backend: boom")
}

func TestGenerate_Concurrent(t *testing.T) {
	m := &fakeModel{out: "ok"}
	svc := startedService(t, m)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi"})
			assert.NoError(t, err)
			assert.Equal(t, "ok", out)
		}()
	}
	wg.Wait()
	assert.Equal(t, 16, m.calls())
}

func TestClose(t *testing.T) {
	m := &fakeModel{}
	svc := startedService(t, m)
	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.Equal(t, 1, m.closed)
	assert.False(t, svc.Ready())
	_, err := svc.Generate(context.Background(), types.GenerateRequest{Prompt: "Hi"})
	assert.True(t, IsUnavailable(err))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "abc", prefix("abc", 80))
	assert.Equal(t, "при", prefix("привет", 3))
}
