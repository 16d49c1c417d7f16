// Package service owns the loaded model and turns prompts into cleaned
// assistant replies.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lorad/internal/adapter"
	"lorad/internal/backend"
	"lorad/internal/prompt"
	"lorad/pkg/types"
)

// State is the lifecycle state of the service.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	// StateUnavailable is terminal; there is no reload.
	StateUnavailable State = "unavailable"
)

// Defaults fill request fields the client left out.
type Defaults struct {
	MaxNewTokens int
	Temperature  float64
}

// Options configures an InferenceService.
type Options struct {
	Loader backend.Loader
	// Resolver defaults to adapter.DefaultResolver.
	Resolver *adapter.Resolver
	// AdapterRoot is ADAPTER_DIR; empty selects the isolation default.
	AdapterRoot       string
	Isolated          bool
	BaseModel         string
	SystemPrompt      string
	Defaults          Defaults
	MaxNewTokensLimit int
	Logger            zerolog.Logger
	// Tracer defaults to the global otel tracer.
	Tracer trace.Tracer
}

// InferenceService holds the single model handle shared by all requests.
type InferenceService struct {
	opts    Options
	tracer  trace.Tracer
	log     zerolog.Logger
	started time.Time

	mu        sync.RWMutex
	state     State
	model     backend.Model
	loc       adapter.Location
	params    adapter.Params
	tokenizer adapter.TokenizerSource
	lastErr   string

	generations atomic.Uint64
}

// New returns an uninitialized service. Call Start to load the model.
func New(opts Options) *InferenceService {
	if opts.Resolver == nil {
		r := adapter.DefaultResolver
		opts.Resolver = &r
	}
	tr := opts.Tracer
	if tr == nil {
		tr = otel.Tracer("lorad/service")
	}
	return &InferenceService{
		opts:    opts,
		tracer:  tr,
		log:     opts.Logger,
		started: time.Now(),
		state:   StateUninitialized,
	}
}

// Start resolves the adapter, selects the tokenizer source and loads the
// model. A failure leaves the service unavailable and is returned; the
// process is expected to keep serving diagnostics.
func (s *InferenceService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUninitialized {
		return fmt.Errorf("service already started (state=%s)", s.state)
	}
	if s.opts.Loader == nil {
		return s.failLocked(errors.New("no backend configured"))
	}
	s.log.Warn().Str("base_model", s.opts.BaseModel).Str("backend", string(s.opts.Loader.Kind())).
		Msg("STARTUP: loading base model and LoRA adapter")

	loc, err := s.opts.Resolver.Resolve(s.opts.AdapterRoot, s.opts.Isolated)
	if err != nil {
		return s.failLocked(err)
	}
	params, err := adapter.ReadParams(loc)
	if err != nil {
		return s.failLocked(err)
	}
	if params.BaseModel != "" && params.BaseModel != s.opts.BaseModel {
		s.log.Warn().Str("adapter_base", params.BaseModel).Str("base_model", s.opts.BaseModel).
			Msg("adapter was trained on a different base model")
	}
	tok := adapter.SelectTokenizerSource(loc)
	if tok.UseAdapterDir {
		s.log.Info().Str("dir", tok.Dir).Strs("files", tok.Files).Msg("tokenizer from adapter dir")
	} else {
		s.log.Info().Str("base_model", s.opts.BaseModel).Msg("tokenizer from base model")
	}

	m, err := s.opts.Loader.Load(ctx, backend.LoadSpec{
		BaseModel: s.opts.BaseModel,
		Adapter:   loc,
		Tokenizer: tok,
	})
	if err != nil {
		return s.failLocked(err)
	}
	s.model = m
	s.loc = loc
	s.params = params
	s.tokenizer = tok
	s.state = StateReady
	s.log.Warn().Str("adapter_dir", loc.Dir).Int("rank", params.Rank).Msg("STARTUP: model loaded, service ready")
	return nil
}

func (s *InferenceService) failLocked(err error) error {
	s.state = StateUnavailable
	s.lastErr = err.Error()
	s.log.Error().Err(err).Msg("STARTUP ERROR: model failed to load")
	return err
}

// Ready reports whether Generate can run.
func (s *InferenceService) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateReady
}

// State returns the current lifecycle state.
func (s *InferenceService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generate frames req.Prompt with the system prompt, runs the model and
// returns the cleaned assistant reply.
func (s *InferenceService) Generate(ctx context.Context, req types.GenerateRequest) (string, error) {
	s.mu.RLock()
	m, state := s.model, s.state
	s.mu.RUnlock()
	if state != StateReady || m == nil {
		return "", ErrUnavailable
	}
	p, err := s.requestParams(req)
	if err != nil {
		return "", err
	}

	llmRequestsTotal.Inc()
	ctx, span := s.tracer.Start(ctx, "service.Generate", trace.WithAttributes(
		attribute.Int("llm.max_new_tokens", p.MaxTokens),
		attribute.Float64("llm.temperature", p.Temperature),
		attribute.Int("llm.prompt_chars", len(req.Prompt)),
	))
	defer span.End()

	s.log.Warn().Str("prompt_prefix", prefix(req.Prompt, 80)).Int("max_new_tokens", p.MaxTokens).
		Float64("temperature", p.Temperature).Msg("POST /generate")

	framed := prompt.Frame(s.opts.SystemPrompt, req.Prompt)
	start := time.Now()
	continuation, err := s.run(ctx, m, framed, p)
	elapsed := time.Since(start)
	llmGenerationLatency.Observe(elapsed.Seconds())
	if err != nil {
		llmGenerationErrors.Inc()
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error().Err(err).Dur("elapsed", elapsed).Msg("ERROR /generate")
		return "", &GenerationError{Err: err, Elapsed: elapsed}
	}
	s.generations.Add(1)
	s.log.Warn().Dur("elapsed", elapsed).Msg("OK /generate")
	return prompt.Clean(framed + continuation), nil
}

// run calls the model and converts a panic into an error.
func (s *InferenceService) run(ctx context.Context, m backend.Model, framed string, p backend.Params) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in backend: %v", r)
		}
	}()
	return m.Generate(ctx, framed, p)
}

// requestParams applies defaults and validates request parameters.
func (s *InferenceService) requestParams(req types.GenerateRequest) (backend.Params, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return backend.Params{}, &ValidationError{Field: "prompt", Reason: "is required"}
	}
	p := backend.Params{
		MaxTokens:   s.opts.Defaults.MaxNewTokens,
		Temperature: s.opts.Defaults.Temperature,
		Stop:        prompt.StopSequences(),
	}
	if req.MaxNewTokens != nil {
		p.MaxTokens = *req.MaxNewTokens
	}
	if req.Temperature != nil {
		p.Temperature = *req.Temperature
	}
	if p.MaxTokens < 1 {
		return backend.Params{}, &ValidationError{Field: "max_new_tokens", Reason: "must be at least 1"}
	}
	if limit := s.opts.MaxNewTokensLimit; limit > 0 && p.MaxTokens > limit {
		return backend.Params{}, &ValidationError{Field: "max_new_tokens", Reason: fmt.Sprintf("must not exceed %d", limit)}
	}
	if p.Temperature < 0 {
		return backend.Params{}, &ValidationError{Field: "temperature", Reason: "must not be negative"}
	}
	return p, nil
}

// Status builds the /status payload.
func (s *InferenceService) Status() types.StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := types.StatusResponse{
		State:            string(s.state),
		BaseModel:        s.opts.BaseModel,
		AdapterDir:       s.loc.Dir,
		Isolated:         s.opts.Isolated,
		LastError:        s.lastErr,
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		ServerTimeUnix:   time.Now().Unix(),
		GenerationsTotal: s.generations.Load(),
	}
	if s.opts.Loader != nil {
		resp.Backend = string(s.opts.Loader.Kind())
	}
	if s.state == StateReady {
		resp.TokenizerSource = "base"
		if s.tokenizer.UseAdapterDir {
			resp.TokenizerSource = "adapter"
		}
	}
	return resp
}

// Adapter returns the resolved adapter location and its parsed config.
func (s *InferenceService) Adapter() (adapter.Location, adapter.Params) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc, s.params
}

// Close releases the model. The service is unavailable afterwards.
func (s *InferenceService) Close() error {
	s.mu.Lock()
	m := s.model
	s.model = nil
	if s.state == StateReady {
		s.state = StateUnavailable
	}
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

func prefix(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
