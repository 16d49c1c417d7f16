package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lorad/internal/adapter"
	"lorad/internal/backend"
	"lorad/internal/httpapi"
	"lorad/internal/readiness"
	"lorad/internal/service"
)

// completionCall is what the fake llama-server received.
type completionCall struct {
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
}

// fakeLlama is an in-process stand-in for llama-server's OpenAI-compatible API.
type fakeLlama struct {
	*httptest.Server

	mu     sync.Mutex
	calls  []completionCall
	pieces []string
	status int
	delay  time.Duration
}

func newFakeLlama(t *testing.T, pieces ...string) *fakeLlama {
	t.Helper()
	f := &fakeLlama{pieces: pieces, status: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"base"}]}`))
	})
	mux.HandleFunc("/lora-adapters", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":0,"path":"adapter.gguf","scale":1.0}]`))
	})
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var c completionCall
		_ = json.NewDecoder(r.Body).Decode(&c)
		f.mu.Lock()
		f.calls = append(f.calls, c)
		status, delay, pieces := f.status, f.delay, f.pieces
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if status != http.StatusOK {
			http.Error(w, "runtime exploded", status)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, p := range pieces {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"text": p}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLlama) Calls() []completionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completionCall(nil), f.calls...)
}

// createAdapterTree writes <root>/<rel>/adapter_config.json plus optional extra files.
func createAdapterTree(t *testing.T, rel string, extra ...string) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, rel)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := `{"base_model_name_or_path":"unsloth/llama-3-8b-Instruct-bnb-4bit","peft_type":"LORA","r":16,"lora_alpha":16,"target_modules":"q_proj"}`
	if err := os.WriteFile(filepath.Join(dir, adapter.ConfigFileName), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, name := range extra {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

// newStack starts the service with loader and serves it through httpapi.
func newStack(t *testing.T, loader backend.Loader, adapterRoot string) (*httptest.Server, *service.InferenceService) {
	t.Helper()
	svc := service.New(service.Options{
		Loader:            loader,
		AdapterRoot:       adapterRoot,
		BaseModel:         "unsloth/llama-3-8b-Instruct-bnb-4bit",
		SystemPrompt:      "You are a test assistant.",
		Defaults:          service.Defaults{MaxNewTokens: 180, Temperature: 0.7},
		MaxNewTokensLimit: 1000,
		Logger:            zerolog.Nop(),
	})
	_ = svc.Start(context.Background())
	t.Cleanup(func() { _ = svc.Close() })

	health := func(ctx context.Context) readiness.Report {
		return readiness.NewReport(map[string]readiness.CheckResult{
			readiness.CheckAccelerator:  {OK: true, Message: "1 device"},
			readiness.CheckQuantization: {OK: true, Message: "found"},
		})
	}
	srv := httptest.NewServer(httpapi.NewMux(svc, health))
	t.Cleanup(srv.Close)
	return srv, svc
}

func serverLoader(url string) backend.Loader {
	return backend.NewServerLoader(backend.ServerConfig{URL: url, RequestTimeout: 5 * time.Second, Logger: zerolog.Nop()})
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
