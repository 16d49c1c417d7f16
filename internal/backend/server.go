package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServerConfig points the server backend at a running llama-server.
type ServerConfig struct {
	URL            string
	APIKey         string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// serverLoader implements Loader against an existing llama-server. The
// adapter must be loaded server-side (llama-server --lora); Load only checks
// that the server answers and reports the adapters it exposes.
type serverLoader struct {
	cfg    ServerConfig
	client *completionClient
}

// NewServerLoader constructs a server-backed loader.
func NewServerLoader(cfg ServerConfig) Loader {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &serverLoader{cfg: cfg, client: newCompletionClient(cfg.URL, cfg.APIKey, cfg.RequestTimeout, cfg.ConnectTimeout, cfg.Logger)}
}

func (l *serverLoader) Kind() Kind { return KindServer }

func (l *serverLoader) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	if strings.TrimSpace(l.cfg.URL) == "" {
		return nil, wrapLoad(KindServer, errors.New("llama-server URL is empty"))
	}
	pctx, cancel := context.WithTimeout(ctx, l.cfg.ConnectTimeout)
	defer cancel()
	if err := l.client.ping(pctx); err != nil {
		return nil, wrapLoad(KindServer, err)
	}
	if n, err := l.client.loraAdapters(pctx); err == nil {
		ev := l.cfg.Logger.Info()
		if n == 0 {
			ev = l.cfg.Logger.Warn()
		}
		ev.Int("lora_adapters", n).Str("adapter_dir", spec.Adapter.Dir).Msg("llama-server adapters")
	}
	return &serverModel{client: l.client, modelID: spec.BaseModel}, nil
}

// serverModel is safe for concurrent use; every call is an independent HTTP request.
type serverModel struct {
	client  *completionClient
	modelID string
	onClose func() error
}

func (m *serverModel) Generate(ctx context.Context, prompt string, p Params) (string, error) {
	return m.client.complete(ctx, m.modelID, prompt, p)
}

func (m *serverModel) Close() error {
	if m.onClose != nil {
		return m.onClose()
	}
	return nil
}

// completionClient speaks the OpenAI-compatible /v1/completions API of llama-server.
type completionClient struct {
	baseURL    string
	apiKey     string
	reqTimeout time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

func newCompletionClient(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration, log zerolog.Logger) *completionClient {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &completionClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reqTimeout: reqTimeout,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		log:        log,
	}
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream"`
}

// streamChunk is the subset of a streamed completion event we read.
// llama-server fills choices[].text; chat-style servers use delta.content.
type streamChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Content string `json:"content"`
}

func (c *completionClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *completionClient) ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llama-server unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llama-server not ready: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return nil
}

// loraAdapters returns how many adapters the server has loaded.
func (c *completionClient) loraAdapters(ctx context.Context) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/lora-adapters", nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("lora-adapters: %s", resp.Status)
	}
	var list []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return 0, err
	}
	return len(list), nil
}

func (c *completionClient) complete(ctx context.Context, modelID, prompt string, p Params) (string, error) {
	if c.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.reqTimeout)
		defer cancel()
	}
	body, err := json.Marshal(completionRequest{
		Model:       modelID,
		Prompt:      prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stop:        p.Stop,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("llama server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var out strings.Builder
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if l := strings.TrimSpace(line); l != "" && strings.HasPrefix(strings.ToLower(l), "data:") {
			data := strings.TrimSpace(l[len("data:"):])
			if data == "[DONE]" {
				break
			}
			var chunk streamChunk
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
				c.log.Debug().Str("line", l).Msg("unknown stream line")
			} else if len(chunk.Choices) > 0 {
				out.WriteString(chunk.Choices[0].Text)
				out.WriteString(chunk.Choices[0].Delta.Content)
			} else {
				out.WriteString(chunk.Content)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				return out.String(), ctx.Err()
			}
			return out.String(), err
		}
	}
	return out.String(), nil
}
