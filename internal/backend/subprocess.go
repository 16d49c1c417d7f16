package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"lorad/internal/registry"
)

// SubprocessConfig controls how llama-server is spawned.
type SubprocessConfig struct {
	Bin            string
	Host           string
	ModelsDir      string
	CtxSize        int
	GPULayers      int
	Threads        int
	ExtraArgs      []string
	ReadyTimeout   time.Duration
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// subprocessLoader spawns one llama-server with the base model and adapter.
type subprocessLoader struct {
	cfg SubprocessConfig
}

// NewSubprocessLoader constructs a loader that owns a llama-server process.
func NewSubprocessLoader(cfg SubprocessConfig) Loader {
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Bin == "" {
		cfg.Bin = "llama-server"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 30 * time.Second
	}
	return &subprocessLoader{cfg: cfg}
}

func (l *subprocessLoader) Kind() Kind { return KindSubprocess }

func (l *subprocessLoader) Load(ctx context.Context, spec LoadSpec) (Model, error) {
	bin, err := exec.LookPath(l.cfg.Bin)
	if err != nil {
		return nil, ErrDependencyUnavailable("llama-server binary not found: " + l.cfg.Bin)
	}
	basePath := spec.BaseModelPath
	if basePath == "" {
		if basePath, err = registry.ResolvePath(l.cfg.ModelsDir, spec.BaseModel); err != nil {
			return nil, wrapLoad(KindSubprocess, err)
		}
	}
	loraPath, err := FindAdapterGGUF(spec.Adapter.Dir)
	if err != nil {
		return nil, wrapLoad(KindSubprocess, err)
	}
	port, err := pickFreePort(l.cfg.Host)
	if err != nil {
		return nil, wrapLoad(KindSubprocess, err)
	}
	baseURL := fmt.Sprintf("http://%s", net.JoinHostPort(l.cfg.Host, strconv.Itoa(port)))
	args := []string{
		"-m", basePath,
		"--lora", loraPath,
		"--host", l.cfg.Host,
		"--port", strconv.Itoa(port),
	}
	if l.cfg.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(l.cfg.CtxSize))
	}
	if l.cfg.GPULayers > 0 {
		args = append(args, "-ngl", strconv.Itoa(l.cfg.GPULayers))
	}
	if l.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(l.cfg.Threads))
	}
	args = append(args, l.cfg.ExtraArgs...)

	p, err := startProcess(ctx, bin, args, baseURL, l.cfg.ReadyTimeout, l.cfg.Logger)
	if err != nil {
		return nil, wrapLoad(KindSubprocess, err)
	}
	client := newCompletionClient(baseURL, "", l.cfg.RequestTimeout, 5*time.Second, l.cfg.Logger)
	return &serverModel{client: client, modelID: spec.BaseModel, onClose: p.stop}, nil
}

// FindAdapterGGUF returns the first *.gguf file in dir. llama.cpp only loads
// adapters converted to GGUF (convert_lora_to_gguf.py).
func FindAdapterGGUF(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.gguf"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no GGUF adapter in %s; convert the PEFT adapter with convert_lora_to_gguf.py", dir)
	}
	sort.Strings(matches)
	return matches[0], nil
}

type process struct {
	cmd     *exec.Cmd
	baseURL string
	done    chan struct{}
	log     zerolog.Logger
	once    sync.Once
}

// startProcess launches llama-server and waits until /v1/models answers,
// the process exits, or the deadline passes.
func startProcess(ctx context.Context, bin string, args []string, baseURL string, readyTimeout time.Duration, log zerolog.Logger) (*process, error) {
	cmd := exec.Command(bin, args...)
	var stderr lockedBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start llama-server: %w", err)
	}
	p := &process{cmd: cmd, baseURL: baseURL, done: make(chan struct{}), log: log}
	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- cmd.Wait()
		close(p.done)
	}()
	log.Info().Int("pid", cmd.Process.Pid).Str("url", baseURL).Strs("args", args).Msg("llama-server start")

	client := &http.Client{Timeout: 0}
	deadline := time.Now().Add(readyTimeout)
	for {
		if time.Now().After(deadline) {
			_ = p.stop()
			return nil, fmt.Errorf("llama-server not ready in time: %s", baseURL)
		}
		select {
		case werr := <-waitErrCh:
			tail := stderr.Tail(4096)
			if werr != nil {
				return nil, fmt.Errorf("llama-server exited early: %v; stderr tail: %s", werr, tail)
			}
			return nil, fmt.Errorf("llama-server exited before ready: %s; stderr tail: %s", baseURL, tail)
		case <-ctx.Done():
			_ = p.stop()
			return nil, ctx.Err()
		default:
		}

		hctx, cancel := context.WithTimeout(ctx, time.Second)
		req, _ := http.NewRequestWithContext(hctx, http.MethodGet, baseURL+"/v1/models", nil)
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				cancel()
				log.Info().Int("pid", cmd.Process.Pid).Str("url", baseURL).Msg("llama-server ready")
				return p, nil
			}
		}
		cancel()
		time.Sleep(100 * time.Millisecond)
	}
}

// stop sends SIGTERM and kills the process if it has not exited after 2s.
func (p *process) stop() error {
	p.once.Do(func() {
		if p.cmd.Process == nil {
			return
		}
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(2 * time.Second):
			_ = p.cmd.Process.Kill()
			<-p.done
		}
		p.log.Info().Int("pid", p.cmd.Process.Pid).Msg("llama-server stopped")
	})
	return nil
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, errors.New("unexpected listener address: " + l.Addr().String())
	}
	return addr.Port, nil
}

// lockedBuffer collects stderr while the process writes to it concurrently.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Tail returns at most n trailing bytes.
func (b *lockedBuffer) Tail(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.buf.String()
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
