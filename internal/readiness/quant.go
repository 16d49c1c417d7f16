package readiness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultLibraryPatterns match the ggml CUDA backend that carries the
// quantized (Q4) kernels used for 4-bit inference.
var DefaultLibraryPatterns = []string{"libggml-cuda*.so*", "ggml-cuda*.dll"}

// DefaultLibraryDirs are searched after configured dirs and LD_LIBRARY_PATH.
var DefaultLibraryDirs = []string{
	"/usr/local/lib",
	"/usr/local/lib/ollama",
	"/usr/lib",
	"/usr/lib/x86_64-linux-gnu",
	"/usr/lib/aarch64-linux-gnu",
	"/app/lib",
}

// LibraryFinder returns the path of the quantized-kernel library.
type LibraryFinder interface {
	Find(ctx context.Context) (string, error)
}

type globFinder struct {
	dirs     []string
	patterns []string
}

// NewLibraryFinder searches dirs, then LD_LIBRARY_PATH, then DefaultLibraryDirs.
// Nil patterns select DefaultLibraryPatterns.
func NewLibraryFinder(dirs, patterns []string) LibraryFinder {
	if len(patterns) == 0 {
		patterns = DefaultLibraryPatterns
	}
	all := append([]string(nil), dirs...)
	all = append(all, filepath.SplitList(os.Getenv("LD_LIBRARY_PATH"))...)
	all = append(all, DefaultLibraryDirs...)
	return &globFinder{dirs: dedupe(all), patterns: patterns}
}

func (g *globFinder) Find(ctx context.Context) (string, error) {
	for _, dir := range g.dirs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		for _, pat := range g.patterns {
			matches, err := filepath.Glob(filepath.Join(dir, pat))
			if err != nil {
				return "", fmt.Errorf("bad library pattern %q: %w", pat, err)
			}
			if len(matches) > 0 {
				return matches[0], nil
			}
		}
	}
	return "", fmt.Errorf("%w: no file matching %s in %s", errLibraryNotFound, strings.Join(g.patterns, ", "), strings.Join(g.dirs, string(os.PathListSeparator)))
}

var errLibraryNotFound = errors.New("quantized kernel library not found")

// CheckQuantization locates the quantized-kernel library and loads it with
// RTLD_NOW, so a truncated file, a foreign architecture or a missing
// libcudart fails here rather than at model load.
func (c *Checker) CheckQuantization(ctx context.Context) (res CheckResult) {
	defer guard("quantization", &res)

	if kernelsLinked {
		return CheckResult{OK: true, Message: "quantized kernels are linked into this binary (4-bit loading available)."}
	}
	path, err := c.libs.Find(ctx)
	if err != nil {
		return CheckResult{OK: false, Message: "quantized kernel library not found; 4-bit loading may not work.", Details: err.Error()}
	}
	if err := c.loadLib(path); err != nil {
		return CheckResult{OK: false, Message: "quantized kernel library could not be loaded; 4-bit loading may not work.", Details: path + ": " + err.Error()}
	}
	return CheckResult{OK: true, Message: "quantized kernel library loads (4-bit loading available).", Details: path}
}
