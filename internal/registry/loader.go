// Package registry finds base-model GGUF files on disk for backends that load
// weights locally.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"lorad/internal/common/fsutil"
)

// Model is a GGUF file found in a models directory.
type Model struct {
	// ID is the file name including extension.
	ID    string `json:"id"`
	Path  string `json:"path"`
	Quant string `json:"quant,omitempty"`
}

// ErrModelNotFound is returned when no GGUF file matches a base model identifier.
var ErrModelNotFound = errors.New("base model not found")

var quantRe = regexp.MustCompile(`(?i)(?:^|[.\-_])((?:I?Q\d+_[A-Z0-9_]+)|(?:Q\d+_\d)|(?:Q\d+)|F16|F32|BF16)$`)

// LoadDir scans a directory for *.gguf files. Results are sorted by ID.
func LoadDir(dir string) ([]Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		models = append(models, Model{ID: name, Path: filepath.Join(abs, name), Quant: quantOf(name)})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// ResolvePath maps a base model identifier to a GGUF path. An identifier that
// names an existing file is used as is. Otherwise dir is scanned and the file
// whose name matches the identifier's last path segment wins; a directory with
// a single GGUF file resolves to it.
func ResolvePath(dir, id string) (string, error) {
	if p, err := fsutil.ExpandHome(id); err == nil && fsutil.IsFile(p) {
		return filepath.Abs(p)
	}
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("%w: %q is not a file and no models dir is configured", ErrModelNotFound, id)
	}
	models, err := LoadDir(dir)
	if err != nil {
		return "", err
	}
	want := normalize(id[strings.LastIndex(id, "/")+1:])
	for _, m := range models {
		if m.ID == id {
			return m.Path, nil
		}
	}
	for _, m := range models {
		stem := normalize(strings.TrimSuffix(m.ID, filepath.Ext(m.ID)))
		if want != "" && (strings.Contains(stem, want) || strings.Contains(want, stripQuant(stem))) {
			return m.Path, nil
		}
	}
	if len(models) == 1 {
		return models[0].Path, nil
	}
	return "", fmt.Errorf("%w: %q in %s (%d gguf files)", ErrModelNotFound, id, dir, len(models))
}

func quantOf(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if m := quantRe.FindStringSubmatch(stem); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripQuant(normStem string) string {
	for _, q := range []string{"q4km", "q4ks", "q5km", "q5ks", "q6k", "q80", "q40", "f16", "bf16", "f32"} {
		if strings.HasSuffix(normStem, q) {
			return strings.TrimSuffix(normStem, q)
		}
	}
	return normStem
}
