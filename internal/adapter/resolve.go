// Package adapter locates a LoRA adapter directory on disk and decides where
// tokenizer assets are loaded from.
package adapter

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"lorad/internal/common/fsutil"
)

// ConfigFileName is the file that marks a directory as a PEFT adapter.
const ConfigFileName = "adapter_config.json"

// Defaults used when no adapter root is configured.
const (
	DefaultProjectRoot    = "/app"
	DefaultIsolatedRoot   = "/app/adapters"
	DefaultLocalRoot      = "adapters"
	DefaultMaxSearchDepth = 3
)

// Location is a directory known to contain ConfigFileName.
type Location struct {
	Dir        string `json:"dir"`
	ConfigPath string `json:"config_path"`
}

// NotFoundError is returned when no adapter config exists under the searched root.
type NotFoundError struct {
	Root  string
	Depth int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in %s or up to %d levels below it; check that the adapter volume is mounted and ADAPTER_DIR points at it", ConfigFileName, e.Root, e.Depth)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Resolver holds the path conventions used by Resolve.
type Resolver struct {
	// ProjectRoot anchors relative roots inside an isolated runtime.
	ProjectRoot    string
	IsolatedRoot   string
	LocalRoot      string
	MaxSearchDepth int
}

// DefaultResolver matches the container layout the service ships with.
var DefaultResolver = Resolver{
	ProjectRoot:    DefaultProjectRoot,
	IsolatedRoot:   DefaultIsolatedRoot,
	LocalRoot:      DefaultLocalRoot,
	MaxSearchDepth: DefaultMaxSearchDepth,
}

// Resolve locates the adapter directory using DefaultResolver.
func Resolve(root string, isolated bool) (Location, error) {
	return DefaultResolver.Resolve(root, isolated)
}

// Resolve returns the directory holding ConfigFileName. The configured root is
// checked first; otherwise the tree below it is searched up to MaxSearchDepth
// directory levels and the first match in lexical walk order wins.
func (r Resolver) Resolve(root string, isolated bool) (Location, error) {
	base, err := r.normalize(root, isolated)
	if err != nil {
		return Location{}, err
	}
	direct := filepath.Join(base, ConfigFileName)
	if fsutil.IsFile(direct) {
		return Location{Dir: base, ConfigPath: direct}, nil
	}
	depth := r.MaxSearchDepth
	if depth <= 0 {
		depth = DefaultMaxSearchDepth
	}
	if !fsutil.IsDir(base) {
		return Location{}, &NotFoundError{Root: base, Depth: depth}
	}
	if found := search(base, depth); found != "" {
		return Location{Dir: filepath.Dir(found), ConfigPath: found}, nil
	}
	return Location{}, &NotFoundError{Root: base, Depth: depth}
}

func (r Resolver) normalize(root string, isolated bool) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		if isolated {
			root = r.IsolatedRoot
		} else {
			root = r.LocalRoot
		}
	}
	root, err := fsutil.ExpandHome(root)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(root) {
		return filepath.Clean(root), nil
	}
	if isolated && r.ProjectRoot != "" {
		return filepath.Join(r.ProjectRoot, root), nil
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("abs path: %w", err)
	}
	return abs, nil
}

// search walks base and returns the first ConfigFileName whose directory is at
// most maxDepth levels below base. Unreadable subtrees are skipped.
func search(base string, maxDepth int) string {
	var found string
	_ = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == base {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(base, path)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if rel != "." && levels(rel) > maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		if d.Name() != ConfigFileName {
			return nil
		}
		if !d.Type().IsRegular() {
			if fi, statErr := os.Stat(path); statErr != nil || fi.IsDir() {
				return nil
			}
		}
		found = path
		return fs.SkipAll
	})
	return found
}

func levels(rel string) int {
	return len(strings.Split(filepath.ToSlash(rel), "/"))
}
