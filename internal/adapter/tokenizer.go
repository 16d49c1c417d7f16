package adapter

import (
	"path/filepath"

	"lorad/internal/common/fsutil"
)

// TokenizerFiles are the assets whose presence means the adapter ships its own tokenizer.
var TokenizerFiles = []string{"tokenizer.json", "tokenizer_config.json", "tokenizer.model"}

// TokenizerSource tells the loader where tokenizer assets come from.
type TokenizerSource struct {
	// UseAdapterDir is false when the base model's tokenizer should be used.
	UseAdapterDir bool     `json:"use_adapter_dir"`
	Dir           string   `json:"dir,omitempty"`
	Files         []string `json:"files,omitempty"`
}

// SelectTokenizerSource prefers the adapter directory when it carries any
// tokenizer asset and falls back to the base model otherwise.
func SelectTokenizerSource(loc Location) TokenizerSource {
	var present []string
	for _, name := range TokenizerFiles {
		if fsutil.IsFile(filepath.Join(loc.Dir, name)) {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		return TokenizerSource{}
	}
	return TokenizerSource{UseAdapterDir: true, Dir: loc.Dir, Files: present}
}
