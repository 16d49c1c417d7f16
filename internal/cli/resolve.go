package cli

import (
	"github.com/spf13/cobra"

	"lorad/internal/adapter"
)

// resolveOutput is printed by `lorad resolve`.
type resolveOutput struct {
	Isolated  bool                    `json:"isolated"`
	Adapter   adapter.Location        `json:"adapter"`
	Params    adapter.Params          `json:"params"`
	Tokenizer adapter.TokenizerSource `json:"tokenizer"`
}

func newResolveCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Locate the LoRA adapter and tokenizer the server would load",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			iso := isolated(o.cfg)
			loc, err := adapter.Resolve(o.cfg.AdapterDir, iso)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			params, err := adapter.ReadParams(loc)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			return writeJSON(cmd.OutOrStdout(), resolveOutput{
				Isolated:  iso,
				Adapter:   loc,
				Params:    params,
				Tokenizer: adapter.SelectTokenizerSource(loc),
			})
		},
	}
}
