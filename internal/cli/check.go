package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"lorad/internal/readiness"
)

func newCheckCmd(o *rootOptions) *cobra.Command {
	var host, runtime bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Print GPU readiness checks as JSON (exit 2 when not all ok)",
		Example: "  lorad check\n" +
			"  lorad check --runtime",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host && runtime {
				return errors.New("--host and --runtime are mutually exclusive")
			}
			c := newChecker(o.cfg, o.log)
			var r readiness.Report
			switch {
			case host:
				r = c.SummarizeHost(cmd.Context())
			case runtime:
				r = c.SummarizeRuntime(cmd.Context())
			default:
				r = c.Summarize(cmd.Context(), isolated(o.cfg))
			}
			if err := writeJSON(cmd.OutOrStdout(), r); err != nil {
				return err
			}
			if !r.AllOK {
				fmt.Fprintln(cmd.ErrOrStderr(), "environment NOT ready: fix the failing checks and run `lorad check` again")
				return &exitError{code: 2}
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "environment ready: `lorad serve` can start")
			return nil
		},
	}
	cmd.Flags().BoolVar(&host, "host", false, "Run the host variant (driver, CUDA, quantization)")
	cmd.Flags().BoolVar(&runtime, "runtime", false, "Run the container variant (CUDA, quantization)")
	return cmd
}
