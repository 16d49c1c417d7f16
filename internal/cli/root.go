// Package cli implements the lorad command line: serve, check and resolve.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"lorad/internal/config"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// rootOptions is shared state filled by persistent flags and PersistentPreRunE.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg config.Config
	log zerolog.Logger
	out io.Writer
	err io.Writer
}

// buildRootCmdWith constructs the command tree. Running the root command
// without a subcommand serves.
func buildRootCmdWith(o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "lorad",
		Short:         "Serve a Llama 3 base model with a LoRA adapter over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(o.out)
	root.SetErr(o.err)

	// Persistent flags override config file and environment
	root.PersistentFlags().StringVar(&o.configPath, "config", "", "Config file (.yaml|.yml|.json|.toml)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults LOG_LEVEL or warn)")
	root.PersistentFlags().StringVar(&o.logFormat, "log-format", "", "Log format: console|json (defaults LOG_FORMAT or console)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve(o.configPath)
		if err != nil {
			return err
		}
		if o.logLevel != "" {
			cfg.LogLevel = o.logLevel
		}
		if o.logFormat != "" {
			cfg.LogFormat = o.logFormat
		}
		log, err := newLogger(cfg.LogLevel, cfg.LogFormat, o.err)
		if err != nil {
			return err
		}
		o.cfg = cfg
		o.log = log
		return nil
	}

	serve := newServeCmd(o)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	root.AddCommand(serve, newCheckCmd(o), newResolveCmd(o))
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// MainWithArgs is a testable variant of Main that accepts args and output
// streams explicitly. It returns the process exit code.
func MainWithArgs(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o := &rootOptions{out: stdout, err: stderr}
	root := buildRootCmdWith(o)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				fmt.Fprintln(stderr, ee.err.Error())
			}
			return ee.code
		}
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	return 0
}

// Main runs lorad with os.Args and returns an exit code for cmd/lorad.
// SIGINT and SIGTERM cancel the command context.
func Main() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return MainWithArgs(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
