package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"lorad/internal/httpapi"
	"lorad/internal/readiness"
	"lorad/internal/tracing"
)

// Version is stamped at build time with -ldflags "-X lorad/internal/cli.Version=...".
var Version = "dev"

func newServeCmd(o *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				o.cfg.Addr = addr
			}
			ln, err := net.Listen("tcp", o.cfg.Addr)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), o, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8000 (defaults ADDR or :8000)")
	return cmd
}

// serve runs startup checks, loads the model and serves on ln until ctx is
// canceled. A model that fails to load leaves the API up in the unavailable
// state so /health and /status stay reachable.
func serve(ctx context.Context, o *rootOptions, ln net.Listener) error {
	cfg, log := o.cfg, o.log
	iso := isolated(cfg)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Headers:     cfg.OTLPHeaders,
		ServiceName: cfg.ServiceName,
		Version:     Version,
		Logger:      log,
	})
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	checker := newChecker(cfg, log)
	log.Warn().Bool("isolated", iso).Msg("STARTUP: checking CUDA/NVIDIA environment")
	checker.LogReport(checker.Summarize(ctx, iso))

	loader, err := newLoader(cfg, log)
	if err != nil {
		_ = ln.Close()
		return err
	}
	svc := newService(cfg, loader, iso, log)
	_ = svc.Start(ctx)
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("close model")
		}
	}()

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetGenerateTimeoutSeconds(int64(cfg.RequestTimeoutSeconds))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)
	httpapi.SetBaseContext(ctx)
	health := func(rctx context.Context) readiness.Report { return checker.Summarize(rctx, iso) }
	srv := &http.Server{
		Handler:           httpapi.NewMux(svc, health),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Warn().Str("addr", ln.Addr().String()).Str("state", string(svc.State())).Msg("lorad listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSeconds)*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown error")
			return err
		}
		return nil
	})
	return g.Wait()
}
