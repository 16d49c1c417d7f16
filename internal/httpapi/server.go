// Package httpapi exposes the generation service and readiness diagnostics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lorad/internal/readiness"
	"lorad/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Generate(ctx context.Context, req types.GenerateRequest) (string, error)
	Status() types.StatusResponse
	Ready() bool
}

// HealthFunc builds a fresh readiness report for GET /health.
type HealthFunc func(ctx context.Context) readiness.Report

// NewMux wires the API routes. health may be nil, in which case /health is
// not registered.
func NewMux(svc Service, health HealthFunc) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	// Compression for JSON endpoints
	r.Use(middleware.Compress(5))
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{http.MethodGet, http.MethodPost, http.MethodOptions}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "Authorization", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}

	r.Post("/generate", generateHandler(svc))
	if health != nil {
		r.Get("/health", healthHandler(health))
	}
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// generateHandler godoc
//
//	@Summary		Generate a reply
//	@Description	Frames the prompt with the system prompt, runs the base model with the LoRA adapter and returns the cleaned assistant text.
//	@Tags			generation
//	@Accept			json
//	@Produce		json
//	@Param			request	body		types.GenerateRequest	true	"Generation request"
//	@Success		200		{object}	types.GenerateResponse
//	@Failure		400		{object}	types.ErrorResponse
//	@Failure		415		{object}	types.ErrorResponse
//	@Failure		500		{object}	types.ErrorResponse
//	@Failure		503		{object}	types.ErrorResponse
//	@Router			/generate [post]
func generateHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			IncrementRejected("content_type")
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		// Limit body size (configurable, default 1MiB)
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		var req types.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			// Oversized bodies also land here; 400 avoids leaking the limit.
			IncrementRejected("body")
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			IncrementRejected("validation")
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}

		start := time.Now()
		lvl := requestLogLevel(r)
		if lvl >= LevelInfo {
			logEvent(r, "generate start").Int("prompt_chars", len(req.Prompt)).Msg("")
		}
		// Join server base context with request context so shutdown cancels work too.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if generateTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(ctx, time.Duration(generateTimeout)*time.Second)
			defer tcancel()
		}

		text, err := svc.Generate(ctx, req)
		if err != nil {
			// If the client went away there is nobody to answer.
			if r.Context().Err() != nil {
				return
			}
			status := http.StatusInternalServerError
			var he HTTPError
			if errors.As(err, &he) {
				status = he.StatusCode()
			}
			if status == http.StatusServiceUnavailable {
				IncrementRejected("unavailable")
			} else if status == http.StatusBadRequest {
				IncrementRejected("validation")
			}
			writeJSONError(w, status, err.Error())
			if lvl >= LevelError {
				logEvent(r, "generate end").Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("")
			}
			return
		}
		writeJSON(w, http.StatusOK, types.GenerateResponse{Result: text})
		if lvl >= LevelInfo {
			logEvent(r, "generate end").Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("")
		}
		if lvl >= LevelDebug {
			logEvent(r, "generate result").Str("result", text).Msg("")
		}
	}
}

// healthHandler godoc
//
//	@Summary		Environment readiness
//	@Description	Runs GPU driver, CUDA runtime and quantization checks. Inside a container the driver check is skipped. Always 200; see all_ok.
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	map[string]interface{}
//	@Router			/health [get]
func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, health(r.Context()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}
