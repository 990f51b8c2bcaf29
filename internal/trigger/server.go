package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// Default on-demand rate limit: one pass per ten seconds, bursts of two.
const (
	DefaultRateEvery = 10 * time.Second
	DefaultRateBurst = 2
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr      string
	Secret    []byte     // HS256 key for /reconcile; empty rejects every call
	RateLimit rate.Limit // on-demand passes per second
	RateBurst int
}

// NewRouter builds the HTTP handler for s.
//
//	GET  /healthz    liveness
//	GET  /status     custody status
//	POST /reconcile  one on-demand pass (bearer JWT, rate limited)
func NewRouter(s *Service, cfg ServerConfig) http.Handler {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(DefaultRateEvery)
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	limiter := rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Response{Status: "ok", Data: map[string]string{"service": "vaultsync"}})
	})

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := s.GetStatus(req.Context())
		code := http.StatusOK
		if !resp.OK() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})

	r.With(RequireBearer(cfg.Secret), RateLimit(limiter)).Post("/reconcile", func(w http.ResponseWriter, req *http.Request) {
		s.logger.InfoContext(req.Context(), "on-demand reconcile requested", "subject", SubjectFrom(req.Context()))
		resp := s.RunOnDemand(req.Context())
		code := http.StatusOK
		if !resp.OK() {
			code = http.StatusInternalServerError
		}
		writeJSON(w, code, resp)
	})

	return r
}

// RateLimit rejects requests with 429 once limiter is exhausted.
func RateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "10")
				writeJSON(w, http.StatusTooManyRequests, Response{
					Status: "error",
					Error:  &ErrorBody{Code: "RateLimited", Message: "too many reconcile requests"},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Serve runs an HTTP server for handler on addr until ctx is canceled, then
// shuts it down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, handler, logger)
}

// ServeListener is Serve on an existing listener.
func ServeListener(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", ln.Addr().String())
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("http stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
