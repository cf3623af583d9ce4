// Package server exposes the gate over HTTP: the interstitial page, the
// per-visitor detector asset, and the verification API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/enjoyfamily583-dotcom/newredirect/internal/classify"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/config"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/detector"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/pow"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/verdict"
)

// Deps carries the gate components the HTTP layer drives. All fields are
// required.
type Deps struct {
	Classifier *classify.Classifier
	Engine     *verdict.Engine
	Scripts    *detector.Provider
	Pow        *pow.Service
}

// Server owns the router and the http.Server lifecycle.
type Server struct {
	cfg        config.ServerConfig
	classifier *classify.Classifier
	engine     *verdict.Engine
	scripts    *detector.Provider
	pow        *pow.Service
	log        *zap.Logger
	httpSrv    *http.Server
}

// New wires a Server from its components. The zap logger may be nil.
func New(cfg config.ServerConfig, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		classifier: deps.Classifier,
		engine:     deps.Engine,
		scripts:    deps.Scripts,
		pow:        deps.Pow,
		log:        log.Named("server"),
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if s.cfg.Throttle.Enabled {
		limiter := rate.NewLimiter(rate.Limit(s.cfg.Throttle.RPS), s.cfg.Throttle.Burst)
		r.Use(throttleMiddleware(limiter))
	}

	r.Get("/", s.handleGate)
	r.Get("/assets/{asset}", s.handleAsset)
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/verify-human", s.handleVerifyHuman)
		r.Post("/challenge", s.handleChallenge)
		r.Post("/verify-pow", s.handleVerifyPow)
	})
	return r
}

// Start serves until ctx is cancelled, then drains connections within the
// configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Gate server listening", zap.String("addr", s.cfg.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving http: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("Shutting down gate server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("ip", clientIP(r)),
		)
	})
}

func throttleMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr. RealIP middleware has already
// folded X-Forwarded-For and X-Real-IP into RemoteAddr by the time handlers
// run, so a bare address without a port is also accepted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
