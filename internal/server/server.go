// Package server is the browser-facing HTTP layer: it tracks sessions with a
// cookie and exposes upload, record, transcribe and download endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fmueller/voxhub/internal/memo"
	"github.com/fmueller/voxhub/internal/transcribe"
	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	SessionCookie = "voxhub_session"
	sessionKey    = "session"

	// bounds the set of sessions already seen by this process
	maxTrackedSessions = 10_000
)

type Options struct {
	Addr           string
	MaxUploadBytes int64
	// RateLimit is transcriptions per second across all sessions; 0 disables.
	RateLimit float64
	// SecureCookie marks the session cookie Secure, for TLS deployments.
	SecureCookie bool
	// Models are the model names a client may request besides the
	// service's default model. Anything else is rejected.
	Models []string
	Logger *zap.Logger
}

type Server struct {
	svc  *transcribe.Service
	gate *workspace.SweepGate
	opts Options
	log  *zap.Logger

	engine   *gin.Engine
	sessions *memo.Cache[string, workspace.Workspace]
	limiter  *rate.Limiter
	models   map[string]bool
}

func New(svc *transcribe.Service, gate *workspace.SweepGate, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}

	s := &Server{
		svc:      svc,
		gate:     gate,
		opts:     opts,
		log:      opts.Logger.Named("http"),
		sessions: memo.New[string, workspace.Workspace](memo.WithCapacity[string](maxTrackedSessions)),
		models:   map[string]bool{svc.DefaultModel(): true},
	}
	for _, name := range opts.Models {
		s.models[name] = true
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	s.engine = gin.New()
	s.engine.Use(s.recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.engine.Group("/api", s.bodyLimit(), s.session())
	api.GET("/session", s.handleSession)
	api.POST("/upload", s.handleUpload)
	api.POST("/record", s.handleRecord)
	api.POST("/transcribe", s.throttle(), s.handleTranscribe)
	api.GET("/download", s.handleDownload)
	api.GET("/audio", s.handleAudio)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("server failed to bind %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.Serve(listener)
	}()
	s.log.Info("HTTP server started", zap.String("addr", listener.Addr().String()))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
