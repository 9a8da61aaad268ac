package server

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/fmueller/voxhub/internal/workspace"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// session assigns a session id cookie on first visit. The first request of a
// session seen by this process triggers the stale workspace sweep and
// creates the session's workspace.
func (s *Server) session() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(SessionCookie)
		if err != nil || workspace.ValidateSessionID(id) != nil {
			id = workspace.NewSessionID()
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(SessionCookie, id, 0, "/", "", s.opts.SecureCookie, true)
		}

		if _, err := s.sessions.GetOrCompute(id, func() (workspace.Workspace, error) {
			s.gate.Trigger()
			return s.svc.EnsureWorkspace(id)
		}); err != nil {
			respondError(c, err)
			c.Abort()
			return
		}

		c.Set(sessionKey, id)
		c.Next()
	}
}

func sessionID(c *gin.Context) string {
	return c.GetString(sessionKey)
}

func (s *Server) bodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
		c.Next()
	}
}

func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || s.limiter.Allow() {
			c.Next()
			return
		}
		retry := math.Ceil(1 / float64(s.limiter.Limit()))
		c.Header("Retry-After", fmt.Sprintf("%.0f", retry))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many transcription requests, try again shortly"})
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("session", sessionID(c)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= 500:
			s.log.Error("request completed", fields...)
		case status >= 400:
			s.log.Warn("request completed", fields...)
		default:
			s.log.Debug("request completed", fields...)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.log.Error("panic recovered",
			zap.Any("panic", recovered),
			zap.String("path", c.Request.URL.Path),
			zap.Stack("stack"),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	})
}
