// Package web exposes the chat and history services over HTTP using gin.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-labs/chatguard/internal/core/ports/driving"
	"github.com/custodia-labs/chatguard/internal/logger"
)

// shutdownTimeout bounds how long in-flight requests get after the context ends.
const shutdownTimeout = 10 * time.Second

// Ports holds the services the HTTP handlers call.
type Ports struct {
	Chat    driving.ChatService
	History driving.HistoryService
}

// Validate checks that all required ports are set.
func (p *Ports) Validate() error {
	var missing []string
	if p.Chat == nil {
		missing = append(missing, "Chat")
	}
	if p.History == nil {
		missing = append(missing, "History")
	}
	if len(missing) > 0 {
		return fmt.Errorf("web: missing required ports: %v", missing)
	}
	return nil
}

// Server is the chat HTTP server.
type Server struct {
	ports   Ports
	version string
	router  *gin.Engine
}

// NewServer creates the router. Every route is served at the root and
// again under /api.
func NewServer(ports Ports, version string) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, err
	}

	if !logger.IsVerbose() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(accessLog(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	s := &Server{
		ports:   ports,
		version: version,
		router:  router,
	}

	s.routes(router)
	s.routes(router.Group("/api"))

	return s, nil
}

func (s *Server) routes(r gin.IRoutes) {
	r.GET("/", s.handleRoot)
	r.POST("/chat", s.handleChat)
	r.POST("/chat/stream", s.handleChatStream)
	r.GET("/history/:user_id", s.handleHistory)
	r.DELETE("/history", s.handleDeleteHistory)
	r.GET("/sessions/:user_id", s.handleSessions)
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chat API listening on http://%s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// accessLog writes one structured line per request.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.L().Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client", c.ClientIP()),
		)
	}
}
