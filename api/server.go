// Package api exposes the gateway engine over a small REST surface: network
// information, node listings with link metrics, operator actions (kick,
// restart) and downstream message injection.
//
// The server never touches session state directly; everything goes through
// the engine's public methods, so handlers are safe to run while the
// processing loop is active.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshgate"
)

// Server is the HTTP front of a running gateway.
type Server struct {
	gateway    *meshgate.Gateway
	router     *gin.Engine
	config     *Config
	log        *logrus.Logger
	httpServer *http.Server
}

// Config holds server configuration.
type Config struct {
	// Port is the TCP port the server listens on.
	Port int

	// EnableCORS allows browser dashboards on other origins to call the
	// API.
	EnableCORS bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger receives request logs. Defaults to the standard logger.
	Logger *logrus.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
}

// NewServer creates an API server for a gateway. The server does not listen
// until Start is called.
func NewServer(gateway *meshgate.Gateway, config *Config) (*Server, error) {
	if gateway == nil {
		return nil, errors.New("gateway cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	server := &Server{
		gateway: gateway,
		router:  router,
		config:  config,
		log:     config.Logger,
	}

	server.setupMiddleware()
	server.setupRoutes()
	return server, nil
}

// setupMiddleware configures the middleware chain.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware(s.log))
	if s.config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		gw := api.Group("/gw")
		{
			gw.GET("/info", s.handleInfo)
			gw.GET("/nodes", s.handleNodes)
			gw.POST("/restart", s.handleRestart)
		}

		// Node routes accept a physical address or a bound node name.
		node := api.Group("/node")
		{
			node.GET("/:address", s.handleNodeDetail)
			node.DELETE("/:address", s.handleKick)
			node.POST("/:address/message", s.handleMessage)
		}
	}
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithFields(logrus.Fields{
			"function": "Start",
			"port":     s.config.Port,
		}).Info("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop shuts the server down without waiting for the Start context.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
