package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gartstein/mca-insights/internal/registry/auth"
	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server serves the reporting API over HTTP.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	endpoint   string
}

// NewServer builds the router, applies CORS, and wires the routes. The
// pipeline trigger is the only mutating route and sits behind the JWT
// middleware.
func NewServer(port int, h *Handler, jwtSecret string, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(logger), gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/health", h.health)
		api.GET("/search_company", h.searchCompany)
		api.GET("/company/:cin", h.getCompany)
		api.GET("/companies", h.listCompanies)
		api.GET("/dashboard/stats", h.dashboardStats)
		api.GET("/changes/analysis", h.changesAnalysis)
		api.POST("/chat", h.chatQuery)
		api.POST("/pipeline/run", auth.Middleware(jwtSecret), h.runPipeline)
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	endpoint := fmt.Sprintf(":%d", port)
	return &Server{
		httpServer: &http.Server{
			Addr:         endpoint,
			Handler:      corsHandler.Handler(router),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger:   logger,
		endpoint: endpoint,
	}
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("endpoint", s.endpoint))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP serve error: %w", err)
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown error", zap.Error(err))
	}
}

// requestLogger logs one line per request with latency and status.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
