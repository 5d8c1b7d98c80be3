package adminapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/hydraflow/internal/config"
)

// Server is the administrative HTTP server: a small gin-gonic surface
// exposing /api/v1/health, /api/v1/stats, and /api/v1/commands (the
// HTTP form of the line-oriented command channel), plus a Swagger UI,
// grounded in the teacher's internal/api.Server.
//
// Security note: do not expose this to untrusted networks without an
// API key configured.
type Server struct {
	cfg        config.APIConfig
	logger     *slog.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New constructs a Server wired to dispatch commands via deps.
func New(cfg config.APIConfig, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(slogRequestLogger(deps.logger()))

	h := &httpHandler{dispatcher: NewDispatcher(deps)}
	registerRoutes(engine, h, cfg)

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{cfg: cfg, logger: deps.logger(), engine: engine, httpServer: httpServer}
}

func (s *Server) Addr() string {
	if s.httpServer == nil {
		return ""
	}
	return s.httpServer.Addr
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
