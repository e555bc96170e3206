// Package bridge exposes one management session over HTTP: JSON endpoints
// for the typed queries and a WebSocket stream of daemon events.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yllada/ovpn-mgmt/common"
	"github.com/yllada/ovpn-mgmt/journal"
	"github.com/yllada/ovpn-mgmt/models"
)

// Backend is the daemon view served by the bridge. *vpn.VPN satisfies it.
type Backend interface {
	GetState(ctx context.Context) (*models.State, error)
	GetStats(ctx context.Context) (*models.ServerStats, error)
	GetStatus(ctx context.Context) (*models.Status, error)
	Release(ctx context.Context) (string, error)
	Version(ctx context.Context) (string, error)
	KillClient(ctx context.Context, cid int) error
	Kill(ctx context.Context, target string) error
}

// EntrySource lists recorded client events. *journal.Journal satisfies it.
type EntrySource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Server is the HTTP/WebSocket bridge.
type Server struct {
	router   *gin.Engine
	backend  Backend
	journal  EntrySource
	hub      *hub
	upgrader websocket.Upgrader
	origins  []string
	timeout  time.Duration
	log      common.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithJournal serves /api/events from src.
func WithJournal(src EntrySource) Option {
	return func(s *Server) { s.journal = src }
}

// WithAllowedOrigins accepts WebSocket upgrades from these origins besides
// loopback ones.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, origins...) }
}

// NewServer builds the bridge around backend.
func NewServer(backend Backend, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		router:  r,
		backend: backend,
		hub:     newHub(),
		timeout: common.CommandTimeout,
		log:     common.Named("bridge"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.registerRoutes()
	return s
}

// Engine returns the gin engine.
func (s *Server) Engine() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/state", s.getState)
	api.GET("/stats", s.getStats)
	api.GET("/status", s.getStatus)
	api.GET("/version", s.getVersion)
	api.GET("/events", s.listEvents)
	api.POST("/clients/:cid/kill", s.killClient)
	api.POST("/kill", s.kill)

	s.router.GET("/ws/events", s.streamEvents)
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Bridge listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.closeAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// checkOrigin allows non-browser clients, loopback pages and configured
// origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	for _, allowed := range s.origins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	s.log.Warn("Rejected WebSocket origin %s", origin)
	return false
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.timeout)
}
