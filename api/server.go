package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lconvert/config"
)

type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// Server serves batch status while the batch runs.
type Server struct {
	httpServer *http.Server
	log        Logger
	listener   net.Listener
}

func NewServer(cfg *config.Config, src StatusSource, log Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           newCORSHandler(SetupRouter(src, cfg)),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start binds the address and serves in the background. A bind failure is
// returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("status server: %w", err)
	}
	s.listener = ln
	s.log.Info("Status server listening on http://%s", ln.Addr())
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status server: %v", err)
		}
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
