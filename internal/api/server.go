package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dray-io/bulkgc/internal/logging"
)

// Server serves the API router.
type Server struct {
	mu        sync.RWMutex
	addr      string
	boundAddr string
	handler   http.Handler
	server    *http.Server
	log       *logging.Logger
}

// NewServer creates a stopped server for handler.
func NewServer(addr string, handler http.Handler, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Global()
	}
	return &Server{addr: addr, handler: handler, log: log.Named("api")}
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.boundAddr = ln.Addr().String()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.log.Infof("api listening", map[string]any{"addr": ln.Addr().String()})
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("api server stopped", map[string]any{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.addr
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.server
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
