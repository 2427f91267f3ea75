package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// portRetryAttempts is how many successive ports are tried when the
// preferred one is taken.
const portRetryAttempts = 10

// Server accepts client connections and hands each one to the Handler in
// its own goroutine.
type Server struct {
	handler *Handler

	// PortOverride takes precedence over the configured port when non-zero.
	PortOverride int

	mu       sync.Mutex
	listener net.Listener
	port     int
}

// NewServer creates a server over handler.
func NewServer(handler *Handler) *Server {
	return &Server{handler: handler}
}

// Port returns the port the server is bound to, valid after Start has
// bound the listener.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Start binds the listener and serves until ctx is cancelled.
//
// The listen port comes from, in order: PortOverride, the transformer's
// port, the default. When the port is taken, the next nine ports are tried
// before giving up. A config that fails to load at startup degrades to the
// default configuration; request-time loads still surface errors to
// clients.
func (s *Server) Start(ctx context.Context) error {
	logger := s.handler.Logger

	basePort := s.PortOverride
	if basePort == 0 {
		cfg, err := s.handler.Cache.Load(s.handler.Paths)
		if err != nil {
			logger.Error("config load failed at startup, using defaults",
				"error", err,
			)
			basePort = defaultStartupPort()
		} else {
			basePort = cfg.Port
		}
	}

	listener, port, err := bindWithRetry(basePort)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.port = port
	s.mu.Unlock()

	logger.Info("API router listening", "addr", fmt.Sprintf("http://0.0.0.0:%d", port))

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("server stopped")
				return nil
			}
			logger.Error("accept failed", "error", err)
			continue
		}
		go s.handler.HandleConnection(conn)
	}
}

// bindWithRetry binds the first free port in [basePort, basePort+9].
func bindWithRetry(basePort int) (net.Listener, int, error) {
	for offset := 0; offset < portRetryAttempts; offset++ {
		port := basePort + offset
		listener, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
		if err == nil {
			return listener, port, nil
		}
		slog.Warn("port unavailable, trying next", "port", port, "error", err)
	}
	return nil, 0, fmt.Errorf("cannot bind any port in %d..%d", basePort, basePort+portRetryAttempts-1)
}

func defaultStartupPort() int {
	return 8000
}
