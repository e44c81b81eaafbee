package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

const shutdownTimeout = 30 * time.Second

type HttpServer struct {
	server   *http.Server
	listener net.Listener
	logger   hclog.Logger
}

// NewHttpServer binds addr right away so a taken port is reported before the
// round starts.
func NewHttpServer(logger hclog.Logger, addr string, router http.Handler) (*HttpServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not bind operator API on %s: %w", addr, err)
	}

	return &HttpServer{
		server: &http.Server{
			Handler:           router,
			ErrorLog:          logger.StandardLogger(&hclog.StandardLoggerOptions{}),
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		logger:   logger,
	}, nil
}

func (s *HttpServer) Addr() string {
	return s.listener.Addr().String()
}

// Serve handles requests until ctx is done, then shuts down gracefully,
// waiting at most 30 seconds for in-flight requests.
func (s *HttpServer) Serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info(fmt.Sprintf("Starting operator API on: %s", s.Addr()))
		serveErr <- s.server.Serve(s.listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("Operator API stopped")
	return nil
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives (true) or ctx is done
// (false).
func WaitForSignal(ctx context.Context, logger hclog.Logger) bool {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)
	defer signal.Stop(c)

	select {
	case sig := <-c:
		logger.Info(fmt.Sprintf("Got signal: %s", sig))
		return true
	case <-ctx.Done():
		return false
	}
}
