package statusapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const shutdownTimeout = 5 * time.Second

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) func(s *Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "statusapi"))
	}
}

// Server runs the status API over HTTP until its context is cancelled.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a server for the handler on addr.
func NewServer(addr string, handler *Handler, options ...func(s *Server)) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // nil logger

	s := Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      handler.Router(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("status API listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.logger.Info("status API stopped")
	return <-errCh
}
