package command

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server runs the slash-command handler until its context is cancelled.
type Server struct {
	httpServer *http.Server
	handler    *Handler
	logger     zerolog.Logger
}

// NewServer binds handler to listen.
func NewServer(listen string, handler *Handler, logger zerolog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		handler: handler,
		logger:  logger.With().Str("component", "command_server").Logger(),
	}
}

// Run serves until ctx is done, then drains in-flight reports.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.httpServer.Addr).Msg("command server started")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("command server shutdown failed")
	}
	s.handler.Wait()
	s.logger.Info().Msg("command server stopped")
	return nil
}
