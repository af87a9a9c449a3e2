package supervisor

import (
	"context"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
)

// HTTPServer is the part of *http.Server the service needs.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService runs an HTTP server until its context ends, then shuts it
// down gracefully.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "http server shutdown failed")
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "http-server" }

// RouterService runs a watermill router built fresh on every start, since a
// closed router cannot be run again.
type RouterService struct {
	build func() (*message.Router, error)
}

func NewRouterService(build func() (*message.Router, error)) *RouterService {
	return &RouterService{build: build}
}

func (s *RouterService) Serve(ctx context.Context) error {
	router, err := s.build()
	if err != nil {
		return errors.Wrap(err, "build router")
	}
	defer router.Close()
	if err := router.Run(ctx); err != nil {
		return errors.Wrap(err, "router stopped")
	}
	return ctx.Err()
}

func (s *RouterService) String() string { return "queue-router" }
