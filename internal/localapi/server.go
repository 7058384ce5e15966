// Package localapi serves the token store and project file listing to the
// desktop shell over a loopback HTTP API.
package localapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/devpilot/internal/projectfiles"
)

// TokenStore is the subset of tokenstore.Store served by the API.
type TokenStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	IsValid(ctx context.Context, key string) (bool, error)
	Extend(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// FileLister lists and watches project files.
type FileLister interface {
	List(ctx context.Context, root string) ([]string, error)
	Watch(ctx context.Context, root string, fn func(projectfiles.Event)) error
}

// Option configures a Server.
type Option func(*config)

type config struct {
	authToken string
	port      uint16
	heartbeat time.Duration
}

// WithAuthToken requires every request except health checks to carry
// "Authorization: Bearer <token>". An empty token disables the check.
func WithAuthToken(token string) Option {
	return func(c *config) {
		c.authToken = token
	}
}

// WithPort restricts accepted Host headers to the given port. Zero accepts
// any port on a loopback host.
func WithPort(port uint16) Option {
	return func(c *config) {
		c.port = port
	}
}

// WithHeartbeatInterval sets the keep-alive spacing on watch streams.
// Defaults to DefaultHeartbeatInterval.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) {
		c.heartbeat = interval
	}
}

// Server is the local API server.
type Server struct {
	mux    *http.ServeMux
	server *http.Server
	addr   net.Addr
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a Server backed by the given token store and file lister.
func New(tokens TokenStore, files FileLister, opts ...Option) (*Server, error) {
	if tokens == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if files == nil {
		return nil, fmt.Errorf("missing file lister")
	}

	cfg := &config{heartbeat: DefaultHeartbeatInterval}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.heartbeat <= 0 {
		return nil, fmt.Errorf("heartbeat interval must be positive, got %s", cfg.heartbeat)
	}

	logger := slog.Default()
	th := &tokenHandlers{store: tokens}
	ph := &projectHandlers{files: files, heartbeat: cfg.heartbeat}

	middlewares := []func(http.Handler) http.Handler{
		Logging(logger),
		Recovery,
		RequireLoopback(cfg.port),
		RequireBearer(cfg.authToken),
	}
	route := func(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, applyMiddlewares(h, middlewares...))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(r.Context(), w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	route(mux, "GET /v1/tokens", th.list)
	route(mux, "DELETE /v1/tokens", th.clear)
	route(mux, "PUT /v1/tokens/{key}", th.set)
	route(mux, "GET /v1/tokens/{key}", th.get)
	route(mux, "DELETE /v1/tokens/{key}", th.remove)
	route(mux, "GET /v1/tokens/{key}/valid", th.valid)
	route(mux, "POST /v1/tokens/{key}/extend", th.extend)

	route(mux, "GET /v1/projects/files", ph.list)
	route(mux, "GET /v1/projects/watch", ph.watch)

	return &Server{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	s.addr = listener.Addr()

	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: watch streams stay open until the client leaves or ctx ends.
		IdleTimeout: 90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr returns the bound address after Start, or nil before.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
