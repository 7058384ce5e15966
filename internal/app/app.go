package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/florianilch/devpilot/internal/apiclient"
	"github.com/florianilch/devpilot/internal/localapi"
	"github.com/florianilch/devpilot/internal/tokensource"
	"github.com/florianilch/devpilot/internal/tokenstore"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// App orchestrates the lifecycle of the local API server and the token store.
type App struct {
	cfg    *Config
	store  *tokenstore.Store
	server *localapi.Server
}

// New creates a new App instance. No I/O is performed until Start.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Tokens.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	opts := []localapi.Option{localapi.WithPort(cfg.Server.Port)}
	if cfg.Server.AuthToken != "" {
		opts = append(opts, localapi.WithAuthToken(cfg.Server.AuthToken))
	}

	server, err := localapi.New(store, cfg.Projects.NewLister(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create local api: %w", err)
	}

	return &App{
		cfg:    cfg,
		store:  store,
		server: server,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "loading token store", "file", a.cfg.Tokens.File, "encryption", a.cfg.Tokens.Encryption)
	if err := a.store.Initialize(gCtx); err != nil {
		return fmt.Errorf("token store startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		a.store.Close()
		return nil
	})

	slog.InfoContext(gCtx, "starting local api server", "address", address)
	serverErrCh, err := a.server.Start(gCtx, address)
	if err != nil {
		a.store.Close()
		return fmt.Errorf("local api startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.server.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-serverErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "local api runtime error", "error", err)
				return fmt.Errorf("local api: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}

// OpenTokenStore creates and initializes a token store for one-shot commands.
// The caller must Close it.
func OpenTokenStore(ctx context.Context, cfg TokensConfig) (*tokenstore.Store, error) {
	store, err := cfg.NewTokenStore()
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize token store: %w", err)
	}
	return store, nil
}

// NewAPIClient creates a remote API client authenticated with the refresh
// token held in store. No I/O is performed until the first request.
func NewAPIClient(cfg RemoteConfig, store SecretStore) (*apiclient.Client, error) {
	tokenSource, err := newTokenSource(cfg, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create token source: %w", err)
	}
	return apiclient.New(cfg.BaseURL, tokenSource)
}

// newTokenSource creates a PersistentTokenSource from application configuration.
// No I/O is performed - TokenSource creation is deferred to first Token() call.
func newTokenSource(cfg RemoteConfig, store SecretStore) (*PersistentTokenSource, error) {
	endpoint := tokensource.Endpoint(cfg.TokenURL)

	var opts []tokensource.TokenSourceOption
	if cfg.ClientID != "" {
		opts = append(opts, tokensource.WithClientID(cfg.ClientID))
	}

	factory := func(token string) oauth2.TokenSource {
		return tokensource.NewTokenSource(token, endpoint, opts...)
	}

	return NewPersistentTokenSource(factory, store)
}
