package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
)

// Keys under which remote API credentials live in the token store.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// SecretStore is the part of the token store used for API credentials.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// TokenSourceFactory creates an oauth2.TokenSource from a stored refresh token.
type TokenSourceFactory func(refreshToken string) oauth2.TokenSource

// PersistentTokenSource wraps an oauth2.TokenSource with token persistence.
// The refresh token is read from the store on first use; rotated refresh tokens
// and fresh access tokens are written back so the desktop shell sees them.
type PersistentTokenSource struct {
	factory TokenSourceFactory
	store   SecretStore

	tokenSource func() (oauth2.TokenSource, error)

	mu          sync.Mutex
	lastRefresh string
	lastAccess  string
}

// Compile-time check to ensure PersistentTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*PersistentTokenSource)(nil)

// NewPersistentTokenSource creates a PersistentTokenSource.
// No I/O is performed until the first Token call.
func NewPersistentTokenSource(factory TokenSourceFactory, store SecretStore) (*PersistentTokenSource, error) {
	if factory == nil {
		return nil, fmt.Errorf("missing token source factory")
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	p := &PersistentTokenSource{
		factory: factory,
		store:   store,
	}

	p.tokenSource = sync.OnceValues(p.createTokenSource)

	return p, nil
}

// createTokenSource performs one-time initialization of the TokenSource.
func (p *PersistentTokenSource) createTokenSource() (oauth2.TokenSource, error) {
	// oauth2.TokenSource.Token() has no context parameter (legacy interface limitation)
	ctx := context.Background()

	refreshToken, err := p.store.Get(ctx, RefreshTokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}

	// Remember the stored token to avoid an unnecessary write-back on first call
	p.mu.Lock()
	p.lastRefresh = refreshToken
	p.mu.Unlock()

	return p.factory(refreshToken), nil
}

// Token returns a valid token, refreshing if necessary and persisting changed tokens.
func (p *PersistentTokenSource) Token() (*oauth2.Token, error) {
	ts, err := p.tokenSource()
	if err != nil {
		return nil, err
	}

	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token from token source: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Write failures are logged only: the access token is still usable, and the
	// cached value is left stale so the next call retries the write.
	ctx := context.Background()
	if fresh.RefreshToken != "" && fresh.RefreshToken != p.lastRefresh {
		if err := p.store.Set(ctx, RefreshTokenKey, fresh.RefreshToken); err != nil {
			slog.ErrorContext(ctx, "failed to persist refresh token", "error", err)
		} else {
			p.lastRefresh = fresh.RefreshToken
		}
	}
	if fresh.AccessToken != "" && fresh.AccessToken != p.lastAccess {
		if err := p.store.Set(ctx, AccessTokenKey, fresh.AccessToken); err != nil {
			slog.ErrorContext(ctx, "failed to persist access token", "error", err)
		} else {
			p.lastAccess = fresh.AccessToken
		}
	}

	return fresh, nil
}
