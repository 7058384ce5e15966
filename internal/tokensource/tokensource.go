package tokensource

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultRefreshTimeout bounds a single refresh call.
const DefaultRefreshTimeout = 30 * time.Second

// TokenSourceOption configures a TokenSource.
type TokenSourceOption func(*options)

type options struct {
	transport http.RoundTripper
	clientID  string
	timeout   time.Duration
	userAgent string
}

// WithTransport sets the transport beneath JSON encoding. Defaults to
// http.DefaultTransport.
func WithTransport(transport http.RoundTripper) TokenSourceOption {
	return func(o *options) {
		o.transport = transport
	}
}

// WithClientID overrides DefaultClientID.
func WithClientID(clientID string) TokenSourceOption {
	return func(o *options) {
		o.clientID = clientID
	}
}

// WithRefreshTimeout overrides DefaultRefreshTimeout.
func WithRefreshTimeout(timeout time.Duration) TokenSourceOption {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithUserAgent sets the User-Agent sent to the token endpoint.
func WithUserAgent(userAgent string) TokenSourceOption {
	return func(o *options) {
		o.userAgent = userAgent
	}
}

// TokenSource refreshes access tokens against the remote token endpoint.
// It is safe for concurrent use; oauth2 serialises refreshes internally.
type TokenSource struct {
	inner oauth2.TokenSource
}

// Compile-time check to ensure TokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*TokenSource)(nil)

// NewTokenSource creates a TokenSource seeded with refreshToken. The first
// Token call always refreshes since no access token is known yet.
func NewTokenSource(refreshToken string, endpoint oauth2.Endpoint, opts ...TokenSourceOption) *TokenSource {
	o := &options{
		transport: http.DefaultTransport,
		clientID:  DefaultClientID,
		timeout:   DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	conf := &oauth2.Config{
		ClientID: o.clientID,
		Endpoint: endpoint,
	}

	client := &http.Client{
		// oauth2 refreshes with context.Background, so only the client timeout bounds it
		Timeout: o.timeout,
		Transport: &jsonRefreshTransport{
			base:      o.transport,
			userAgent: o.userAgent,
		},
	}

	// Token has no context parameter; oauth2 picks the client up from this one.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)

	return &TokenSource{
		inner: conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}),
	}
}

// Token returns the cached access token or refreshes it when expired.
func (ts *TokenSource) Token() (*oauth2.Token, error) {
	token, err := ts.inner.Token()
	if err != nil {
		return nil, err
	}
	slog.Debug("access token ready", "expiry", token.Expiry)
	return token, nil
}
