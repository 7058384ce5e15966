// Package tokensource provides OAuth2 token acquisition and automatic refresh
// for the remote code-generation API.
//
// The API's token endpoint deviates from the standard in one way that requires
// custom handling:
//   - Token refresh uses JSON-encoded requests (standard OAuth2 uses form-encoding)
//
// # Token Sources
//
// Use NewTokenSource with a refresh token and the configured endpoint:
//
//	ts := tokensource.NewTokenSource(refreshToken, tokensource.Endpoint(tokenURL))
//	// TokenSource implements oauth2.TokenSource and can be used with oauth2.Transport
//
// # Custom Base Transport
//
// A custom base transport can be supplied for proxies or tests:
//
//	ts := tokensource.NewTokenSource(
//		refreshToken,
//		tokensource.Endpoint(tokenURL),
//		tokensource.WithTransport(customTransport),
//	)
package tokensource
