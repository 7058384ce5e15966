package tokensource

import (
	"golang.org/x/oauth2"
)

// DefaultClientID is the public client identifier of the desktop app.
// The app is a public client (no client secret).
const DefaultClientID = "devpilot-desktop"

// Endpoint returns the OAuth2 endpoint for the given token URL. Only the
// refresh grant is used, so no authorization URL is needed.
func Endpoint(tokenURL string) oauth2.Endpoint {
	return oauth2.Endpoint{
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}
