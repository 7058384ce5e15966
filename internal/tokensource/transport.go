package tokensource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// jsonRefreshTransport re-encodes oauth2's form-encoded refresh requests as
// JSON objects. It only ever sees token endpoint requests.
type jsonRefreshTransport struct {
	base      http.RoundTripper
	userAgent string
}

// Compile-time check that jsonRefreshTransport implements http.RoundTripper.
var _ http.RoundTripper = (*jsonRefreshTransport)(nil)

func (t *jsonRefreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body == nil {
		return nil, fmt.Errorf("token request without body")
	}
	// The original body is consumed here and replaced on the clone.
	defer func() { _ = req.Body.Close() }()

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token request: %w", err)
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing token request: %w", err)
	}

	params := make(map[string]string, len(form))
	for key := range form {
		params[key] = form.Get(key)
	}
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(payload))
	out.ContentLength = int64(len(payload))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	out.Header.Set("Content-Type", "application/json")
	out.Header.Set("X-Request-Id", uuid.NewString())
	if t.userAgent != "" {
		out.Header.Set("User-Agent", t.userAgent)
	}

	return t.base.RoundTrip(out)
}
