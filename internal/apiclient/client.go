// Package apiclient talks to the remote DevPilot API on behalf of the desktop shell.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 30 * time.Second

const requestIDHeader = "X-Request-Id"

// maxErrorBody caps how much of a failed response is kept in an APIError.
const maxErrorBody = 4 << 10

// Credits is the account balance reported by the API.
type Credits struct {
	Remaining float64 `json:"remaining"`
	Used      float64 `json:"used"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	RequestID  string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api returned %d (request %s): %s", e.StatusCode, e.RequestID, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithTransport sets the base transport beneath authentication.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *Client) {
		c.base = transport
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// Client calls the remote API with bearer tokens from an oauth2.TokenSource.
type Client struct {
	baseURL *url.URL
	base    http.RoundTripper
	timeout time.Duration
	http    *http.Client
}

// New creates a Client for baseURL. Tokens are fetched lazily on the first request.
func New(baseURL string, ts oauth2.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("missing token source")
	}
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}

	c := &Client{
		baseURL: u,
		base:    http.DefaultTransport,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: ts,
			Base:   c.base,
		},
	}
	return c, nil
}

// Credits returns the remaining and used credits of the signed-in account.
func (c *Client) Credits(ctx context.Context) (*Credits, error) {
	var credits Credits
	if err := c.get(ctx, "/credits", &credits); err != nil {
		return nil, err
	}
	return &credits, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		slog.WarnContext(ctx, "api request failed", "path", path, "status", resp.StatusCode, "request_id", requestID)
		return &APIError{StatusCode: resp.StatusCode, RequestID: requestID, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
