package localapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/florianilch/devpilot/internal/projectfiles"
	"github.com/florianilch/devpilot/internal/tokenstore"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	file, err := tokenstore.NewJSONFile(filepath.Join(t.TempDir(), "tokens.json"))
	if err != nil {
		t.Fatalf("NewJSONFile() error = %v", err)
	}
	store, err := tokenstore.New(file, tokenstore.UnavailableCipher{}, tokenstore.WithSweepInterval(0))
	if err != nil {
		t.Fatalf("tokenstore.New() error = %v", err)
	}
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(store.Close)

	srv, err := New(store, projectfiles.NewLister(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Host = "127.0.0.1:4317"
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestServer_TokenLifecycle(t *testing.T) {
	srv := newTestServer(t)

	if rec := do(t, srv, http.MethodPut, "/v1/tokens/access_token", `{"value": "abc123"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body)
	}

	rec := do(t, srv, http.MethodGet, "/v1/tokens/access_token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	if got := decode[tokenResponse](t, rec); got.Value != "abc123" {
		t.Errorf("GET value = %q, want abc123", got.Value)
	}

	rec = do(t, srv, http.MethodGet, "/v1/tokens/access_token/valid", "")
	if got := decode[validResponse](t, rec); !got.Valid {
		t.Error("valid = false, want true")
	}

	rec = do(t, srv, http.MethodPost, "/v1/tokens/access_token/extend", "")
	if got := decode[extendResponse](t, rec); !got.Extended {
		t.Error("extended = false, want true")
	}

	rec = do(t, srv, http.MethodGet, "/v1/tokens", "")
	if got := decode[keysResponse](t, rec); len(got.Keys) != 1 || got.Keys[0] != "access_token" {
		t.Errorf("keys = %v, want [access_token]", got.Keys)
	}

	if rec := do(t, srv, http.MethodDelete, "/v1/tokens/access_token", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/tokens/access_token", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET after DELETE status = %d, want 404", rec.Code)
	}
	rec = do(t, srv, http.MethodGet, "/v1/tokens/access_token/valid", "")
	if got := decode[validResponse](t, rec); got.Valid {
		t.Error("valid after DELETE = true")
	}
	rec = do(t, srv, http.MethodPost, "/v1/tokens/access_token/extend", "")
	if got := decode[extendResponse](t, rec); got.Extended {
		t.Error("extended after DELETE = true")
	}
}

func TestServer_ClearTokens(t *testing.T) {
	srv := newTestServer(t)

	for _, key := range []string{"access_token", "refresh_token"} {
		if rec := do(t, srv, http.MethodPut, "/v1/tokens/"+key, `{"value": "v"}`); rec.Code != http.StatusNoContent {
			t.Fatalf("PUT %s status = %d", key, rec.Code)
		}
	}

	if rec := do(t, srv, http.MethodDelete, "/v1/tokens", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE all status = %d", rec.Code)
	}
	for _, key := range []string{"access_token", "refresh_token"} {
		if rec := do(t, srv, http.MethodGet, "/v1/tokens/"+key, ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s after clear status = %d, want 404", key, rec.Code)
		}
	}
}

func TestServer_SetTokenBadRequests(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "value=abc"},
		{name: "missing value", body: `{}`},
		{name: "unknown field", body: `{"value": "a", "ttl": 5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPut, "/v1/tokens/k", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			if got := decode[ErrorResponse](t, rec); got.Error == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestServer_AuthToken(t *testing.T) {
	srv := newTestServer(t, WithAuthToken("s3cret"))

	if rec := do(t, srv, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200 without auth", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/tokens", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no auth status = %d, want 401", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/tokens", "", "Authorization", "Bearer wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong auth status = %d, want 401", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/tokens", "", "Authorization", "Bearer s3cret"); rec.Code != http.StatusOK {
		t.Errorf("valid auth status = %d, want 200", rec.Code)
	}
}

func TestServer_ProjectFiles(t *testing.T) {
	srv := newTestServer(t)

	root := t.TempDir()
	for _, f := range []string{"src/a.ts", "node_modules/dep/index.js", "README.md"} {
		path := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	rec := do(t, srv, http.MethodGet, "/v1/projects/files?root="+root, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	got := decode[filesResponse](t, rec)
	if len(got.Files) != 1 || !strings.HasSuffix(filepath.ToSlash(got.Files[0]), "src/a.ts") {
		t.Errorf("files = %v, want only src/a.ts", got.Files)
	}

	rec = do(t, srv, http.MethodGet, "/v1/projects/files?root="+filepath.Join(root, "README.md"), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-directory root status = %d, want 400", rec.Code)
	}
}

func TestServer_WatchStreamsEvents(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t))
	defer srv.Close()

	root := t.TempDir()
	target := filepath.Join(root, "main.go")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/projects/watch?root="+root, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = os.WriteFile(target, []byte(time.Now().String()), 0o644)
			}
		}
	}()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var event projectfiles.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("invalid event %q: %v", data, err)
		}
		if filepath.Base(event.Path) != "main.go" {
			t.Errorf("event path = %q, want main.go", event.Path)
		}
		return
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("reading stream: %v", err)
	}
	t.Fatal("stream ended without a file event")
}

func TestServer_WatchRejectsInvalidRoot(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/v1/projects/watch?root="+filepath.Join(t.TempDir(), "missing"), "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	srv := newTestServer(t)

	errCh, err := srv.Start(context.Background(), "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err, ok := <-errCh; ok && err != nil {
		t.Errorf("runtime error = %v", err)
	}
}

func TestServer_RejectsForeignHostAndOrigin(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		host   string
		origin string
		want   int
	}{
		{name: "ipv4 loopback", host: "127.0.0.1:4317", want: http.StatusOK},
		{name: "localhost", host: "localhost:4317", want: http.StatusOK},
		{name: "ipv6 loopback", host: "[::1]:4317", want: http.StatusOK},
		{name: "loopback origin", host: "localhost:4317", origin: "http://localhost:3000", want: http.StatusOK},
		{name: "rebound host", host: "attacker.example:4317", origin: "http://attacker.example:4317", want: http.StatusForbidden},
		{name: "foreign host without origin", host: "attacker.example:4317", want: http.StatusForbidden},
		{name: "foreign origin", host: "127.0.0.1:4317", origin: "http://attacker.example", want: http.StatusForbidden},
		{name: "opaque origin", host: "127.0.0.1:4317", origin: "null", want: http.StatusForbidden},
		{name: "configured port", opts: []Option{WithPort(4317)}, host: "127.0.0.1:4317", want: http.StatusOK},
		{name: "wrong port", opts: []Option{WithPort(4317)}, host: "127.0.0.1:9999", want: http.StatusForbidden},
		{name: "implicit port 80", opts: []Option{WithPort(4317)}, host: "localhost", want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, tt.opts...)
			if rec := do(t, srv, http.MethodPut, "/v1/tokens/access_token", `{"value": "abc123"}`); rec.Code != http.StatusNoContent {
				t.Fatalf("PUT status = %d", rec.Code)
			}

			req := httptest.NewRequest(http.MethodGet, "/v1/tokens/access_token", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if tt.want == http.StatusForbidden && strings.Contains(rec.Body.String(), "abc123") {
				t.Error("secret leaked to rejected request")
			}
		})
	}
}

// lateWriteGuard fails writes that arrive after the wrapped handler returned.
type lateWriteGuard struct {
	http.ResponseWriter
	returned atomic.Bool
	late     atomic.Int32
}

func (g *lateWriteGuard) Write(b []byte) (int, error) {
	if g.returned.Load() {
		g.late.Add(1)
		return 0, errors.New("write after handler returned")
	}
	return g.ResponseWriter.Write(b)
}

func (g *lateWriteGuard) Flush() {
	if f, ok := g.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (g *lateWriteGuard) Unwrap() http.ResponseWriter {
	return g.ResponseWriter
}

func TestServer_WatchHeartbeatStopsWithHandler(t *testing.T) {
	api := newTestServer(t, WithHeartbeatInterval(time.Millisecond))

	guards := make(chan *lateWriteGuard, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := &lateWriteGuard{ResponseWriter: w}
		api.ServeHTTP(g, r)
		g.returned.Store(true)
		guards <- g
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/projects/watch?root="+t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	pings := 0
	scanner := bufio.NewScanner(resp.Body)
	for pings < 3 && scanner.Scan() {
		if scanner.Text() == ": ping" {
			pings++
		}
	}
	if pings < 3 {
		t.Fatalf("saw %d heartbeats, want 3 (scan error %v)", pings, scanner.Err())
	}

	// Disconnect while heartbeats are still due.
	cancel()
	_ = resp.Body.Close()

	var g *lateWriteGuard
	select {
	case g = <-guards:
	case <-time.After(5 * time.Second):
		t.Fatal("watch handler did not return after disconnect")
	}

	// Several heartbeat periods pass; a leaked ticker would write by now.
	time.Sleep(50 * time.Millisecond)
	if n := g.late.Load(); n != 0 {
		t.Errorf("%d writes after the handler returned", n)
	}
}

func TestNew_InvalidHeartbeat(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Error("New() accepted nil dependencies")
	}

	lister := projectfiles.NewLister()
	file, err := tokenstore.NewJSONFile(filepath.Join(t.TempDir(), "tokens.json"))
	if err != nil {
		t.Fatalf("NewJSONFile() error = %v", err)
	}
	store, err := tokenstore.New(file, tokenstore.UnavailableCipher{}, tokenstore.WithSweepInterval(0))
	if err != nil {
		t.Fatalf("tokenstore.New() error = %v", err)
	}
	if _, err := New(store, lister, WithHeartbeatInterval(0)); err == nil {
		t.Error("New() accepted a zero heartbeat interval")
	}
}
