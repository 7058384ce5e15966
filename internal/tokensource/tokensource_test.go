package tokensource

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenSource_RefreshSendsJSON(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if ua := r.Header.Get("User-Agent"); ua != "devpilot-test" {
			t.Errorf("User-Agent = %q, want devpilot-test", ua)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing X-Request-Id")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding refresh request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "access-1", "refresh_token": "refresh-2", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer srv.Close()

	ts := NewTokenSource("refresh-1", Endpoint(srv.URL), WithClientID("test-client"), WithUserAgent("devpilot-test"))

	token, err := ts.Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token.AccessToken != "access-1" || token.RefreshToken != "refresh-2" {
		t.Errorf("Token() = %+v", token)
	}

	want := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "refresh-1",
		"client_id":     "test-client",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("request[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestTokenSource_RefreshError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer srv.Close()

	if _, err := NewTokenSource("revoked", Endpoint(srv.URL)).Token(); err == nil {
		t.Fatal("Token() error = nil, want invalid_grant")
	}
}

func TestTokenSource_RefreshTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ts := NewTokenSource("refresh-1", Endpoint(srv.URL), WithRefreshTimeout(50*time.Millisecond))
	if _, err := ts.Token(); err == nil {
		t.Fatal("Token() error = nil, want timeout")
	}
}
