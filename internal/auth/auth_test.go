package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestAuthority(t *testing.T, tokenURL string) *TokenAuthority {
	t.Helper()
	ta, err := NewTokenAuthority("test-id", "test-secret", tokenURL, nil)
	if err != nil {
		t.Fatalf("NewTokenAuthority failed: %v", err)
	}
	return ta
}

func TestNewTokenAuthorityMissingCredentials(t *testing.T) {
	t.Setenv(EnvClientID, "")
	t.Setenv(EnvClientSecret, "")

	_, err := NewTokenAuthority("", "", "http://unused", nil)
	if err == nil {
		t.Fatal("expected error for missing credentials")
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
}

func TestNewTokenAuthorityEnvFallback(t *testing.T) {
	t.Setenv(EnvClientID, "env-id")
	t.Setenv(EnvClientSecret, "env-secret")

	ta, err := NewTokenAuthority("", "", "http://unused", nil)
	if err != nil {
		t.Fatalf("NewTokenAuthority failed: %v", err)
	}
	if ta.clientID != "env-id" || ta.clientSecret != "env-secret" {
		t.Errorf("credentials not read from environment: %q / %q", ta.clientID, ta.clientSecret)
	}
}

func TestValidityBuffer(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		token     string
		want      bool
	}{
		{"no token", base.Add(time.Hour), "", false},
		{"expires in 30s is already invalid", base.Add(30 * time.Second), "tok", false},
		{"expires exactly at buffer edge is invalid", base.Add(60 * time.Second), "tok", false},
		{"expires in 120s is valid", base.Add(120 * time.Second), "tok", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAuthority(t, "http://unused")
			ta.now = func() time.Time { return base }
			ta.token = tt.token
			ta.expiresAt = tt.expiresAt
			if got := ta.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenFetchAndCache(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		if got := r.PostForm.Get("client_id"); got != "test-id" {
			t.Errorf("client_id = %q, want test-id", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"abc123","expires_in":600}`)
	}))
	defer server.Close()

	ta := newTestAuthority(t, server.URL)
	ctx := context.Background()

	token, err := ta.Token(ctx)
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "abc123" {
		t.Errorf("token = %q, want abc123", token)
	}

	// Second call must reuse the cached token.
	if _, err := ta.Token(ctx); err != nil {
		t.Fatalf("cached Token failed: %v", err)
	}
	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1", n)
	}
}

func TestTokenAbsoluteExpiry(t *testing.T) {
	expiresAt := time.Now().Add(2 * time.Hour).Unix()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"access_token":"abs","expires_at":%d}`, expiresAt)
	}))
	defer server.Close()

	ta := newTestAuthority(t, server.URL)
	if _, err := ta.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got := ta.expiresAt.Unix(); got != expiresAt {
		t.Errorf("expiresAt = %d, want %d", got, expiresAt)
	}
}

func TestConcurrentRefreshSingleFetch(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, `{"access_token":"one","expires_in":600}`)
	}))
	defer server.Close()

	ta := newTestAuthority(t, server.URL)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ta.Token(context.Background()); err != nil {
				t.Errorf("Token failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&requests); n != 1 {
		t.Errorf("token endpoint hit %d times, want 1", n)
	}
}

func TestTokenRefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	ta := newTestAuthority(t, server.URL)
	ta.token = "stale"

	_, err := ta.Token(context.Background())
	if err == nil {
		t.Fatal("expected error from rejected token request")
	}
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("expected ErrAuthentication, got %v", err)
	}
	if ta.token != "stale" {
		t.Errorf("stored token modified on failed refresh: %q", ta.token)
	}
}

func TestInvalidate(t *testing.T) {
	ta := newTestAuthority(t, "http://unused")
	ta.token = "tok"
	ta.expiresAt = time.Now().Add(time.Hour)

	ta.Invalidate()
	if ta.Valid() {
		t.Error("token still valid after Invalidate")
	}
}
