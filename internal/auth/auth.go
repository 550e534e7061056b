package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrAuthentication covers credential and token failures: missing
// credentials, a rejected token request, or a malformed token response.
var ErrAuthentication = errors.New("authentication failed")

// expiryBuffer is how long before actual expiry a token is already treated
// as invalid, so in-flight requests never ride a token that dies mid-call.
const expiryBuffer = 60 * time.Second

// defaultExpiresIn is assumed when the token endpoint reports no lifetime.
const defaultExpiresIn = 600 * time.Second

// Environment variables checked when no explicit credentials are configured.
const (
	EnvClientID     = "CDSE_CLIENT_ID"
	EnvClientSecret = "CDSE_CLIENT_SECRET"
)

// TokenAuthority manages an OAuth2 client-credentials token. It refreshes
// lazily and is safe for concurrent use; a single refresh is performed no
// matter how many callers arrive at an expired token together.
type TokenAuthority struct {
	clientID     string
	clientSecret string
	tokenURL     string
	client       *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   int64   `json:"expires_in"`
	ExpiresAt   float64 `json:"expires_at"`
}

// NewTokenAuthority builds a token manager. Empty clientID/clientSecret fall
// back to the CDSE_CLIENT_ID / CDSE_CLIENT_SECRET environment variables;
// if neither source provides them the constructor fails with
// ErrAuthentication.
func NewTokenAuthority(clientID, clientSecret, tokenURL string, client *http.Client) (*TokenAuthority, error) {
	if clientID == "" {
		clientID = os.Getenv(EnvClientID)
	}
	if clientSecret == "" {
		clientSecret = os.Getenv(EnvClientSecret)
	}
	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: OAuth2 credentials required (set %s and %s)",
			ErrAuthentication, EnvClientID, EnvClientSecret)
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &TokenAuthority{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		client:       client,
		now:          time.Now,
	}, nil
}

// Valid reports whether the cached token can still be used. A token is
// usable only while more than the expiry buffer remains of its lifetime.
func (ta *TokenAuthority) Valid() bool {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	return ta.validLocked()
}

func (ta *TokenAuthority) validLocked() bool {
	return ta.token != "" && ta.now().Add(expiryBuffer).Before(ta.expiresAt)
}

// Token returns a currently valid access token, refreshing it first if
// needed. Refresh failures leave any previously stored token untouched.
func (ta *TokenAuthority) Token(ctx context.Context) (string, error) {
	ta.mu.Lock()
	defer ta.mu.Unlock()

	if ta.validLocked() {
		return ta.token, nil
	}

	log.Debug("Access token missing or expiring, requesting a new one")
	token, expiresAt, err := ta.fetchToken(ctx)
	if err != nil {
		return "", err
	}
	ta.token = token
	ta.expiresAt = expiresAt
	log.Debugf("Obtained access token valid until %s", expiresAt.Format(time.RFC3339))
	return ta.token, nil
}

// AuthHeader returns a ready-to-use Authorization header value.
func (ta *TokenAuthority) AuthHeader(ctx context.Context) (string, error) {
	token, err := ta.Token(ctx)
	if err != nil {
		return "", err
	}
	return "Bearer " + token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Used when the service answers 401 to a request carrying this token.
func (ta *TokenAuthority) Invalidate() {
	ta.mu.Lock()
	defer ta.mu.Unlock()
	ta.token = ""
	ta.expiresAt = time.Time{}
}

func (ta *TokenAuthority) fetchToken(ctx context.Context) (string, time.Time, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", ta.clientID)
	form.Set("client_secret", ta.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ta.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: building token request: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ta.client.Do(req)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: token request: %w", ErrAuthentication, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: reading token response: %w", ErrAuthentication, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", time.Time{}, fmt.Errorf("%w: token endpoint returned status %d", ErrAuthentication, resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: decoding token response: %w", ErrAuthentication, err)
	}
	if tr.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("%w: token response contained no access_token", ErrAuthentication)
	}

	var expiresAt time.Time
	switch {
	case tr.ExpiresAt > 0:
		sec := int64(tr.ExpiresAt)
		nsec := int64((tr.ExpiresAt - float64(sec)) * float64(time.Second))
		expiresAt = time.Unix(sec, nsec)
	case tr.ExpiresIn > 0:
		expiresAt = ta.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	default:
		expiresAt = ta.now().Add(defaultExpiresIn)
	}
	return tr.AccessToken, expiresAt, nil
}
