// Package auth exchanges the host's API key for the short-lived bearer
// token the session handshake requires, caching it in a token store so
// reconnects within the token lifetime skip the HTTP round-trip.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sonara-ai/sonara-go/pkg/tokenstore"
)

// defaultTTL is used when the auth endpoint does not report an expiry.
const defaultTTL = tokenstore.DefaultTTL

// expiryMargin is shaved off reported expiries so a token is refreshed
// before the server rejects it.
const expiryMargin = 5 * time.Minute

// Config configures an [Exchanger].
type Config struct {
	// URL is the token-exchange endpoint.
	URL string

	// APIKey authenticates the exchange.
	APIKey string

	// FederatedID identifies the end user.
	FederatedID string

	// HTTPClient defaults to a client with a 15 s timeout.
	HTTPClient *http.Client

	// TTL overrides the cache lifetime when the endpoint reports none.
	TTL time.Duration
}

// Exchanger obtains and caches bearer tokens. Safe for concurrent use; the
// underlying store provides the synchronisation.
type Exchanger struct {
	cfg   Config
	store tokenstore.Store
}

// tokenRequest is the exchange request body.
type tokenRequest struct {
	APIKey      string `json:"api_key"`
	FederatedID string `json:"federated_id,omitempty"`
}

// tokenResponse is the exchange response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in,omitempty"` // seconds
}

// New creates an Exchanger caching into store.
func New(cfg Config, store tokenstore.Store) *Exchanger {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &Exchanger{cfg: cfg, store: store}
}

// cacheKey scopes the cached token to this key and user.
func (e *Exchanger) cacheKey() string {
	return "access_token:" + e.cfg.APIKey + ":" + e.cfg.FederatedID
}

// Token returns a valid bearer token, exchanging the API key when the cache
// is empty or expired.
func (e *Exchanger) Token(ctx context.Context) (string, error) {
	if token, ok := e.store.Get(e.cacheKey()); ok {
		return token, nil
	}

	body, err := json.Marshal(tokenRequest{
		APIKey:      e.cfg.APIKey,
		FederatedID: e.cfg.FederatedID,
	})
	if err != nil {
		return "", fmt.Errorf("auth: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("auth: exchange returned %d: %s", resp.StatusCode, payload)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("auth: decode response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("auth: exchange returned an empty token")
	}

	ttl := e.cfg.TTL
	if tr.ExpiresIn > 0 {
		reported := time.Duration(tr.ExpiresIn) * time.Second
		if reported > expiryMargin {
			ttl = reported - expiryMargin
		} else {
			ttl = reported / 2
		}
	}
	e.store.Set(e.cacheKey(), tr.AccessToken, ttl)
	return tr.AccessToken, nil
}

// Invalidate drops the cached token, forcing the next Token call to
// re-exchange.
func (e *Exchanger) Invalidate() {
	e.store.Clear(e.cacheKey())
}
