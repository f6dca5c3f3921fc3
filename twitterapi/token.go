package twitterapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const defaultActivateURL = "https://api.twitter.com/1.1/guest/activate.json"

// GuestTokenSource activates and caches a guest token. Guest tokens expire silently upstream,
// so the cache has a fixed TTL and is dropped early whenever a request is rejected.
type GuestTokenSource struct {
	// Bearer defaults to PublicBearer.
	Bearer     string
	HTTPClient *http.Client
	// ActivateURL is overridable in tests.
	ActivateURL string
	// TTL defaults to one hour.
	TTL time.Duration

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) guest token.
func (ts *GuestTokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Now().Before(ts.expiresAt) {
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// Invalidate drops the cached token.
func (ts *GuestTokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

func (ts *GuestTokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Now().Before(ts.expiresAt) {
		return ts.token, nil
	}
	activate := ts.ActivateURL
	if activate == "" {
		activate = defaultActivateURL
	}
	bearer := ts.Bearer
	if bearer == "" {
		bearer = PublicBearer
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, activate, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("guest token activation failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		GuestToken string `json:"guest_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.GuestToken == "" {
		return "", errors.New("empty guest_token in activation response")
	}
	ttl := ts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	ts.token = body.GuestToken
	ts.expiresAt = time.Now().Add(ttl)
	slog.Debug("guest token activated", slog.String("component", "twitterapi"))
	return ts.token, nil
}
