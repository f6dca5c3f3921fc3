// Package twitterapi contains minimal helpers to interact with the platform's web GraphQL API
// (user lookup, user timeline, audio space detail, live stream status) and with the
// periscope chat service that serves a space's caption history.
//
// Every request carries the public web bearer (through an oauth2 static token source) and a
// guest token. Callers are expected to route calls through the shared gateway; the client
// itself does no throttling.
package twitterapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"golang.org/x/oauth2"
)

// PublicBearer is the bearer token the web client ships with.
//
//nolint:gosec // G101: public, non-secret web client token
const PublicBearer = "AAAAAAAAAAAAAAAAAAAAANRILgAAAAAAnNwIzUejRCOuH5E6I8xnZz4puTs%3D1Zv7ttfk8LF81IUq16cHjhLTvJu4FA33AGWWjCpTnA"

const (
	defaultAPIBase     = "https://twitter.com/i/api"
	defaultChatBase    = "https://prod-chatman-ancillary-ap-northeast-1.pscp.tv"
	defaultProxseeBase = "https://proxsee.pscp.tv"

	userByScreenNamePath = "/graphql/G3KGOASz96M-Qu0nwmGXNg/UserByScreenName"
	userTweetsPath       = "/graphql/H8OOoI-5ZE4NxgRr8lfyWg/UserTweets"
	audioSpaceByIDPath   = "/graphql/xVEzTKg_mLTHubK5ayL0HA/AudioSpaceById"
	liveStreamStatusPath = "/1.1/live_video_stream/status/"
	chatHistoryPath      = "/chatapi/v1/history"
	accessChatPath       = "/api/v2/accessChatPublic"
)

// Client talks to the upstream APIs. The zero value is not usable; fill Guest at least.
type Client struct {
	// Bearer defaults to PublicBearer.
	Bearer string
	// Guest supplies the x-guest-token header.
	Guest *GuestTokenSource
	// HTTPClient is the base transport; the bearer is layered on top of it.
	HTTPClient *http.Client

	// Base URLs, overridable in tests.
	APIBase     string
	ChatBase    string
	ProxseeBase string

	once   sync.Once
	authed *http.Client
}

func (c *Client) base() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// api returns an http.Client that sets the Authorization header from a static oauth2 token.
func (c *Client) api() *http.Client {
	c.once.Do(func() {
		bearer := c.Bearer
		if bearer == "" {
			bearer = PublicBearer
		}
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"})
		base := c.base()
		c.authed = &http.Client{
			Transport: &oauth2.Transport{Source: src, Base: base.Transport},
			Timeout:   base.Timeout,
		}
	})
	return c.authed
}

func (c *Client) apiURL(path string) string {
	b := c.APIBase
	if b == "" {
		b = defaultAPIBase
	}
	return b + path
}

// graphQL issues a GET against a GraphQL operation and decodes the response into out.
func (c *Client) graphQL(ctx context.Context, path string, variables, features any, out any) error {
	vars, err := json.Marshal(variables)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("variables", string(vars))
	if features != nil {
		feats, err := json.Marshal(features)
		if err != nil {
			return err
		}
		q.Set("features", string(feats))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(path)+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return c.doAPI(ctx, req, out)
}

// doAPI sends an authenticated request, mapping auth failures to ErrUnauthorized and
// dropping the cached guest token so the next call activates a fresh one.
func (c *Client) doAPI(ctx context.Context, req *http.Request, out any) error {
	if c.Guest != nil {
		tok, err := c.Guest.Get(ctx)
		if err != nil {
			return fmt.Errorf("guest token: %w", err)
		}
		req.Header.Set("x-guest-token", tok)
	}
	resp, err := c.api().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		serr := newStatusError(resp)
		if serr.Unauthorized() && c.Guest != nil {
			c.Guest.Invalidate()
		}
		return serr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doPlain sends an unauthenticated JSON request (periscope endpoints).
func (c *Client) doPlain(req *http.Request, out any) error {
	resp, err := c.base().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return newStatusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is a non-200 upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}

// Unauthorized reports whether the response rejected our credentials.
func (e *StatusError) Unauthorized() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// Is lets errors.Is(err, ErrUnauthorized) match auth failures.
func (e *StatusError) Is(target error) bool {
	return target == ErrUnauthorized && e.Unauthorized()
}

func newStatusError(resp *http.Response) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &StatusError{Code: resp.StatusCode, Body: string(b)}
}
