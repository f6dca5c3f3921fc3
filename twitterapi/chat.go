package twitterapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ChatPage is one page of a room's chat (caption) history. An empty Cursor marks the last page.
type ChatPage struct {
	Messages []json.RawMessage `json:"messages"`
	Cursor   string            `json:"cursor"`
}

func (c *Client) chatURL() string {
	if c.ChatBase != "" {
		return c.ChatBase
	}
	return defaultChatBase
}

func (c *Client) proxseeURL() string {
	if c.ProxseeBase != "" {
		return c.ProxseeBase
	}
	return defaultProxseeBase
}

func postJSON(ctx context.Context, url string, body any) (*http.Request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// ChatHistory fetches the page of room history that follows cursor ("" for the first page).
func (c *Client) ChatHistory(ctx context.Context, room, accessToken, cursor string) (*ChatPage, error) {
	req, err := postJSON(ctx, c.chatURL()+chatHistoryPath, map[string]string{
		"room":         room,
		"access_token": accessToken,
		"cursor":       cursor,
	})
	if err != nil {
		return nil, err
	}
	var page ChatPage
	if err := c.doPlain(req, &page); err != nil {
		return nil, fmt.Errorf("chat history %s: %w", room, err)
	}
	return &page, nil
}

// AccessChatPublic exchanges a stream chat token for the access token the history
// endpoint expects.
func (c *Client) AccessChatPublic(ctx context.Context, chatToken string) (string, error) {
	if chatToken == "" {
		return "", errors.New("chat token empty")
	}
	req, err := postJSON(ctx, c.proxseeURL()+accessChatPath, map[string]string{"chat_token": chatToken})
	if err != nil {
		return "", err
	}
	var body struct {
		AccessToken string `json:"access_token"`
		Endpoint    string `json:"endpoint"`
	}
	if err := c.doPlain(req, &body); err != nil {
		return "", fmt.Errorf("access chat: %w", err)
	}
	if body.AccessToken == "" {
		return "", errors.New("empty access_token in accessChatPublic response")
	}
	return body.AccessToken, nil
}
