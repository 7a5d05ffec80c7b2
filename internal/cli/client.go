package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client speaks the shop's JSON API. Mutating calls can be flagged as
// early data, which the server treats as arriving over a 0-RTT channel.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Register(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/register", nil, &out, false)
	return out, err
}

func (c *Client) Transfer(ctx context.Context, userID string, amount int64, early bool) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/api/transfer", map[string]any{
		"user_id": userID,
		"amount":  amount,
	}, &out, early)
	return out, err
}

func (c *Client) Redeem(ctx context.Context, userID string, early bool) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/api/redeem", map[string]any{
		"user_id": userID,
	}, &out, early)
	return out, err
}

func (c *Client) Buy(ctx context.Context, userID, item string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/api/buy", map[string]any{
		"user_id": userID,
		"item":    item,
	}, &out, false)
	return out, err
}

func (c *Client) Shop(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/api/shop", nil, &out, false)
	return out, err
}

func (c *Client) Inventory(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/api/inventory?user_id="+url.QueryEscape(userID), nil, &out, false)
	return out, err
}

func (c *Client) Balance(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/api/balance?user_id="+url.QueryEscape(userID), nil, &out, false)
	return out, err
}

func (c *Client) Progress(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/api/progress?user_id="+url.QueryEscape(userID), nil, &out, false)
	return out, err
}

func (c *Client) Total(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/total?user_id="+url.QueryEscape(userID), nil, &out, false)
	return out, err
}

func (c *Client) Flag(ctx context.Context, userID string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/flag?user_id="+url.QueryEscape(userID), nil, &out, false)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, early bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if early {
		req.Header.Set("Early-Data", "1")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
