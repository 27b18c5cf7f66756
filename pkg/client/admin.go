package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

// Client calls the serial maintenance endpoints.
type Client struct {
	base       string
	actorID    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithActor sends actorID as X-Actor-Id, used as the import's creator.
func WithActor(actorID string) Option {
	return func(cl *Client) { cl.actorID = actorID }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{base: strings.TrimRight(baseURL, "/"), httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats mirrors GET /v1/serials/stats.
type Stats struct {
	Category     string            `json:"category"`
	Stored       *token.UsageStats `json:"stored"`
	Live         token.PoolStats   `json:"live"`
	Reservations []token.Token     `json:"reservations"`
	Sessions     int               `json:"sessions"`
}

// LowStock mirrors GET /v1/serials/low-stock.
type LowStock struct {
	Category  string `json:"category"`
	Rule      string `json:"rule"`
	Low       bool   `json:"low"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Consumed  int    `json:"consumed"`
	Total     int    `json:"total"`
}

func (c *Client) Import(ctx context.Context, in token.ImportInput) (*token.ImportResult, error) {
	var out token.ImportResult
	if err := c.post(ctx, "/v1/serials/import", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context, category string) (*Stats, error) {
	var out Stats
	if err := c.get(ctx, "/v1/serials/stats?category="+url.QueryEscape(category), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LowStock(ctx context.Context, category string) (*LowStock, error) {
	var out LowStock
	if err := c.get(ctx, "/v1/serials/low-stock?category="+url.QueryEscape(category), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	if c.actorID != "" {
		req.Header.Set("X-Actor-Id", c.actorID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp)
	}
	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
