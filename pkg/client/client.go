package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Client talks to a running shellcore daemon over its bridge API. It exists
// for the CLI subcommands and for embedders; the UI shell speaks the same
// protocol directly.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8370/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new shellcore API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Execute submits a validated command for execution and returns the record id.
func (c *Client) Execute(ctx context.Context, command string, args []string) (string, error) {
	body, err := json.Marshal(ExecuteRequest{Command: command, Args: args})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	var out ExecuteResponse
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/execute", body, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Cancel requests termination of a running process by id.
func (c *Client) Cancel(ctx context.Context, id string) error {
	u := c.baseURL + "/cancel?id=" + url.QueryEscape(id)
	return c.doJSON(ctx, http.MethodPost, u, nil, nil)
}

// Status fetches the record projection for id.
func (c *Client) Status(ctx context.Context, id string) (ProcessView, error) {
	var out ProcessView
	u := c.baseURL + "/status?id=" + url.QueryEscape(id)
	if err := c.doJSON(ctx, http.MethodGet, u, nil, &out); err != nil {
		return ProcessView{}, err
	}
	return out, nil
}

// List fetches projections of all registry records.
func (c *Client) List(ctx context.Context) ([]ProcessView, error) {
	var out []ProcessView
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/list", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var er ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			return fmt.Errorf("daemon rejected request: %s", er.Error)
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
