// Package rpc is a minimal JSON-RPC 1.0 client for a chain node. Only
// getblockcount is needed; it feeds the stall monitor.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// ErrRPC is wrapped by errors the node reports in its error object.
var ErrRPC = errors.New("rpc: node error")

// Client calls a node's JSON-RPC endpoint with basic auth.
type Client struct {
	url      string
	user     string
	password string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New returns a client for url.
func New(url, user, password string, opts ...Option) *Client {
	c := &Client{
		url:      url,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Call invokes method and decodes its result into out.
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(request{JSONRPC: "1.0", ID: "sentinel", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("rpc: encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rpc: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" || c.password != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("rpc: read %s response: %w", method, err)
	}

	var decoded response
	jsonErr := json.Unmarshal(data, &decoded)
	if jsonErr == nil && len(decoded.Error) > 0 && string(decoded.Error) != "null" {
		return fmt.Errorf("%w: %s: %s", ErrRPC, method, decoded.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc: %s: HTTP %d", method, resp.StatusCode)
	}
	if jsonErr != nil {
		return fmt.Errorf("rpc: decode %s response: %w", method, jsonErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("rpc: decode %s result: %w", method, err)
	}
	return nil
}

// BlockCount returns the node's current chain height.
func (c *Client) BlockCount(ctx context.Context) (int64, error) {
	var height int64
	if err := c.Call(ctx, "getblockcount", nil, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// CurrentHeight implements stall.HeightSource.
func (c *Client) CurrentHeight(ctx context.Context) (int64, error) {
	return c.BlockCount(ctx)
}
