package refstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// Client talks to a key/value documentation store over HTTP. Reference
// documentation is stored as string values under path-like keys, e.g.
// "refs/netstandard/System.Runtime.xml".
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		backoff: Backoff,
	}
}

// Document is one stored file.
type Document struct {
	Key  string
	Data []byte
}

// nodeRequest is the body for PUT /kv/{key}.
type nodeRequest struct {
	Value     any    `json:"value"`
	MergeMode string `json:"merge_mode,omitempty"`
	Source    string `json:"source,omitempty"`
}

// nodeResponse is a single node from GET /kv/{key} or a prefix scan.
type nodeResponse struct {
	Key   string `json:"key_path"`
	Value any    `json:"value"`
}

// Put stores data under key, replacing any previous value.
func (c *Client) Put(ctx context.Context, key string, data []byte) error {
	body, err := json.Marshal(nodeRequest{
		Value:     string(data),
		MergeMode: "replace",
		Source:    "docinherit",
	})
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}
	return c.withRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.keyURL(key), bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := c.do(httpReq)
		if err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return statusError("put "+key, resp)
		}
		return nil
	})
}

// Get retrieves a stored document. A missing key returns (nil, nil).
func (c *Client) Get(ctx context.Context, key string) (*Document, error) {
	var doc *Document
	err := c.withRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.keyURL(key), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := c.do(httpReq)
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return statusError("get "+key, resp)
		}

		var node nodeResponse
		if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
			return fmt.Errorf("decode node: %w", err)
		}
		if node.Key == "" {
			node.Key = key
		}
		doc, err = toDocument(node)
		return err
	})
	return doc, err
}

// List does a prefix scan and returns every document stored under prefix.
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]Document, error) {
	u := c.keyURL(prefix) + "/*"
	if limit > 0 {
		u += "?limit=" + url.QueryEscape(fmt.Sprintf("%d", limit))
	}

	var docs []Document
	err := c.withRetry(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		resp, err := c.do(httpReq)
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusError("list "+prefix, resp)
		}

		var result struct {
			Nodes []nodeResponse `json:"nodes"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode nodes: %w", err)
		}
		docs = docs[:0]
		for _, n := range result.Nodes {
			d, err := toDocument(n)
			if err != nil {
				return err
			}
			docs = append(docs, *d)
		}
		return nil
	})
	return docs, err
}

// FetchAll lists prefix and keeps only .xml documents.
func (c *Client) FetchAll(ctx context.Context, prefix string) ([]Document, error) {
	docs, err := c.List(ctx, prefix, 0)
	if err != nil {
		return nil, err
	}
	out := docs[:0]
	for _, d := range docs {
		if strings.EqualFold(path.Ext(d.Key), ".xml") {
			out = append(out, d)
		}
	}
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) keyURL(key string) string {
	return c.baseURL + "/kv/" + strings.TrimLeft(key, "/")
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	return resp, nil
}

func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == MaxRetries-1 {
			break
		}
		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func statusError(op string, resp *http.Response) error {
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	err := fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(respBody)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return &RetryableError{Err: err, StatusCode: resp.StatusCode}
	}
	return err
}

func toDocument(n nodeResponse) (*Document, error) {
	s, ok := n.Value.(string)
	if !ok {
		return nil, fmt.Errorf("node %s: value is %T, want string", n.Key, n.Value)
	}
	return &Document{Key: n.Key, Data: []byte(s)}, nil
}
