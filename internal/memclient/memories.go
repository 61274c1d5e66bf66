package memclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/memctl/memctl-sub002/pkg/api"
)

// Ping checks that the API is reachable. It bypasses the cache and is not
// reported to the observer; health checks are housekeeping, not activity.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setConnection(false)
		return fmt.Errorf("memory API unreachable: %w", err)
	}
	defer resp.Body.Close()
	c.setConnection(true)

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

// GetMemory fetches a single memory by key.
func (c *Client) GetMemory(ctx context.Context, key string) (*api.Memory, error) {
	body, err := c.get(ctx, "/memories/"+url.PathEscape(key))
	if err != nil {
		return nil, err
	}
	var m api.Memory
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("decode memory: %w", err)
	}
	return &m, nil
}

// ListMemories fetches up to limit memories. limit <= 0 lets the server
// choose.
func (c *Client) ListMemories(ctx context.Context, limit int) (*api.MemoryListResponse, error) {
	path := "/memories"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var list api.MemoryListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode memory list: %w", err)
	}
	return &list, nil
}

// SearchMemories performs a server-side search. Results are cached like any
// other GET and invalidated by writes under /memories.
func (c *Client) SearchMemories(ctx context.Context, query string, limit int) ([]api.Memory, error) {
	path := "/memories/search?q=" + url.QueryEscape(query)
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var res api.SearchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return res.Results, nil
}

// StoreMemory creates or replaces a memory.
func (c *Client) StoreMemory(ctx context.Context, req api.StoreRequest) (*api.Memory, error) {
	var m api.Memory
	if err := c.do(ctx, http.MethodPost, "/memories", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMemory removes a memory by key.
func (c *Client) DeleteMemory(ctx context.Context, key string) error {
	return c.do(ctx, http.MethodDelete, "/memories/"+url.PathEscape(key), nil, nil)
}

// ExportMemories fetches the markdown export. The body is passed through
// verbatim; the server declares text/markdown.
func (c *Client) ExportMemories(ctx context.Context) (*Payload, error) {
	return c.FetchDocument(ctx, "/memories/export")
}
