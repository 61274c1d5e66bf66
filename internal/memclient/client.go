// Package memclient is the typed HTTP client for the remote memory API.
//
// Every GET goes through the response cache: unexpired rows are served
// without a network call, expired rows are revalidated with If-None-Match,
// and on network failure a row within the stale grace window is served as a
// degraded answer. Mutations always hit the network and then invalidate the
// cached rows that could contain the resource.
package memclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	"github.com/memctl/memctl-sub002/internal/cache"
	"github.com/memctl/memctl-sub002/pkg/api"
)

// Freshness labels where the data of the most recent read came from.
type Freshness string

const (
	// FreshnessFresh: a live 200 response.
	FreshnessFresh Freshness = "fresh"
	// FreshnessCached: an unexpired cache row, or a 304 revalidation.
	FreshnessCached Freshness = "cached"
	// FreshnessStale: an expired row served because the network was down.
	FreshnessStale Freshness = "stale"
)

// ErrRevalidateMiss means the server answered 304 but the cache no longer
// holds the row the conditional request was based on (e.g. after Clear).
// There is nothing to serve; the read is retried without the condition.
var ErrRevalidateMiss = errors.New("not modified, but no cached row to serve")

// Observer is the recording hook fed by every tracked API call. The client
// itself keeps no session state.
type Observer func(method, path string, body []byte)

// Config configures a Client.
type Config struct {
	BaseURL     string
	Token       string
	OrgSlug     string
	ProjectSlug string
	CacheTTL    time.Duration
	StaleGrace  time.Duration
	HTTPTimeout time.Duration
}

// Client is the revalidating memory API client.
type Client struct {
	baseURL     string
	token       string
	orgSlug     string
	projectSlug string
	httpClient  *http.Client
	cache       *cache.Cache
	staleGrace  time.Duration
	group       singleflight.Group

	mu            sync.Mutex
	observer      Observer
	lastFreshness Freshness
	connectionOK  bool
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.StaleGrace <= 0 {
		cfg.StaleGrace = 5 * time.Minute
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		orgSlug:      cfg.OrgSlug,
		projectSlug:  cfg.ProjectSlug,
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		cache:        cache.New(cfg.CacheTTL),
		staleGrace:   cfg.StaleGrace,
		connectionOK: true,
	}
}

// SetObserver installs the recording hook. Pass nil to remove it.
func (c *Client) SetObserver(fn Observer) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Cache exposes the response cache so callers can clear or invalidate it.
func (c *Client) Cache() *cache.Cache {
	return c.cache
}

// LastFreshness returns the freshness of the most recently completed read.
func (c *Client) LastFreshness() Freshness {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFreshness
}

// ConnectionOK reports whether the last network attempt succeeded.
func (c *Client) ConnectionOK() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionOK
}

type fetchResult struct {
	data      []byte
	freshness Freshness
}

// get performs a cached, revalidating GET and returns the response body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	key := "GET:" + path
	c.notify(http.MethodGet, path, nil)

	if data, _, ok := c.cache.Get(key); ok {
		c.setFreshness(FreshnessCached)
		return data, nil
	}

	// Concurrent misses for the same key share one fetch.
	v, err, _ := c.group.Do(key, func() (any, error) {
		res, err := c.fetch(ctx, key, path, true)
		if errors.Is(err, ErrRevalidateMiss) {
			res, err = c.fetch(ctx, key, path, false)
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	res := v.(*fetchResult)
	c.setFreshness(res.freshness)
	return res.data, nil
}

// fetch issues one GET over the network. When conditional is set and an
// etag is cached for key (expired rows included), it is sent as
// If-None-Match.
func (c *Client) fetch(ctx context.Context, key, path string, conditional bool) (*fetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	if conditional {
		if etag := c.cache.Etag(key); etag != "" {
			req.Header.Set("If-None-Match", etag)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setConnection(false)
		if data, _, ok := c.cache.GetStale(key, c.staleGrace); ok {
			log.Printf("[memclient] network failure, serving stale %s: %v", key, err)
			return &fetchResult{data: data, freshness: FreshnessStale}, nil
		}
		return nil, fmt.Errorf("memory API unreachable: %w", err)
	}
	defer resp.Body.Close()
	c.setConnection(true)

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if !c.cache.Touch(key, 0) {
			return nil, ErrRevalidateMiss
		}
		data, _, _ := c.cache.Get(key)
		return &fetchResult{data: data, freshness: FreshnessCached}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		c.cache.Set(key, body, resp.Header.Get("ETag"), 0)
		return &fetchResult{data: body, freshness: FreshnessFresh}, nil

	default:
		return nil, c.apiError(resp)
	}
}

// do performs a mutating call and invalidates the cached rows covering the
// target resource. out, when non-nil, receives the decoded JSON response.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var raw []byte
	var body io.Reader
	if in != nil {
		var err error
		raw, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.notify(method, path, raw)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setConnection(false)
		return fmt.Errorf("memory API unreachable: %w", err)
	}
	defer resp.Body.Close()
	c.setConnection(true)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}

	// The next read of anything under this resource must revisit the
	// network.
	c.invalidateFor(path)

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Payload is the result of a generic document read, as handed to the tool
// layer. IsJSON is set only when the body is a JSON object or array; a
// malformed body under a JSON content type degrades to plain text instead
// of failing.
type Payload struct {
	Data      []byte
	IsJSON    bool
	Freshness Freshness
}

// FetchDocument performs a revalidating GET of path and classifies the
// payload for the consumer.
func (c *Client) FetchDocument(ctx context.Context, path string) (*Payload, error) {
	data, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	v := gjson.ParseBytes(data)
	return &Payload{
		Data:      data,
		IsJSON:    gjson.ValidBytes(data) && (v.IsObject() || v.IsArray()),
		Freshness: c.LastFreshness(),
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.orgSlug != "" {
		req.Header.Set("X-Org-Slug", c.orgSlug)
	}
	if c.projectSlug != "" {
		req.Header.Set("X-Project-Slug", c.projectSlug)
	}
}

// apiError extracts the message from a JSON {"error": ...} body when the
// server sent one.
func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return fmt.Errorf("memory API returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("memory API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// invalidateFor drops the row for path and every list/search row under the
// same top-level resource.
func (c *Client) invalidateFor(path string) {
	c.cache.Invalidate("GET:" + path)
	if seg := topSegment(path); seg != "" {
		c.cache.InvalidatePrefix("GET:/" + seg)
	}
}

// topSegment returns the first path segment, without query: "/memories/foo"
// yields "memories".
func topSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	return path
}

func (c *Client) notify(method, path string, body []byte) {
	c.mu.Lock()
	fn := c.observer
	c.mu.Unlock()
	if fn != nil {
		fn(method, path, body)
	}
}

func (c *Client) setFreshness(f Freshness) {
	c.mu.Lock()
	c.lastFreshness = f
	c.mu.Unlock()
}

func (c *Client) setConnection(ok bool) {
	c.mu.Lock()
	c.connectionOK = ok
	c.mu.Unlock()
}
