package apiclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	// DefaultCacheSize is the GET response cache capacity.
	DefaultCacheSize = 256

	// DefaultCacheTTL is how long a cached GET response stays fresh.
	DefaultCacheTTL = 30 * time.Second
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsRetryable classifies a request failure: network errors, 5xx and 429
// responses are transient; other HTTP errors are terminal. Used as the task
// policy classifier for plugin REST calls.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Timeouts, connection resets, DNS failures.
	return true
}

// Request describes one REST call.
type Request struct {
	Method  string
	URL     string
	Service string // service type; "jellyfin" switches the auth header
	APIKey  string
	Query   url.Values
	Body    any  // JSON-encoded for POST/PUT
	NoCache bool // bypass the GET cache
}

// Stats holds cumulative cache counters.
type Stats struct {
	CacheHits   uint64
	CacheMisses uint64
}

// Client is a reusable REST client shared by all plugins.
type Client struct {
	http  *http.Client
	log   *logrus.Logger
	cache *expirable.LRU[string, any]

	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// NewClient creates a client with the given exchange timeout. Zero uses
// DefaultTimeout.
func NewClient(timeout time.Duration, log *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		http:  &http.Client{Timeout: timeout},
		log:   log,
		cache: expirable.NewLRU[string, any](DefaultCacheSize, nil, DefaultCacheTTL),
	}
}

// Get issues a GET request and returns the decoded JSON body.
func (c *Client) Get(ctx context.Context, req Request) (any, error) {
	req.Method = http.MethodGet
	return c.Do(ctx, req)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, req Request) (any, error) {
	req.Method = http.MethodPost
	return c.Do(ctx, req)
}

// Put issues a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, req Request) (any, error) {
	req.Method = http.MethodPut
	return c.Do(ctx, req)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, req Request) (any, error) {
	req.Method = http.MethodDelete
	return c.Do(ctx, req)
}

// Do executes the request and decodes the JSON response. 201/204 and empty
// bodies decode to {"status": "success"}.
func (c *Client) Do(ctx context.Context, req Request) (any, error) {
	fullURL := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(fullURL, "?") {
			sep = "&"
		}
		fullURL += sep + req.Query.Encode()
	}

	cacheable := req.Method == http.MethodGet && !req.NoCache
	key := cacheKey(req, fullURL)
	if cacheable {
		if cached, ok := c.cache.Get(key); ok {
			c.cacheHits.Add(1)
			return cached, nil
		}
		c.cacheMisses.Add(1)
	}

	var body io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.APIKey != "" {
		if strings.EqualFold(req.Service, "jellyfin") {
			httpReq.Header.Set("X-Emby-Token", req.APIKey)
		} else {
			httpReq.Header.Set("X-Api-Key", req.APIKey)
		}
	}

	c.log.WithFields(logrus.Fields{
		"method":  req.Method,
		"url":     req.URL,
		"service": req.Service,
	}).Debug("API request")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.WithFields(logrus.Fields{
			"method": req.Method,
			"url":    req.URL,
			"status": resp.StatusCode,
		}).Error("API request failed")
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 500)}
	}

	var decoded any
	switch {
	case resp.StatusCode == http.StatusCreated, resp.StatusCode == http.StatusNoContent, len(raw) == 0:
		decoded = map[string]any{"status": "success"}
	default:
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if cacheable {
		c.cache.Add(key, decoded)
	}

	return decoded, nil
}

// InvalidateCache drops every cached GET response. Plugins call it after
// writes that change server state.
func (c *Client) InvalidateCache() {
	c.cache.Purge()
}

// Stats returns cumulative cache counters for observability.
func (c *Client) Stats() Stats {
	return Stats{
		CacheHits:   c.cacheHits.Load(),
		CacheMisses: c.cacheMisses.Load(),
	}
}

// cacheKey scopes cached responses to (service, credential, URL) so two
// plugins hitting the same URL with different API keys never see each
// other's bodies. The key itself carries only a digest of the credential.
func cacheKey(req Request, fullURL string) string {
	digest := sha256.Sum256([]byte(req.APIKey))
	return req.Service + "|" + hex.EncodeToString(digest[:8]) + "|" + fullURL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
