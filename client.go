// Package oso is the client library for the Oso Cloud authorization
// API: it manages policy and facts over HTTPS and delegates
// authorization decisions to the service. All decisions happen
// remotely; nothing is evaluated or cached locally.
package oso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/osohq/go-oso-cloud/config"
	"github.com/osohq/go-oso-cloud/internal"
	"github.com/osohq/go-oso-cloud/internal/backoff"
	"github.com/osohq/go-oso-cloud/log"
)

// httpDoer is the seam between the request pipeline and the transport;
// *http.Client satisfies it, and tests inject stand-ins.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues operations against one Oso Cloud instance. A single
// Client is safe for concurrent use; its only mutable state is the
// consistency offset, which is last-writer-wins by design (the server
// issues monotonically comparable tokens).
type Client struct {
	url        string
	apiKey     string
	userAgent  string
	maxRetries int
	backoff    backoff.Backoff
	httpClient httpDoer

	// lastOffset is the consistency offset from the most recent
	// mutation, attached to every subsequent request so reads observe
	// prior writes. Guarded by offsetMu: assignments must never be
	// observed torn.
	offsetMu   sync.Mutex
	lastOffset string
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithHTTPClient replaces the default transport (30s overall timeout).
// Cancellation and timeout policy live entirely in the transport and
// the per-call context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries bounds the retry loop, counting the first attempt.
// Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxRetries = n
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for the instance at url, authenticating
// with apiKey.
func NewClient(url string, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:        strings.TrimSuffix(url, "/"),
		apiKey:     apiKey,
		userAgent:  internal.UserAgent(),
		maxRetries: config.DefaultMaxRetries,
		backoff:    backoff.Default(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewClientFromEnvironment creates a client from the OSO_* environment
// variables. OSO_AUTH is required; everything else has defaults.
func NewClientFromEnvironment(opts ...Option) (*Client, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	if settings.Auth == "" {
		return nil, errors.New("OSO_AUTH must be set")
	}
	opts = append([]Option{WithMaxRetries(settings.MaxRetries)}, opts...)
	return NewClient(settings.URL, settings.Auth, opts...), nil
}

// retryableStatuses are the transient failures worth retrying.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// retryablePaths are the read-style endpoints that are logically
// idempotent queries even though they go out as POSTs. Retries are
// scoped to these: a transient status anywhere else fails immediately.
var retryablePaths = map[string]bool{
	"/authorize":           true,
	"/authorize_resources": true,
	"/list":                true,
	"/actions":             true,
	"/query":               true,
}

// apiVersion is the value of the X-OsoApiVersion request header.
const apiVersion = "0"

// offsetHeader carries the consistency offset in both directions.
const offsetHeader = "OsoOffset"

// do executes one logical operation: build the request, send it with
// retries where eligible, capture the consistency offset on mutation
// success, and decode the JSON response into out (when non-nil). All
// failures come back as *ApiError.
func (c *Client) do(
	ctx context.Context,
	method string, path string, params url.Values,
	body interface{}, out interface{},
	mutating bool,
) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &ApiError{Message: errors.Wrap(err, "unable to encode request").Error()}
		}
	}

	reqURL := c.url + "/api" + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	// one id per logical operation, shared by its retries
	requestID := uuid.NewString()

	attempts := 1
	if retryablePaths[path] {
		attempts = c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Duration(attempt - 1)
			log.Debug("retrying %s %s in %v (attempt %d of %d)",
				method, path, delay, attempt+1, attempts)
			select {
			case <-ctx.Done():
				return &ApiError{Message: ctx.Err().Error()}
			case <-time.After(delay):
			}
		}
		done, err := c.attempt(ctx, method, reqURL, requestID, payload, out, mutating)
		if done {
			return err
		}
		lastErr = err
	}
	log.Debug("giving up on %s %s after %d attempts: %v", method, path, attempts, lastErr)
	return lastErr
}

// attempt sends the request once. done is false only for failures the
// retry loop may try again (transport errors and retryable statuses);
// the error is always a *ApiError when non-nil.
func (c *Client) attempt(
	ctx context.Context,
	method, reqURL, requestID string,
	payload []byte, out interface{},
	mutating bool,
) (done bool, err error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return true, &ApiError{Message: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-OsoApiVersion", apiVersion)
	req.Header.Set("X-Request-ID", requestID)
	if offset := c.offset(); offset != "" {
		req.Header.Set(offsetHeader, offset)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &ApiError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, &ApiError{
			Message: errors.Wrap(err, "unable to read response body").Error(),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return !retryableStatuses[resp.StatusCode],
			&ApiError{Message: errorMessage(resp.StatusCode, raw)}
	}

	if mutating {
		// overwrite unconditionally: an absent header resets the offset
		c.setOffset(resp.Header.Get(offsetHeader))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return true, &ApiError{
				Message: errors.Wrap(err, "unable to decode response").Error(),
			}
		}
	}
	return true, nil
}

// errorMessage extracts the server's message field from an error body,
// falling back to the raw status and body text.
func errorMessage(status int, body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	return fmt.Sprintf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
}

func (c *Client) offset() string {
	c.offsetMu.Lock()
	defer c.offsetMu.Unlock()
	return c.lastOffset
}

func (c *Client) setOffset(offset string) {
	c.offsetMu.Lock()
	defer c.offsetMu.Unlock()
	c.lastOffset = offset
}
