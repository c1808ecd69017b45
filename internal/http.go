package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pkgerrs "github.com/radle-project/radle-go/pkg/errors"
)

// UsageRecorder receives one record per outbound HTTP response, success or
// failure. The rate-limit monitor implements it.
type UsageRecorder interface {
	Record(used, remaining, reset float64, isFailure bool, endpoint, payload string)
}

// Response is the transport-level result of an authenticated call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RateLimitConfig controls how requests are throttled before reaching Reddit.
type RateLimitConfig struct {
	// RequestsPerMinute caps steady-state throughput. Defaults to 60 if zero.
	RequestsPerMinute float64
	// Burst allows short spikes above the steady-state rate. Defaults to 10 if zero.
	Burst int
}

const (
	defaultRequestsPerMinute = 60
	defaultRateLimitBurst    = 10
)

// Client performs authenticated calls against the Reddit OAuth API. Every
// request carries the current bearer token; a 401 response triggers exactly
// one token refresh and one replay. Every response, including the failed
// first attempt, is forwarded to the usage recorder.
type Client struct {
	client    *http.Client
	auth      *Authenticator
	baseURL   *url.URL
	userAgent string
	recorder  UsageRecorder
	logger    *slog.Logger

	limiter        *rate.Limiter
	mu             sync.Mutex
	forceWaitUntil time.Time
}

// NewClient returns an authenticated Reddit API client rooted at baseURL
// (normally https://oauth.reddit.com/).
func NewClient(httpClient *http.Client, auth *Authenticator, baseURL, userAgent string, recorder UsageRecorder, rateCfg *RateLimitConfig, logger *slog.Logger) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "BaseURL", Message: fmt.Sprintf("failed to parse base URL: %v", err)}
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	if rateCfg == nil {
		rateCfg = &RateLimitConfig{}
	}

	return &Client{
		client:    httpClient,
		auth:      auth,
		baseURL:   parsedURL,
		userAgent: userAgent,
		recorder:  recorder,
		logger:    logger,
		limiter:   buildLimiter(*rateCfg),
	}, nil
}

// Get performs an authenticated GET against a path relative to the base URL.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// PostForm performs an authenticated form POST against a relative path.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, form)
}

// IsConnected probes the identity endpoint. Any non-200 outcome triggers a
// single refresh attempt, and connectivity is reported true only when the
// probe succeeded or that refresh did. This doubles as the lazy-recovery
// trigger; there is no separate health check.
func (c *Client) IsConnected(ctx context.Context) bool {
	resp, err := c.attempt(ctx, http.MethodGet, "api/v1/me", nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		return true
	}
	return c.auth.Refresh(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) (*Response, error) {
	resp, err := c.attempt(ctx, method, path, form)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if !c.auth.Refresh(ctx) {
			return resp, &pkgerrs.AuthError{Code: pkgerrs.CodeAuthenticationFailed, StatusCode: resp.StatusCode}
		}
		resp, err = c.attempt(ctx, method, path, form)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return resp, &pkgerrs.AuthError{Code: pkgerrs.CodeAuthenticationFailed, StatusCode: resp.StatusCode}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, &pkgerrs.APIError{StatusCode: resp.StatusCode, Message: "request failed"}
	}
	return resp, nil
}

// attempt performs a single HTTP round trip with the current bearer token,
// applies Retry-After/remaining-based deferral, and records usage.
func (c *Client) attempt(ctx context.Context, method, path string, form url.Values) (*Response, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return nil, &pkgerrs.RequestError{Operation: method + " " + path, Err: err}
	}

	u, err := c.baseURL.Parse(path)
	if err != nil {
		return nil, &pkgerrs.RequestError{Operation: method + " " + path, Err: err}
	}

	var body io.Reader
	payload := ""
	if form != nil {
		payload = form.Encode()
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, &pkgerrs.RequestError{Operation: method + " " + path, URL: u.String(), Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.auth.Token())
	req.Header.Set("User-Agent", c.userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	httpResp, err := c.client.Do(req)
	if err != nil {
		if c.recorder != nil {
			c.recorder.Record(0, 0, 0, true, path, payload)
		}
		return nil, &pkgerrs.RequestError{Operation: method + " " + path, URL: u.String(), Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &pkgerrs.RequestError{Operation: method + " " + path, URL: u.String(), Err: err}
	}

	c.applyRateHeaders(httpResp)

	if c.recorder != nil {
		used := headerFloat(httpResp.Header, "X-Ratelimit-Used")
		remaining := headerFloat(httpResp.Header, "X-Ratelimit-Remaining")
		reset := headerFloat(httpResp.Header, "X-Ratelimit-Reset")
		c.recorder.Record(used, remaining, reset, httpResp.StatusCode >= 400, path, payload)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

func buildLimiter(cfg RateLimitConfig) *rate.Limiter {
	requestsPerMinute := cfg.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}

	limitPerSecond := rate.Limit(requestsPerMinute / 60.0)
	if limitPerSecond <= 0 {
		limitPerSecond = rate.Limit(1)
	}

	return rate.NewLimiter(limitPerSecond, burst)
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if err := c.waitForForcedDelay(ctx); err != nil {
		return err
	}

	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) waitForForcedDelay(ctx context.Context) error {
	for {
		c.mu.Lock()
		waitUntil := c.forceWaitUntil
		c.mu.Unlock()

		if waitUntil.IsZero() {
			return nil
		}

		now := time.Now()
		if !now.Before(waitUntil) {
			c.clearForcedDelay(waitUntil)
			return nil
		}

		timer := time.NewTimer(waitUntil.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			c.clearForcedDelay(waitUntil)
		}
	}
}

func (c *Client) clearForcedDelay(previous time.Time) {
	c.mu.Lock()
	if previous.Equal(c.forceWaitUntil) {
		c.forceWaitUntil = time.Time{}
	}
	c.mu.Unlock()
}

// applyRateHeaders defers upcoming requests when Reddit signals exhaustion
// via Retry-After or a near-zero remaining quota.
func (c *Client) applyRateHeaders(resp *http.Response) {
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.ParseFloat(retryAfter, 64); err == nil && seconds > 0 {
			c.deferRequests(time.Duration(seconds * float64(time.Second)))
		}
	}

	remaining := headerFloat(resp.Header, "X-Ratelimit-Remaining")
	reset := headerFloat(resp.Header, "X-Ratelimit-Reset")
	if reset <= 0 {
		return
	}

	if resp.Header.Get("X-Ratelimit-Remaining") != "" && remaining <= 1 {
		c.deferRequests(time.Duration(reset * float64(time.Second)))
	}
}

func (c *Client) deferRequests(d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)

	c.mu.Lock()
	if until.After(c.forceWaitUntil) {
		c.forceWaitUntil = until
	}
	c.mu.Unlock()
}

func headerFloat(h http.Header, key string) float64 {
	v := h.Get(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}
