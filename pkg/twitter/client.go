package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/logger"
)

// DefaultBaseURL is the production API host
const DefaultBaseURL = "https://api.twitter.com"

const maxErrorBody = 4 << 10

// Options configures a Client
type Options struct {
	BaseURL     string
	BearerToken string
	UserAgent   string
	Timeout     time.Duration
	Logger      logger.Logger
	// HTTPClient overrides the transport, mainly for tests
	HTTPClient *http.Client
	// Observer receives the outcome of every call. Status is 0 on a
	// transport failure.
	Observer func(endpoint Endpoint, status int, duration time.Duration)
}

// Client calls the Twitter API with bearer token authentication. It does not
// retry or throttle: callers pace requests through a rate gate and decide
// what to do with errors.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
	logger     logger.Logger
	observe    func(Endpoint, int, time.Duration)
}

// NewClient creates a new API client
func NewClient(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.GetLogger()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "twcrawl/1.0"
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      opts.BearerToken,
		userAgent:  userAgent,
		logger:     log,
		observe:    opts.Observer,
	}
}

// Call performs one GET request and decodes the response envelope.
//
// Status mapping: 401 is an auth error, 404 not found, 429 rate limit, 5xx a
// server error and any other non-2xx an API error. Every error carries the
// status code and the x-rate-limit-* headers.
func (c *Client) Call(ctx context.Context, endpoint Endpoint, params url.Values) (*Response, error) {
	reqURL := c.baseURL + "/" + string(endpoint)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeAPI,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.report(endpoint, 0, duration)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.ErrorWithFields("API request failed", map[string]interface{}{
			"endpoint": string(endpoint),
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, &errs.Error{
			Type:    errs.ErrorTypeNetwork,
			Message: fmt.Sprintf("network error: %v", err),
		}
	}
	defer resp.Body.Close()

	c.report(endpoint, resp.StatusCode, duration)
	logger.LogRequest(c.logger, string(endpoint), resp.StatusCode, duration)

	rate := errs.RateLimit{
		Remaining: resp.Header.Get("x-rate-limit-remaining"),
		Limit:     resp.Header.Get("x-rate-limit-limit"),
		Reset:     resp.Header.Get("x-rate-limit-reset"),
	}

	if err := c.checkResponseStatus(endpoint, resp, rate); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errs.Error{
			Type:      errs.ErrorTypeNetwork,
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Code:      resp.StatusCode,
			RateLimit: rate,
		}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"endpoint":     string(endpoint),
			"status":       resp.StatusCode,
			"error":        err.Error(),
			"body_preview": preview(body, 200),
		})
		return nil, &errs.Error{
			Type:      errs.ErrorTypeParsing,
			Message:   fmt.Sprintf("failed to parse JSON: %v", err),
			Code:      resp.StatusCode,
			RateLimit: rate,
		}
	}
	out.RateLimit = rate
	out.StatusCode = resp.StatusCode

	return &out, nil
}

func (c *Client) report(endpoint Endpoint, status int, duration time.Duration) {
	if c.observe != nil {
		c.observe(endpoint, status, duration)
	}
}

// checkResponseStatus turns a non-2xx response into a typed error
func (c *Client) checkResponseStatus(endpoint Endpoint, resp *http.Response, rate errs.RateLimit) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &errs.Error{
		Type:      errs.TypeForStatus(resp.StatusCode),
		Message:   fmt.Sprintf("%s returned %d: %s", endpoint, resp.StatusCode, preview(body, 300)),
		Code:      resp.StatusCode,
		RateLimit: rate,
	}

	fields := rate.Fields()
	fields["endpoint"] = string(endpoint)
	fields["status"] = resp.StatusCode
	fields["error_type"] = string(apiErr.Type)

	switch apiErr.Type {
	case errs.ErrorTypeAuth, errs.ErrorTypeNotFound:
		c.logger.DebugWithFields("API item error", fields)
	default:
		fields["body"] = preview(body, 300)
		c.logger.ErrorWithFields("API error", fields)
	}

	return apiErr
}

func preview(body []byte, n int) string {
	s := strings.TrimSpace(string(body))
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}
