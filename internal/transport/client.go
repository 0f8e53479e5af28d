// Package transport is the HTTP client for the report API.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/seantiz/reportwatch/internal/model"
)

// maxResponseSize caps how much of a response body is read (8 MB).
const maxResponseSize = 8 << 20

// Report API paths.
const (
	pathStatus             = "/api/report/status/"
	pathGovernance         = "/api/report/governance"
	pathSEO                = "/api/report/seo"
	pathSuggestCompetitors = "/api/report/suggest-competitors"
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client's structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRateLimit limits outgoing requests to rps with the given burst. The
// limit is shared by every caller of the client. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// Client talks to the report API. It is safe for concurrent use and
// satisfies poller.Transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client was created with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchStatus performs one GET of a job's status. Any failure to obtain a
// schema-valid payload is returned as an error.
func (c *Client) FetchStatus(ctx context.Context, jobID string) (model.StatusPayload, error) {
	if jobID == "" {
		return model.StatusPayload{}, errors.New("fetch status: empty job id")
	}

	data, err := c.do(ctx, http.MethodGet, pathStatus+url.PathEscape(jobID), nil)
	if err != nil {
		return model.StatusPayload{}, err
	}
	if err := validateStatus(data); err != nil {
		return model.StatusPayload{}, fmt.Errorf("job %s: %w", jobID, err)
	}

	var payload model.StatusPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return model.StatusPayload{}, fmt.Errorf("job %s: %w: %v", jobID, ErrMalformedResponse, err)
	}
	return payload, nil
}

// SubmitGovernance creates a governance report job.
func (c *Client) SubmitGovernance(ctx context.Context, req model.GovernanceReportRequest) (model.JobCreateResponse, error) {
	if err := req.Validate(); err != nil {
		return model.JobCreateResponse{}, err
	}
	return c.submit(ctx, pathGovernance, req)
}

// SubmitSEO creates an SEO report job.
func (c *Client) SubmitSEO(ctx context.Context, req model.SEOReportRequest) (model.JobCreateResponse, error) {
	if err := req.Validate(); err != nil {
		return model.JobCreateResponse{}, err
	}
	return c.submit(ctx, pathSEO, req)
}

// SuggestCompetitors looks up nearby businesses for the SEO competitor form.
func (c *Client) SuggestCompetitors(ctx context.Context, p model.SuggestCompetitorsParams) (model.SuggestCompetitorsResponse, error) {
	q := url.Values{}
	q.Set("business_type", p.BusinessType)
	q.Set("city", p.City)
	q.Set("region", p.Region)
	q.Set("country", p.Country)
	if p.WebsiteURL != "" {
		q.Set("website_url", p.WebsiteURL)
	}

	data, err := c.do(ctx, http.MethodGet, pathSuggestCompetitors+"?"+q.Encode(), nil)
	if err != nil {
		return model.SuggestCompetitorsResponse{}, err
	}

	var resp model.SuggestCompetitorsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return model.SuggestCompetitorsResponse{}, fmt.Errorf("suggest competitors: %w: %v", ErrMalformedResponse, err)
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []model.CompetitorSuggestion{}
	}
	return resp, nil
}

func (c *Client) submit(ctx context.Context, path string, body any) (model.JobCreateResponse, error) {
	data, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return model.JobCreateResponse{}, err
	}

	var resp model.JobCreateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return model.JobCreateResponse{}, fmt.Errorf("submit %s: %w: %v", path, ErrMalformedResponse, err)
	}
	if resp.JobID == "" {
		return model.JobCreateResponse{}, fmt.Errorf("submit %s: %w: missing job_id", path, ErrMalformedResponse)
	}
	return resp, nil
}

// do sends one JSON request and returns the response body of a 2xx answer.
func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.New().String()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("report api request failed",
			"method", method,
			"path", path,
			"request_id", requestID,
			"error", err,
		)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("report api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
