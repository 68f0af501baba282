// Package ticketapi provides a client for the upstream support-ticket and
// knowledge-base search backend.
package ticketapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/supportlens/supportlens/internal/model"
	"github.com/supportlens/supportlens/internal/resilience"
)

// Client defines the upstream ticket backend operations.
type Client interface {
	// CountTickets returns the number of tickets filed under a slug.
	CountTickets(ctx context.Context, slug string) (int, error)
	// Tickets returns all tickets for a slug, fetched page by page.
	Tickets(ctx context.Context, slug string) ([]model.Ticket, error)
	// SearchKB queries the knowledge base for articles relevant to a slug.
	SearchKB(ctx context.Context, slug, query string) ([]model.KBDocument, error)
}

type countResponse struct {
	Count int `json:"count"`
}

type ticketsResponse struct {
	Tickets []model.Ticket `json:"tickets"`
	HasMore bool           `json:"has_more"`
}

type searchResponse struct {
	Results []model.KBDocument `json:"results"`
}

// Option configures the ticket API client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPageSize sets the page size for ticket listing.
func WithPageSize(n int) Option {
	return func(c *httpClient) {
		c.pageSize = n
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRetryBackoff sets the initial backoff between retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(c *httpClient) {
		c.retryBackoff = d
	}
}

type httpClient struct {
	apiKey       string
	baseURL      string
	pageSize     int
	retryBackoff time.Duration
	http         *http.Client
}

// NewClient creates a new ticket backend client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:       apiKey,
		baseURL:      baseURL,
		pageSize:     100,
		retryBackoff: 500 * time.Millisecond,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) get(ctx context.Context, path string, query url.Values, out any) error {
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return eris.Wrap(err, "ticketapi: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	var body []byte
	var statusCode int
	err = resilience.Do(ctx, c.retry(path), func(ctx context.Context) error {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			return err
		}
		b, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return eris.Wrap(readErr, "ticketapi: read response body")
		}
		body, statusCode = b, resp.StatusCode

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(
				eris.Errorf("ticketapi: status %d: %s", resp.StatusCode, string(b)),
				resp.StatusCode,
			)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "ticketapi: GET %s", path)
	}
	if statusCode != http.StatusOK {
		return eris.Errorf("ticketapi: GET %s unexpected status %d: %s", path, statusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "ticketapi: unmarshal %s response", path)
	}
	return nil
}

func (c *httpClient) retry(operation string) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: c.retryBackoff,
		OnRetry:        resilience.RetryLogger("ticketapi", operation),
	}
}

func (c *httpClient) CountTickets(ctx context.Context, slug string) (int, error) {
	q := url.Values{"slug": {slug}}
	var resp countResponse
	if err := c.get(ctx, "/tickets/count", q, &resp); err != nil {
		return 0, err
	}
	if resp.Count < 0 {
		return 0, eris.Errorf("ticketapi: negative ticket count %d for %s", resp.Count, slug)
	}
	return resp.Count, nil
}

func (c *httpClient) Tickets(ctx context.Context, slug string) ([]model.Ticket, error) {
	var all []model.Ticket
	for page := 1; ; page++ {
		q := url.Values{
			"slug":     {slug},
			"page":     {fmt.Sprint(page)},
			"per_page": {fmt.Sprint(c.pageSize)},
		}
		var resp ticketsResponse
		if err := c.get(ctx, "/tickets", q, &resp); err != nil {
			return nil, err
		}
		all = append(all, resp.Tickets...)
		if !resp.HasMore || len(resp.Tickets) == 0 {
			return all, nil
		}
	}
}

func (c *httpClient) SearchKB(ctx context.Context, slug, query string) ([]model.KBDocument, error) {
	q := url.Values{"slug": {slug}, "q": {query}}
	var resp searchResponse
	if err := c.get(ctx, "/kb/search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}
