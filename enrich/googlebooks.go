// Package enrich resolves book titles to author names through a title
// search on a Google Books style volumes API.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// ErrUnexpectedStatus is wrapped into failures caused by a non-200 answer.
var ErrUnexpectedStatus = errors.New("enrich: unexpected status")

type volumesResponse struct {
	TotalItems int `json:"totalItems"`
	Items      []struct {
		VolumeInfo struct {
			Title   string   `json:"title"`
			Authors []string `json:"authors"`
		} `json:"volumeInfo"`
	} `json:"items"`
}

// Client queries the volumes endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client used for lookups.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient builds a lookup client from cfg.
func NewClient(cfg *config.Config, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.LookupURL,
		apiKey:     cfg.APIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup searches for title and reports the authors of the first match.
// It never returns an error directly; failures are carried in the Result.
func (c *Client) Lookup(ctx context.Context, title string) Result {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return failed(fmt.Errorf("parse lookup url: %w", err))
	}
	q := endpoint.Query()
	q.Set("q", "intitle:"+title)
	q.Set("key", c.apiKey)
	q.Set("maxResults", "1")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return failed(fmt.Errorf("build lookup request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failed(fmt.Errorf("lookup %q: %w", title, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return failed(fmt.Errorf("%w: %d for %q", ErrUnexpectedStatus, resp.StatusCode, title))
	}

	var payload volumesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return failed(fmt.Errorf("decode lookup response for %q: %w", title, err))
	}
	if len(payload.Items) == 0 {
		return Result{Outcome: OutcomeNoResults}
	}

	var authors []string
	for _, name := range payload.Items[0].VolumeInfo.Authors {
		if name = strings.TrimSpace(name); name != "" {
			authors = append(authors, name)
		}
	}
	if len(authors) == 0 {
		return Result{Outcome: OutcomeNoAuthors}
	}
	return Result{Authors: authors, Outcome: OutcomeFound}
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}
