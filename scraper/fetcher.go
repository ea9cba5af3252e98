package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// Page is a successfully fetched catalog page.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// FetchStats summarises the fetcher's activity so far.
type FetchStats struct {
	Requests     int
	Retries      int
	ErrorsByType map[string]int
	FailedURLs   []string
}

// Fetcher issues sequential GET requests with a bounded retry policy.
type Fetcher struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics

	requestCount int
	retryCount   int
	errorsByType map[string]int
	failedURLs   []string
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		f.collector.WithTransport(rt)
	}
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics, opts ...FetcherOption) (*Fetcher, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	f := &Fetcher{
		cfg:          cfg,
		collector:    collector,
		metrics:      metrics,
		errorsByType: make(map[string]int),
	}
	for _, opt := range opts {
		opt(f)
	}
	// After options so a replaced transport still gets the timeout.
	collector.SetRequestTimeout(cfg.Timeout)
	return f, nil
}

// Fetch GETs rawURL, retrying on transport failures and non-success
// statuses. After MaxAttempts failures it returns an error matching
// ErrUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	var (
		lastErr  error
		attempts int
	)

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		attempts = attempt

		f.requestCount++
		f.metrics.IncRequest("started")
		page, status, err := f.fetchOnce(rawURL)
		if err == nil {
			f.metrics.IncRequest("succeeded")
			return page, nil
		}

		classified := classifyError(err, status)
		category := errorTypeLabel(classified)
		f.errorsByType[category]++
		f.metrics.IncError(category)
		lastErr = classified

		slog.Warn("request failed",
			slog.String("url", rawURL),
			slog.Int("attempt", attempt),
			slog.String("category", category),
			slog.Any("error", err),
		)

		if attempt == f.cfg.MaxAttempts {
			break
		}
		f.retryCount++
		f.metrics.IncRetries()
		if err := sleepContext(ctx, f.backoff(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	f.failedURLs = append(f.failedURLs, rawURL)
	return nil, &UnavailableError{URL: rawURL, Attempts: attempts, Err: lastErr}
}

// Stats returns a snapshot of request, retry and failure counts.
func (f *Fetcher) Stats() FetchStats {
	errorsByType := make(map[string]int, len(f.errorsByType))
	for k, v := range f.errorsByType {
		errorsByType[k] = v
	}
	failed := make([]string, len(f.failedURLs))
	copy(failed, f.failedURLs)
	return FetchStats{
		Requests:     f.requestCount,
		Retries:      f.retryCount,
		ErrorsByType: errorsByType,
		FailedURLs:   failed,
	}
}

func (f *Fetcher) fetchOnce(rawURL string) (*Page, int, error) {
	c := f.collector.Clone()

	var (
		page     *Page
		status   int
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		page = &Page{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			status = r.StatusCode
		}
	})

	start := time.Now()
	err := c.Visit(rawURL)
	f.metrics.ObserveDuration(time.Since(start))

	if fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return nil, status, fetchErr
	}
	if page == nil {
		return nil, 0, errors.New("empty response")
	}
	return page, page.StatusCode, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.cfg.RetryBackoff
	if base <= 0 {
		return 0
	}

	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	delay := base * time.Duration(1<<shift)
	if ceiling := f.cfg.RetryBackoffMax; ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
