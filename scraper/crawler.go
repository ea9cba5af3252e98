package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

// AuthorEnricher resolves a title to a non-empty list of author names.
type AuthorEnricher interface {
	EnrichAuthors(ctx context.Context, title string) []string
}

// Sink accumulates records until the crawl ends.
type Sink interface {
	Add(rec *models.Record) error
}

// ProgressFunc is called once for every extracted and enriched book.
type ProgressFunc func(rec *models.Record)

// Crawler walks the catalog: categories, their listing pages, and the book
// detail pages linked from each listing.
type Crawler struct {
	cfg       *config.Config
	fetcher   *Fetcher
	enricher  AuthorEnricher
	metrics   *Metrics
	base      *url.URL
	catalogue *url.URL
	progress  ProgressFunc

	categoryCount int
	pageCount     int
	bookCount     int
	skippedCount  int
}

// CrawlerOption configures a Crawler.
type CrawlerOption func(*Crawler)

// WithProgress registers a per-book progress callback.
func WithProgress(fn ProgressFunc) CrawlerOption {
	return func(c *Crawler) {
		c.progress = fn
	}
}

// NewCrawler builds a crawler over fetcher and enricher. metrics may be nil.
func NewCrawler(cfg *config.Config, fetcher *Fetcher, enricher AuthorEnricher, metrics *Metrics, opts ...CrawlerOption) (*Crawler, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	c := &Crawler{
		cfg:       cfg,
		fetcher:   fetcher,
		enricher:  enricher,
		metrics:   metrics,
		base:      base,
		catalogue: base.ResolveReference(&url.URL{Path: "catalogue/"}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DiscoverCategories returns the category listing URLs from the site index.
// An unavailable index yields an empty slice.
func (c *Crawler) DiscoverCategories(ctx context.Context) []string {
	indexURL := c.base.ResolveReference(&url.URL{Path: "index.html"}).String()
	page, err := c.fetcher.Fetch(ctx, indexURL)
	if err != nil {
		slog.Warn("category discovery failed", slog.String("url", indexURL), slog.Any("error", err))
		return nil
	}
	doc, err := parser.NewDocument(page.Body)
	if err != nil {
		slog.Warn("category discovery failed", slog.String("url", indexURL), slog.Any("error", err))
		return nil
	}
	return parser.CategoryLinks(doc, c.base)
}

// WalkCategory follows "next" links from startURL and returns every listing
// page visited, startURL first. A failed fetch, a repeated URL or the page
// cap ends the walk.
func (c *Crawler) WalkCategory(ctx context.Context, startURL string) []string {
	pages := []string{}
	visited := make(map[string]struct{})
	current := startURL

	for {
		pages = append(pages, current)
		visited[current] = struct{}{}

		if len(pages) >= c.cfg.MaxPagesPerCategory {
			slog.Warn("page cap reached", slog.String("category", startURL), slog.Int("pages", len(pages)))
			break
		}

		page, err := c.fetcher.Fetch(ctx, current)
		if err != nil {
			break
		}
		doc, err := parser.NewDocument(page.Body)
		if err != nil {
			break
		}
		currentURL, err := url.Parse(current)
		if err != nil {
			break
		}
		next, ok := parser.NextPageURL(doc, currentURL)
		if !ok {
			break
		}
		if _, seen := visited[next]; seen {
			slog.Warn("pagination cycle detected", slog.String("url", current), slog.String("next", next))
			break
		}
		current = next
	}
	return pages
}

// ListBooks returns the book detail URLs on one listing page.
func (c *Crawler) ListBooks(ctx context.Context, pageURL string) []string {
	page, err := c.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return nil
	}
	doc, err := parser.NewDocument(page.Body)
	if err != nil {
		slog.Warn("listing page unreadable", slog.String("url", pageURL), slog.Any("error", err))
		return nil
	}
	return parser.BookLinks(doc, c.catalogue)
}

// ExtractDetails fetches and parses one detail page. A fetch failure returns
// an error matching ErrUnavailable; missing required markup returns a
// *parser.ParseError.
func (c *Crawler) ExtractDetails(ctx context.Context, bookURL string) (*models.Book, error) {
	page, err := c.fetcher.Fetch(ctx, bookURL)
	if err != nil {
		return nil, err
	}
	doc, err := parser.NewDocument(page.Body)
	if err != nil {
		return nil, err
	}
	book, err := parser.ParseBook(doc, bookURL)
	if err != nil {
		return nil, err
	}
	book.ScrapedAt = time.Now()
	return book, nil
}

// Run crawls the whole catalog, handing each enriched record to sink.
// Cancelling ctx stops the traversal; records already handed over stay with
// the sink.
func (c *Crawler) Run(ctx context.Context, sink Sink) (*models.CrawlResult, error) {
	start := time.Now()

	categories := c.DiscoverCategories(ctx)
	c.categoryCount = len(categories)
	if len(categories) == 0 {
		slog.Info("no categories discovered")
	}

	var runErr error
	for _, category := range categories {
		if ctx.Err() != nil {
			break
		}
		if err := c.crawlCategory(ctx, category, sink); err != nil {
			runErr = err
			break
		}
	}
	if ctx.Err() != nil {
		slog.Info("crawl interrupted", slog.Int("books", c.bookCount))
	}

	stats := c.fetcher.Stats()
	result := &models.CrawlResult{
		StartTime:     start,
		EndTime:       time.Now(),
		CategoryCount: c.categoryCount,
		PageCount:     c.pageCount,
		BookCount:     c.bookCount,
		SkippedCount:  c.skippedCount,
		FailedURLs:    stats.FailedURLs,
		ErrorsByType:  stats.ErrorsByType,
		RetryCount:    stats.Retries,
		RequestCount:  stats.Requests,
		Interrupted:   ctx.Err() != nil,
	}
	return result, runErr
}

func (c *Crawler) crawlCategory(ctx context.Context, categoryURL string, sink Sink) error {
	pages := c.WalkCategory(ctx, categoryURL)
	slog.Debug("category walked", slog.String("url", categoryURL), slog.Int("pages", len(pages)))

	for _, pageURL := range pages {
		if ctx.Err() != nil {
			return nil
		}
		c.pageCount++
		for _, bookURL := range c.ListBooks(ctx, pageURL) {
			if ctx.Err() != nil {
				return nil
			}
			if err := c.crawlBook(ctx, bookURL, sink); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Crawler) crawlBook(ctx context.Context, bookURL string, sink Sink) error {
	book, err := c.ExtractDetails(ctx, bookURL)
	if err != nil {
		c.skippedCount++
		var parseErr *parser.ParseError
		switch {
		case errors.As(err, &parseErr):
			c.metrics.IncError("parse")
			slog.Error("detail page missing required field",
				slog.String("url", bookURL),
				slog.String("field", parseErr.Field),
			)
		case errors.Is(err, ErrUnavailable):
			slog.Debug("detail page skipped", slog.String("url", bookURL))
		default:
			slog.Error("detail page failed", slog.String("url", bookURL), slog.Any("error", err))
		}
		return nil
	}

	rec := &models.Record{
		Book:    *book,
		Authors: c.enricher.EnrichAuthors(ctx, book.Title),
	}
	if err := sink.Add(rec); err != nil {
		return fmt.Errorf("collect %s: %w", bookURL, err)
	}
	c.bookCount++
	c.metrics.IncItems()
	if c.progress != nil {
		c.progress(rec)
	}

	// Pacing only follows successful extractions.
	_ = sleepContext(ctx, c.cfg.BookDelay)
	return nil
}
