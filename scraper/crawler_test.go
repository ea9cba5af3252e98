package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

const (
	travelURL  = testBase + "catalogue/category/books/travel_2/index.html"
	mysteryURL = testBase + "catalogue/category/books/mystery_3/index.html"
)

type staticEnricher struct {
	authors map[string][]string
	calls   []string
}

func (e *staticEnricher) EnrichAuthors(_ context.Context, title string) []string {
	e.calls = append(e.calls, title)
	if authors, ok := e.authors[title]; ok {
		return authors
	}
	return []string{models.UnknownAuthor}
}

type collectingSink struct {
	records []*models.Record
}

func (s *collectingSink) Add(rec *models.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func indexPage(categoryHrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="side_categories"><ul><li><a href="catalogue/category/books_1/index.html">Books</a><ul>`)
	for _, href := range categoryHrefs {
		fmt.Fprintf(&b, `<li><a href="%s">Category</a></li>`, href)
	}
	b.WriteString(`</ul></li></ul></div></body></html>`)
	return b.String()
}

func listingPage(next string, bookSlugs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><section><ol class="row">`)
	for _, slug := range bookSlugs {
		fmt.Fprintf(&b, `<li><article class="product_pod"><h3><a href="../../../%s/index.html" title="%s">%s</a></h3></article></li>`, slug, slug, slug)
	}
	b.WriteString(`</ol><ul class="pager">`)
	if next != "" {
		fmt.Fprintf(&b, `<li class="next"><a href="%s">next</a></li>`, next)
	}
	b.WriteString(`</ul></section></body></html>`)
	return b.String()
}

func detailPage(title, category, upc string) string {
	return fmt.Sprintf(`<html><body>
<ul class="breadcrumb"><li><a href="../../index.html">Home</a></li><li><a href="../category/books_1/index.html">Books</a></li><li><a href="#">%s</a></li><li class="active">%s</li></ul>
<div class="product_main">
  <h1>%s</h1>
  <p class="price_color">£45.17</p>
  <p class="instock availability">
      In stock (19 available)
  </p>
  <p class="star-rating Three"></p>
</div>
<table class="table table-striped">
  <tr><th>UPC</th><td>%s</td></tr>
  <tr><th>Product Type</th><td>Books</td></tr>
</table>
</body></html>`, category, title, title, upc)
}

func newTestCrawler(t *testing.T, cfg *config.Config, transport *httpmock.MockTransport, enricher AuthorEnricher, opts ...CrawlerOption) *Crawler {
	t.Helper()
	c, err := NewCrawler(cfg, newTestFetcher(t, cfg, transport), enricher, NewMetrics(), opts...)
	if err != nil {
		t.Fatalf("new crawler: %v", err)
	}
	return c
}

func registerCatalog(transport *httpmock.MockTransport) {
	transport.RegisterResponder(http.MethodGet, testBase+"index.html", htmlResponder(indexPage(
		"catalogue/category/books/travel_2/index.html",
		"catalogue/category/books/mystery_3/index.html",
	)))
	transport.RegisterResponder(http.MethodGet, travelURL, htmlResponder(listingPage("page-2.html", "its-only-the-himalayas_981")))
	transport.RegisterResponder(http.MethodGet, testBase+"catalogue/category/books/travel_2/page-2.html",
		htmlResponder(listingPage("", "full-moon-over-noahs-ark_811")))
	transport.RegisterResponder(http.MethodGet, mysteryURL, htmlResponder(listingPage("", "sharp-objects_997", "broken_900")))

	transport.RegisterResponder(http.MethodGet, testBase+"catalogue/its-only-the-himalayas_981/index.html",
		htmlResponder(detailPage("It's Only the Himalayas", "Travel", "a22124811bfa8350")))
	transport.RegisterResponder(http.MethodGet, testBase+"catalogue/full-moon-over-noahs-ark_811/index.html",
		htmlResponder(detailPage("Full Moon over Noah’s Ark", "Travel", "ce6396b0f23f6ecc")))
	transport.RegisterResponder(http.MethodGet, testBase+"catalogue/sharp-objects_997/index.html",
		htmlResponder(detailPage("Sharp Objects", "Mystery", "e00eb4fd7b871a48")))
	transport.RegisterResponder(http.MethodGet, testBase+"catalogue/broken_900/index.html",
		htmlResponder(`<html><body><div class="product_main"><p class="price_color">£1.00</p></div></body></html>`))
}

func TestDiscoverCategories(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerCatalog(transport)

	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{})
	got := c.DiscoverCategories(context.Background())
	want := []string{travelURL, mysteryURL}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("categories = %v, want %v", got, want)
	}
}

func TestDiscoverCategoriesUnavailableIndex(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testBase+"index.html", httpmock.NewStringResponder(http.StatusBadGateway, ""))

	c := newTestCrawler(t, cfg, transport, &staticEnricher{})
	if got := c.DiscoverCategories(context.Background()); len(got) != 0 {
		t.Fatalf("categories = %v, want none", got)
	}
	if transport.GetTotalCallCount() != cfg.MaxAttempts {
		t.Fatalf("calls = %d, want %d", transport.GetTotalCallCount(), cfg.MaxAttempts)
	}
}

func TestWalkCategoryFollowsNextLinks(t *testing.T) {
	transport := httpmock.NewMockTransport()
	dir := testBase + "catalogue/category/books/fantasy_19/"
	transport.RegisterResponder(http.MethodGet, dir+"index.html", htmlResponder(listingPage("page-2.html")))
	transport.RegisterResponder(http.MethodGet, dir+"page-2.html", htmlResponder(listingPage("page-3.html")))
	transport.RegisterResponder(http.MethodGet, dir+"page-3.html", htmlResponder(listingPage("")))

	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{})
	got := c.WalkCategory(context.Background(), dir+"index.html")
	want := []string{dir + "index.html", dir + "page-2.html", dir + "page-3.html"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("pages = %v, want %v", got, want)
	}
}

func TestWalkCategoryStopsOnCycle(t *testing.T) {
	transport := httpmock.NewMockTransport()
	dir := testBase + "catalogue/category/books/loop_1/"
	transport.RegisterResponder(http.MethodGet, dir+"page-1.html", htmlResponder(listingPage("page-2.html")))
	transport.RegisterResponder(http.MethodGet, dir+"page-2.html", htmlResponder(listingPage("page-1.html")))

	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{})
	got := c.WalkCategory(context.Background(), dir+"page-1.html")
	if len(got) != 2 {
		t.Fatalf("pages = %v, want 2", got)
	}
	if transport.GetTotalCallCount() != 2 {
		t.Fatalf("calls = %d, want 2", transport.GetTotalCallCount())
	}
}

func TestWalkCategoryPageCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPagesPerCategory = 2
	transport := httpmock.NewMockTransport()
	dir := testBase + "catalogue/category/books/long_7/"
	transport.RegisterResponder(http.MethodGet, dir+"index.html", htmlResponder(listingPage("page-2.html")))
	transport.RegisterResponder(http.MethodGet, dir+"page-2.html", htmlResponder(listingPage("page-3.html")))
	transport.RegisterResponder(http.MethodGet, dir+"page-3.html", htmlResponder(listingPage("")))

	c := newTestCrawler(t, cfg, transport, &staticEnricher{})
	if got := c.WalkCategory(context.Background(), dir+"index.html"); len(got) != 2 {
		t.Fatalf("pages = %v, want 2", got)
	}
}

func TestWalkCategoryUnavailableStart(t *testing.T) {
	transport := httpmock.NewMockTransport()
	start := testBase + "catalogue/category/books/gone_9/index.html"
	transport.RegisterResponder(http.MethodGet, start, httpmock.NewStringResponder(http.StatusNotFound, ""))

	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{})
	got := c.WalkCategory(context.Background(), start)
	if len(got) != 1 || got[0] != start {
		t.Fatalf("pages = %v, want only the start url", got)
	}
}

func TestListBooksNormalizesLinks(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerCatalog(transport)

	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{})
	got := c.ListBooks(context.Background(), mysteryURL)
	want := []string{
		testBase + "catalogue/sharp-objects_997/index.html",
		testBase + "catalogue/broken_900/index.html",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("books = %v, want %v", got, want)
	}
}

func TestExtractDetails(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerCatalog(transport)

	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{})
	book, err := c.ExtractDetails(context.Background(), testBase+"catalogue/sharp-objects_997/index.html")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if book.Title != "Sharp Objects" || book.Category != "Mystery" || book.UPC != "e00eb4fd7b871a48" {
		t.Fatalf("unexpected book: %+v", book)
	}
	if book.Stock != "In stock (19 available)" || book.Rating != "Three" || book.Price != "£45.17" {
		t.Fatalf("unexpected book fields: %+v", book)
	}
	if book.ScrapedAt.IsZero() {
		t.Fatalf("scraped_at not set")
	}
}

func TestRunCollectsEnrichedRecords(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerCatalog(transport)

	enricher := &staticEnricher{authors: map[string][]string{
		"Sharp Objects": {"Gillian Flynn"},
	}}
	sink := &collectingSink{}
	var progressed []string
	c := newTestCrawler(t, testConfig(), transport, enricher, WithProgress(func(rec *models.Record) {
		progressed = append(progressed, rec.Title)
	}))

	result, err := c.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.records) != 3 {
		t.Fatalf("records = %d, want 3", len(sink.records))
	}
	if result.BookCount != 3 || result.SkippedCount != 1 {
		t.Fatalf("result counts = %+v", result)
	}
	if result.CategoryCount != 2 || result.PageCount != 3 {
		t.Fatalf("category/page counts = %d/%d", result.CategoryCount, result.PageCount)
	}
	if result.Interrupted {
		t.Fatalf("run reported interrupted")
	}

	titles := make(map[string]*models.Record)
	for _, rec := range sink.records {
		titles[rec.Title] = rec
	}
	if got := titles["Sharp Objects"].Authors; len(got) != 1 || got[0] != "Gillian Flynn" {
		t.Fatalf("sharp objects authors = %v", got)
	}
	if got := titles["It's Only the Himalayas"].Authors; len(got) != 1 || got[0] != models.UnknownAuthor {
		t.Fatalf("himalayas authors = %v", got)
	}
	if len(enricher.calls) != 3 {
		t.Fatalf("enricher calls = %v, want one per extracted book", enricher.calls)
	}
	if len(progressed) != 3 {
		t.Fatalf("progress callbacks = %d, want 3", len(progressed))
	}
	if got := testutil.ToFloat64(c.metrics.ItemsScrapedTotal); got != 3 {
		t.Fatalf("items metric = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.metrics.ErrorsTotal.WithLabelValues("parse")); got != 1 {
		t.Fatalf("parse errors metric = %v, want 1", got)
	}
}

func TestRunEmptyDiscovery(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testBase+"index.html", htmlResponder(indexPage()))

	sink := &collectingSink{}
	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{})
	result, err := c.Run(context.Background(), sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.records) != 0 || result.BookCount != 0 || result.CategoryCount != 0 {
		t.Fatalf("expected empty crawl, got %+v", result)
	}
}

func TestRunInterruptKeepsCollectedRecords(t *testing.T) {
	transport := httpmock.NewMockTransport()
	registerCatalog(transport)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &collectingSink{}
	c := newTestCrawler(t, testConfig(), transport, &staticEnricher{}, WithProgress(func(*models.Record) {
		cancel()
	}))

	result, err := c.Run(ctx, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Interrupted {
		t.Fatalf("expected interrupted result")
	}
	if len(sink.records) != 1 || result.BookCount != 1 {
		t.Fatalf("records = %d, book count = %d, want 1", len(sink.records), result.BookCount)
	}
}

func TestRunWithoutMetrics(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	registerCatalog(transport)

	c, err := NewCrawler(cfg, newTestFetcher(t, cfg, transport), &staticEnricher{}, nil)
	if err != nil {
		t.Fatalf("new crawler: %v", err)
	}
	result, err := c.Run(context.Background(), &collectingSink{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.BookCount != 3 || result.SkippedCount != 1 {
		t.Fatalf("result counts = %+v", result)
	}
}
