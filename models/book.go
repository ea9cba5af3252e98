// Package models defines data structures for the scraper.
package models

import "time"

const (
	// UnknownCategory is used when the breadcrumb trail is too short.
	UnknownCategory = "Unknown"
	// UnknownAuthor is the sentinel author stored when enrichment yields nothing.
	UnknownAuthor = "Unknown"
	// MissingUPC is used when the product table has no UPC row.
	MissingUPC = "N/A"
)

// Book represents one catalog detail page.
type Book struct {
	Title     string    `csv:"title" json:"title"`
	Category  string    `csv:"category" json:"category"`
	Price     string    `csv:"price" json:"price"`
	Stock     string    `csv:"stock" json:"stock"`
	Rating    string    `csv:"rating" json:"rating"`
	UPC       string    `csv:"upc" json:"upc"`
	URL       string    `csv:"url" json:"url"`
	ScrapedAt time.Time `csv:"scraped_at" json:"scraped_at"`
}

// Record pairs an extracted book with its enriched author list.
type Record struct {
	Book
	Authors []string `csv:"authors" json:"authors"`
}

// AuthorsOrSentinel returns the author list, or the sentinel when it is empty.
func (r *Record) AuthorsOrSentinel() []string {
	if r == nil || len(r.Authors) == 0 {
		return []string{UnknownAuthor}
	}
	return r.Authors
}

// CrawlResult holds the overall result of a crawl.
type CrawlResult struct {
	StartTime      time.Time
	EndTime        time.Time
	CategoryCount  int
	PageCount      int
	BookCount      int
	SkippedCount   int
	FailedURLs     []string
	ErrorsByType   map[string]int
	EnrichOutcomes map[string]int
	RetryCount     int
	RequestCount   int
	Interrupted    bool
}
