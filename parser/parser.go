package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const ratingMarker = "star-rating"

// ParseError reports a required field missing from a detail page.
type ParseError struct {
	URL   string
	Field string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: missing %s", e.URL, e.Field)
}

// NewDocument parses an HTML body.
func NewDocument(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// CategoryLinks returns the category listing URLs from the index sidebar,
// resolved against base, in document order.
func CategoryLinks(doc *goquery.Document, base *url.URL) []string {
	var urls []string
	doc.Find("div.side_categories ul li ul li a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if abs, err := resolve(base, href); err == nil {
			urls = append(urls, abs)
		}
	})
	return urls
}

// NextPageURL returns the "next" link of a listing page resolved against the
// directory of current.
func NextPageURL(doc *goquery.Document, current *url.URL) (string, bool) {
	href, ok := doc.Find("li.next > a").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	abs, err := resolve(current, href)
	if err != nil {
		return "", false
	}
	return abs, true
}

// BookLinks returns the detail URLs of every listing item on a page. Hrefs
// are normalized against the catalogue root regardless of how deep the
// listing page is.
func BookLinks(doc *goquery.Document, catalogue *url.URL) []string {
	var urls []string
	doc.Find("article.product_pod h3 a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if abs, err := resolve(catalogue, catalogueRelative(href)); err == nil {
			urls = append(urls, abs)
		}
	})
	return urls
}

func catalogueRelative(href string) string {
	href = strings.TrimSpace(href)
	for strings.HasPrefix(href, "../") {
		href = strings.TrimPrefix(href, "../")
	}
	return strings.TrimPrefix(href, "catalogue/")
}

// ParseBook extracts a book from a detail page. Title, price and stock are
// required; rating, UPC and category fall back to defaults.
func ParseBook(doc *goquery.Document, pageURL string) (*models.Book, error) {
	title, ok := requiredText(doc, "div.product_main h1")
	if !ok {
		return nil, &ParseError{URL: pageURL, Field: "title"}
	}
	price, ok := requiredText(doc, "p.price_color")
	if !ok {
		return nil, &ParseError{URL: pageURL, Field: "price"}
	}
	stock, ok := requiredText(doc, "p.instock.availability")
	if !ok {
		return nil, &ParseError{URL: pageURL, Field: "stock"}
	}

	ratingClass, _ := doc.Find("p.star-rating").First().Attr("class")

	return &models.Book{
		Title:    title,
		Category: breadcrumbCategory(doc),
		Price:    price,
		Stock:    NormalizeAvailability(stock),
		Rating:   RatingFromClasses(strings.Fields(ratingClass)),
		UPC:      productInfo(doc, "UPC", models.MissingUPC),
		URL:      pageURL,
	}, nil
}

// RatingFromClasses picks the rating token out of the rating marker's class
// list. Anything but exactly one token besides the marker yields "".
func RatingFromClasses(classes []string) string {
	rating := ""
	found := 0
	for _, c := range classes {
		if c == ratingMarker {
			continue
		}
		rating = c
		found++
	}
	if found != 1 {
		return ""
	}
	return rating
}

func requiredText(doc *goquery.Document, selector string) (string, bool) {
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return strings.TrimSpace(sel.Text()), true
}

func productInfo(doc *goquery.Document, label, fallback string) string {
	value := fallback
	doc.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if strings.TrimSpace(row.Find("th").First().Text()) != label {
			return true
		}
		td := row.Find("th").First().NextFiltered("td")
		if td.Length() == 0 {
			return true
		}
		if text := strings.TrimSpace(td.Text()); text != "" {
			value = text
		}
		return false
	})
	return value
}

func breadcrumbCategory(doc *goquery.Document) string {
	crumbs := doc.Find("ul.breadcrumb li")
	if crumbs.Length() < 3 {
		return models.UnknownCategory
	}
	return strings.TrimSpace(crumbs.Eq(2).Text())
}

func resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
