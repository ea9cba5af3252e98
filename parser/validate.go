package parser

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// ValidateBook rejects records the pipeline cannot key or persist. Field
// contents are not checked: anything ParseBook accepted is stored as-is.
func ValidateBook(b *models.Book) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.URL) == "" {
		return fmt.Errorf("book %q missing url", b.Title)
	}
	return nil
}

// NormalizeAvailability trims spacing from the availability text.
func NormalizeAvailability(text string) string {
	return strings.TrimSpace(text)
}

// RatingToNumeric converts the textual rating to a numeric scale.
func RatingToNumeric(rating string) int {
	switch strings.TrimSpace(rating) {
	case "Zero":
		return 0
	case "One":
		return 1
	case "Two":
		return 2
	case "Three":
		return 3
	case "Four":
		return 4
	case "Five":
		return 5
	default:
		return 0
	}
}
