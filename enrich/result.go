package enrich

import "github.com/aluiziolira/go-scrape-catalog/models"

// Outcome classifies a single author lookup.
type Outcome int

const (
	// OutcomeFound means the first result carried at least one author.
	OutcomeFound Outcome = iota
	// OutcomeNoResults means the service answered with an empty item list.
	OutcomeNoResults
	// OutcomeNoAuthors means the first result had no author list.
	OutcomeNoAuthors
	// OutcomeFailed covers transport errors, bad statuses and bad payloads.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNoResults:
		return "no_results"
	case OutcomeNoAuthors:
		return "no_authors"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of one lookup. Err is set only for OutcomeFailed.
type Result struct {
	Authors []string
	Outcome Outcome
	Err     error
}

// AuthorsOrSentinel maps every non-found outcome to the sentinel author.
func (r Result) AuthorsOrSentinel() []string {
	if r.Outcome != OutcomeFound || len(r.Authors) == 0 {
		return []string{models.UnknownAuthor}
	}
	out := make([]string, len(r.Authors))
	copy(out, r.Authors)
	return out
}
