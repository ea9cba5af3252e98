package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-catalog/config"
)

// Lookuper performs a single title lookup.
type Lookuper interface {
	Lookup(ctx context.Context, title string) Result
}

// Recorder receives one outcome label per lookup.
type Recorder interface {
	IncEnrich(outcome string)
}

// Enricher turns titles into author lists. Failures are absorbed: every call
// returns at least one name, the sentinel when nothing usable was found.
type Enricher struct {
	lookup   Lookuper
	cache    *lru.Cache[string, Result]
	limiter  *rate.Limiter
	recorder Recorder
	outcomes map[string]int
}

// NewEnricher wires a lookup client behind a title cache and an optional
// rate limit.
func NewEnricher(cfg *config.Config, lookup Lookuper, recorder Recorder) (*Enricher, error) {
	cache, err := lru.New[string, Result](cfg.EnrichCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create enrich cache: %w", err)
	}

	e := &Enricher{
		lookup:   lookup,
		cache:    cache,
		recorder: recorder,
		outcomes: make(map[string]int),
	}
	if cfg.EnrichRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.EnrichRate), 1)
	}
	return e, nil
}

// EnrichAuthors returns the authors for title, or the sentinel author.
func (e *Enricher) EnrichAuthors(ctx context.Context, title string) []string {
	return e.Resolve(ctx, title).AuthorsOrSentinel()
}

// Resolve returns the full lookup result for title. Failed lookups are not
// cached so a later occurrence of the same title is retried.
func (e *Enricher) Resolve(ctx context.Context, title string) Result {
	key := strings.TrimSpace(title)
	if cached, ok := e.cache.Get(key); ok {
		slog.Debug("author lookup cache hit", slog.String("title", key))
		return cached
	}

	var res Result
	if err := e.waitTurn(ctx); err != nil {
		res = failed(err)
	} else {
		res = e.lookup.Lookup(ctx, key)
	}

	e.record(res.Outcome)
	switch res.Outcome {
	case OutcomeFailed:
		slog.Warn("author lookup failed", slog.String("title", key), slog.Any("error", res.Err))
	case OutcomeFound:
		e.cache.Add(key, res)
	default:
		slog.Debug("author lookup empty", slog.String("title", key), slog.String("outcome", res.Outcome.String()))
		e.cache.Add(key, res)
	}
	return res
}

// Outcomes returns lookup counts by outcome label.
func (e *Enricher) Outcomes() map[string]int {
	out := make(map[string]int, len(e.outcomes))
	for k, v := range e.outcomes {
		out[k] = v
	}
	return out
}

func (e *Enricher) waitTurn(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

func (e *Enricher) record(o Outcome) {
	label := o.String()
	e.outcomes[label]++
	if e.recorder != nil {
		e.recorder.IncEnrich(label)
	}
}
