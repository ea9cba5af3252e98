package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
)

var (
	// ErrPipelineClosed is returned when Add is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
)

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(records []*models.Record) error
	Close() error
	Validate() error
}

// Pipeline validates and de-duplicates records as they arrive and hands the
// whole batch to the writer once, on Close.
type Pipeline struct {
	writer  OutputWriter
	records []*models.Record
	seen    *lru.Cache[string, struct{}]

	metrics metrics
	closed  bool
}

// NewPipeline builds a pipeline that writes to writer.
func NewPipeline(writer OutputWriter, cfg *config.Config) (*Pipeline, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}
	return &Pipeline{
		writer:  writer,
		seen:    seen,
		metrics: newMetrics(),
	}, nil
}

// Add accepts one record. Invalid records and repeated book URLs are
// dropped and counted.
func (p *Pipeline) Add(rec *models.Record) error {
	if p.closed {
		return ErrPipelineClosed
	}
	if prepared := p.prepare(rec); prepared != nil {
		p.records = append(p.records, prepared)
	}
	return nil
}

// Len reports how many records are waiting for Close.
func (p *Pipeline) Len() int {
	return len(p.records)
}

// Close writes the accumulated batch. Calling it again is a no-op.
func (p *Pipeline) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	if len(p.records) == 0 {
		slog.Info("pipeline closed with no records")
		return nil
	}
	if err := p.writer.Write(p.records); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	p.metrics.written = int64(len(p.records))
	slog.Info("records written", slog.Int("records", len(p.records)))
	return nil
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

func (p *Pipeline) prepare(rec *models.Record) *models.Record {
	if rec == nil {
		p.metrics.addValidation("invalid_record")
		return nil
	}
	if err := parser.ValidateBook(&rec.Book); err != nil {
		slog.Debug("record rejected", slog.String("url", rec.URL), slog.Any("error", err))
		p.metrics.addValidation("invalid_record")
		return nil
	}

	if p.seen.Contains(rec.URL) {
		p.metrics.addValidation("duplicate_url")
		return nil
	}
	p.seen.Add(rec.URL, struct{}{})

	rec.Stock = parser.NormalizeAvailability(rec.Stock)
	rec.Authors = rec.AuthorsOrSentinel()

	p.metrics.processed++
	return rec
}

type metrics struct {
	processed  int64
	written    int64
	validation map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) addValidation(kind string) {
	m.validation[kind]++
}

func (m *metrics) snapshot() map[string]interface{} {
	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_records": m.processed,
		"written_records":   m.written,
		"validation_errors": copyValidation,
	}
}
