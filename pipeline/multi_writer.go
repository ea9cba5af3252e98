package pipeline

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// MultiWriter fans each batch out to several writers in order, e.g. the
// SQLite store followed by a file export.
type MultiWriter struct {
	writers []OutputWriter
}

// NewMultiWriter returns a writer over ws. Nil writers are skipped.
func NewMultiWriter(ws ...OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// Write stops at the first writer that fails.
func (mw *MultiWriter) Write(records []*models.Record) error {
	for i, w := range mw.writers {
		if err := w.Write(records); err != nil {
			return fmt.Errorf("writer %d: %w", i, err)
		}
	}
	return nil
}

// Close closes every writer and joins their errors.
func (mw *MultiWriter) Close() error {
	var errs []error
	for i, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every writer and joins their errors.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for i, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("validate writer %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
