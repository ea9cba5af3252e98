// Package store persists crawl records into a normalized SQLite schema.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aluiziolira/go-scrape-catalog/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS authors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE
);
CREATE TABLE IF NOT EXISTS books (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT,
	category TEXT,
	price TEXT,
	stock TEXT,
	rating TEXT,
	upc TEXT UNIQUE,
	url TEXT
);
CREATE TABLE IF NOT EXISTS book_authors (
	book_id INTEGER,
	author_id INTEGER,
	PRIMARY KEY (book_id, author_id),
	FOREIGN KEY (book_id) REFERENCES books(id),
	FOREIGN KEY (author_id) REFERENCES authors(id)
);`

// Counts holds row counts per table.
type Counts struct {
	Authors     int
	Books       int
	BookAuthors int
}

// SQLiteStore writes records with insert-or-ignore semantics keyed on UPC,
// author name and the (book, author) pair.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLiteStore instance
func NewSQLiteStore(dbPath string) *SQLiteStore {
	return &SQLiteStore{
		dbPath: dbPath,
	}
}

// Open connects to the database and creates the schema if absent.
func (s *SQLiteStore) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; also keeps pragmas and in-memory databases on a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.db = db
	return nil
}

// Write persists all records in a single transaction.
func (s *SQLiteStore) Write(records []*models.Record) error {
	return s.Persist(context.Background(), records)
}

// Persist stores records. Existing books, authors and links are left
// untouched; the first write of a UPC wins.
func (s *SQLiteStore) Persist(ctx context.Context, records []*models.Record) error {
	if s.db == nil {
		return fmt.Errorf("store not open")
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback if we don't commit - ignore errors as they're expected if transaction was committed
		_ = tx.Rollback()
	}()

	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := persistRecord(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func persistRecord(ctx context.Context, tx *sql.Tx, rec *models.Record) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO books (title, category, price, stock, rating, upc, url) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Title, rec.Category, rec.Price, rec.Stock, rec.Rating, rec.UPC, rec.URL,
	); err != nil {
		return fmt.Errorf("insert book %s: %w", rec.UPC, err)
	}

	var bookID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM books WHERE upc = ?`, rec.UPC).Scan(&bookID); err != nil {
		return fmt.Errorf("resolve book %s: %w", rec.UPC, err)
	}

	for _, name := range rec.AuthorsOrSentinel() {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO authors (name) VALUES (?)`, name); err != nil {
			return fmt.Errorf("insert author %q: %w", name, err)
		}
		var authorID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM authors WHERE name = ?`, name).Scan(&authorID); err != nil {
			return fmt.Errorf("resolve author %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO book_authors (book_id, author_id) VALUES (?, ?)`,
			bookID, authorID,
		); err != nil {
			return fmt.Errorf("link book %s to %q: %w", rec.UPC, name, err)
		}
	}
	return nil
}

// Counts returns the current row count of each table.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	for _, q := range []struct {
		table string
		dst   *int
	}{
		{"authors", &c.Authors},
		{"books", &c.Books},
		{"book_authors", &c.BookAuthors},
	} {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table).Scan(q.dst); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", q.table, err)
		}
	}
	return c, nil
}

// Validate runs SQLite's quick integrity check.
func (s *SQLiteStore) Validate() error {
	if s.db == nil {
		return fmt.Errorf("store not open")
	}
	var result string
	if err := s.db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick check: %s", result)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
