package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s := NewSQLiteStore(filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, s.Open(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(title, upc string, authors ...string) *models.Record {
	return &models.Record{
		Book: models.Book{
			Title:    title,
			Category: "Poetry",
			Price:    "£10.00",
			Stock:    "In stock",
			Rating:   "Three",
			UPC:      upc,
			URL:      "http://example.test/catalogue/" + upc + "/index.html",
		},
		Authors: authors,
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	records := []*models.Record{
		record("One", "upc-1", "A"),
		record("Two", "upc-2", "A", "B"),
	}

	require.NoError(t, s.Persist(ctx, records))
	first, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Authors: 2, Books: 2, BookAuthors: 3}, first)

	require.NoError(t, s.Persist(ctx, records))
	second, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPersistDedupByUPCFirstWriteWins(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []*models.Record{
		record("Original Title", "same-upc", "A"),
		record("Changed Title", "same-upc", "A"),
	}))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.Books)

	var title string
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT title FROM books WHERE upc = ?`, "same-upc").Scan(&title))
	require.Equal(t, "Original Title", title)
}

func TestPersistAssociations(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []*models.Record{record("Earlier", "upc-a", "A")}))
	require.NoError(t, s.Persist(ctx, []*models.Record{record("Shared", "upc-b", "A", "B")}))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts.Authors)

	var links int
	require.NoError(t, s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM book_authors ba
		JOIN books b ON b.id = ba.book_id
		WHERE b.upc = ?`, "upc-b").Scan(&links))
	require.Equal(t, 2, links)
	require.Equal(t, 3, counts.BookAuthors)
}

func TestPersistUsesSentinelAuthor(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []*models.Record{
		record("Orphan", "upc-x"),
		record("Also Orphan", "upc-y", models.UnknownAuthor),
	}))

	var names []string
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM authors`)
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{models.UnknownAuthor}, names)

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts.BookAuthors)
}

func TestPersistEmptyLeavesTablesUnchanged(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, []*models.Record{record("One", "upc-1", "A")}))
	before, err := s.Counts(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Write(nil))
	after, err := s.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.NoError(t, s.Validate())
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "books.db")
	ctx := context.Background()

	first := NewSQLiteStore(path)
	require.NoError(t, first.Open(ctx))
	require.NoError(t, first.Persist(ctx, []*models.Record{record("One", "upc-1", "A")}))
	require.NoError(t, first.Close())

	second := NewSQLiteStore(path)
	require.NoError(t, second.Open(ctx))
	defer func() { _ = second.Close() }()
	require.NoError(t, second.Persist(ctx, []*models.Record{record("One again", "upc-1", "A")}))

	counts, err := second.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, Counts{Authors: 1, Books: 1, BookAuthors: 1}, counts)
}
