// Package catalog mirrors the indexed document table into PostgreSQL so
// operators can inspect indexed state with plain SQL. The catalog is an
// optional replica refreshed after every build; the index itself never
// reads from it, so a database outage can not affect search.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/velsin/docsearch/internal/indexer/index"
	apperrors "github.com/velsin/docsearch/pkg/errors"
	"github.com/velsin/docsearch/pkg/postgres"
)

// Record is one catalog row. ID matches the document's index ID.
type Record struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	TermCount int       `json:"term_count"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Catalog reads and writes the documents table.
type Catalog struct {
	db     *postgres.Client
	logger *slog.Logger
}

// New creates a Catalog over an established Postgres client.
func New(db *postgres.Client) *Catalog {
	return &Catalog{
		db:     db,
		logger: slog.Default().With("component", "catalog"),
	}
}

// EnsureSchema creates the documents table when absent.
func (c *Catalog) EnsureSchema(ctx context.Context) error {
	_, err := c.db.DB.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS documents (
			id         INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			term_count INTEGER NOT NULL,
			indexed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	)
	if err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	return nil
}

// Refresh replaces the catalog contents with the document table of ix in
// a single transaction.
func (c *Catalog) Refresh(ctx context.Context, ix *index.Index) error {
	termCounts := make(map[uint32]int, ix.DocCount())
	for _, e := range ix.Entries {
		termCounts[e.DocID]++
	}

	err := c.db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
			return fmt.Errorf("clearing documents table: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO documents (id, name, size_bytes, term_count) VALUES ($1, $2, $3, $4)`,
		)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for id, doc := range ix.Documents {
			if _, err := stmt.ExecContext(ctx, id, doc.Name, doc.Size, termCounts[uint32(id)]); err != nil {
				return fmt.Errorf("inserting document %s: %w", doc.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("catalog refreshed", "documents", ix.DocCount())
	return nil
}

// List returns catalog rows in ID order.
func (c *Catalog) List(ctx context.Context, limit, offset int) ([]Record, error) {
	rows, err := c.db.DB.QueryContext(ctx,
		`SELECT id, name, size_bytes, term_count, indexed_at
		 FROM documents ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Name, &r.SizeBytes, &r.TermCount, &r.IndexedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns one catalog row by document ID.
func (c *Catalog) Get(ctx context.Context, id int) (*Record, error) {
	var r Record
	err := c.db.DB.QueryRowContext(ctx,
		`SELECT id, name, size_bytes, term_count, indexed_at
		 FROM documents WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.SizeBytes, &r.TermCount, &r.IndexedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: document %d", apperrors.ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document %d: %w", id, err)
	}
	return &r, nil
}
