package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/richfilter/internal/apperr"
	"github.com/starford/richfilter/internal/filter"
)

// DocumentRow represents a row in the documents table.
type DocumentRow struct {
	Path        string
	Title       string
	Checksum    string
	Format      string
	Blocks      int
	EntityTypes []string
	UpdatedAt   time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string
	Title   string
	Snippet string
}

// RunRow is one recorded pass of the filter pipeline over a document.
type RunRow struct {
	ID        string
	Path      string
	Source    string
	Report    filter.Report
	Changed   bool
	CreatedAt time.Time
}

// UpsertDocument inserts or replaces a document and its FTS entry within a transaction.
func (db *DB) UpsertDocument(d DocumentRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := upsertDocument(tx, d, body); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertDocument(tx *sql.Tx, d DocumentRow, body string) error {
	if d.EntityTypes == nil {
		d.EntityTypes = []string{}
	}
	typesJSON, _ := json.Marshal(d.EntityTypes)
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	if d.Format == "" {
		d.Format = "json"
	}

	_, err := tx.Exec(`
		INSERT INTO documents (path, title, checksum, format, blocks, entity_types, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title        = excluded.title,
			checksum     = excluded.checksum,
			format       = excluded.format,
			blocks       = excluded.blocks,
			entity_types = excluded.entity_types,
			body         = excluded.body,
			updated_at   = excluded.updated_at
	`, d.Path, d.Title, d.Checksum, d.Format, d.Blocks, string(typesJSON), body, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	return ftsUpsert(tx, d.Path, d.Title, body)
}

// DeleteDocument removes a document and its FTS entry. Run history is kept.
func (db *DB) DeleteDocument(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete document: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for a document, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM documents WHERE path = ?`, path).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// GetDocument returns the catalog row for path.
func (db *DB) GetDocument(path string) (*DocumentRow, error) {
	row := db.conn.QueryRow(`
		SELECT path, title, checksum, format, blocks, entity_types, updated_at
		FROM documents WHERE path = ?`, path)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: document %q: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get document: %w", err)
	}
	return &d, nil
}

var listOrder = map[string]string{
	"":       "path ASC",
	"path":   "path ASC",
	"title":  "title COLLATE NOCASE ASC, path ASC",
	"recent": "updated_at DESC, path ASC",
}

// ListDocuments returns a page of documents and the total count.
// sort is one of "path" (default), "title" or "recent".
func (db *DB) ListDocuments(limit, offset int, sort string) ([]DocumentRow, int, error) {
	order, ok := listOrder[sort]
	if !ok {
		return nil, 0, fmt.Errorf("index: unknown sort %q", sort)
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count documents: %w", err)
	}

	rows, err := db.conn.Query(`
		SELECT path, title, checksum, format, blocks, entity_types, updated_at
		FROM documents ORDER BY `+order+` LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list documents: %w", err)
	}
	defer rows.Close()

	out := make([]DocumentRow, 0, limit)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("index: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

// AllChecksums returns path → checksum for every indexed document.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// RecordRun appends a filter run to the history. ID and CreatedAt are
// filled in when empty.
func (db *DB) RecordRun(run RunRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := recordRun(tx, run); err != nil {
		return err
	}
	return tx.Commit()
}

func recordRun(tx *sql.Tx, run RunRow) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	r := run.Report
	_, err := tx.Exec(`
		INSERT INTO filter_runs (id, path, source, depth_limited, block_types_reset,
			inline_styles_stripped, atomic_blocks_reset, atomic_blocks_demoted,
			entities_stripped, changed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Path, run.Source, r.DepthLimited, r.BlockTypesReset,
		r.InlineStylesStripped, r.AtomicBlocksReset, r.AtomicBlocksDemoted,
		r.EntitiesStripped, run.Changed, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("index: record run: %w", err)
	}
	return nil
}

// Runs returns the most recent filter runs for path, newest first.
// An empty path returns runs across all documents.
func (db *DB) Runs(path string, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, path, source, depth_limited, block_types_reset,
			inline_styles_stripped, atomic_blocks_reset, atomic_blocks_demoted,
			entities_stripped, changed, created_at
		FROM filter_runs`
	args := []any{}
	if path != "" {
		query += ` WHERE path = ?`
		args = append(args, path)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("index: runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var run RunRow
		r := &run.Report
		if err := rows.Scan(&run.ID, &run.Path, &run.Source, &r.DepthLimited, &r.BlockTypesReset,
			&r.InlineStylesStripped, &r.AtomicBlocksReset, &r.AtomicBlocksDemoted,
			&r.EntitiesStripped, &run.Changed, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("index: scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (DocumentRow, error) {
	var (
		d         DocumentRow
		typesJSON string
	)
	if err := s.Scan(&d.Path, &d.Title, &d.Checksum, &d.Format, &d.Blocks, &typesJSON, &d.UpdatedAt); err != nil {
		return d, err
	}
	if err := json.Unmarshal([]byte(typesJSON), &d.EntityTypes); err != nil {
		return d, fmt.Errorf("decode entity types: %w", err)
	}
	return d, nil
}
