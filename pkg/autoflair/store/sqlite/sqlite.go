package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/autoflair/pkg/autoflair/catalog"
	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
	"github.com/cognicore/autoflair/pkg/autoflair/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, internalerr.ErrStoreUnavailable)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %v: %w", err, internalerr.ErrStoreUnavailable)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS flair_catalog (
	idx INTEGER PRIMARY KEY,
	flair_text TEXT UNIQUE NOT NULL,
	template_id TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	ordinal INTEGER PRIMARY KEY,
	flair_text TEXT NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL,
	domain TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS predictions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id TEXT NOT NULL,
	title TEXT,
	flair_text TEXT NOT NULL,
	confidence REAL NOT NULL,
	model_id TEXT,
	tagged_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_post ON predictions(post_id);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// ReplaceCatalog swaps the stored catalog snapshot atomically
func (s *sqliteStore) ReplaceCatalog(ctx context.Context, choices []catalog.Choice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM flair_catalog`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO flair_catalog (idx, flair_text, template_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, ch := range choices {
		if _, err := stmt.ExecContext(ctx, i, ch.Text, ch.TemplateID); err != nil {
			return fmt.Errorf("insert flair %q: %w", ch.Text, err)
		}
	}

	return tx.Commit()
}

// Catalog returns the stored catalog in index order
func (s *sqliteStore) Catalog(ctx context.Context) ([]catalog.Choice, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flair_text, template_id FROM flair_catalog ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Choice
	for rows.Next() {
		var ch catalog.Choice
		if err := rows.Scan(&ch.Text, &ch.TemplateID); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// ReplaceRecords swaps the stored dataset atomically
func (s *sqliteStore) ReplaceRecords(ctx context.Context, records []ingest.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (ordinal, flair_text, title, body, domain) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %v: %w", i, err, internalerr.ErrInvalidInput)
		}
		if _, err := stmt.ExecContext(ctx, i, r.Flair, r.Title, r.Body, r.Domain); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Records returns the stored dataset in extraction order
func (s *sqliteStore) Records(ctx context.Context) ([]ingest.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT flair_text, title, body, domain FROM records ORDER BY ordinal`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ingest.Record
	for rows.Next() {
		var r ingest.Record
		if err := rows.Scan(&r.Flair, &r.Title, &r.Body, &r.Domain); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountRecords returns the dataset size
func (s *sqliteStore) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// RecordPrediction appends to the prediction log
func (s *sqliteStore) RecordPrediction(ctx context.Context, p store.Prediction) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO predictions (post_id, title, flair_text, confidence, model_id, tagged_at)
VALUES (?, ?, ?, ?, ?, ?);
`, p.PostID, p.Title, p.Flair, p.Confidence, p.ModelID, p.TaggedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// RecentPredictions returns the newest predictions first
func (s *sqliteStore) RecentPredictions(ctx context.Context, limit int) ([]store.Prediction, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT post_id, title, flair_text, confidence, model_id, tagged_at
FROM predictions
ORDER BY id DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Prediction
	for rows.Next() {
		var (
			p        store.Prediction
			title    sql.NullString
			modelID  sql.NullString
			taggedAt string
		)
		if err := rows.Scan(&p.PostID, &title, &p.Flair, &p.Confidence, &modelID, &taggedAt); err != nil {
			return nil, err
		}
		p.Title = title.String
		p.ModelID = modelID.String
		if p.TaggedAt, err = time.Parse(time.RFC3339Nano, taggedAt); err != nil {
			return nil, fmt.Errorf("parse tagged_at %q: %w", taggedAt, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
