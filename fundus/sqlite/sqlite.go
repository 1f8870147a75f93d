// Package sqlite implements fundus.Store on an embedded SQLite database.
//
// Embeddings are stored as JSON arrays and compared in process by cosine
// similarity; lexical search ranks LIKE matches by term frequency.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // register driver

	"github.com/hupe1980/fundusmesh/fundus"
	"github.com/hupe1980/fundusmesh/logging"
)

// Options configures a Store.
type Options struct {
	Logger logging.Logger
}

// Store is a fundus.Store backed by SQLite.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

var _ fundus.Store = (*Store)(nil)

// Open opens (or creates) the database at path. ":memory:" opens a private
// in-memory database.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	memory := path == ":memory:" || strings.Contains(path, "mode=memory")

	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logging.OrNoOp(opts.Logger)}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("fundus.sqlite.opened", "path", path)

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS collections (
			murag_id              TEXT PRIMARY KEY,
			collection_name       TEXT NOT NULL UNIQUE,
			title                 TEXT NOT NULL DEFAULT '',
			title_de              TEXT NOT NULL DEFAULT '',
			description           TEXT NOT NULL DEFAULT '',
			description_de        TEXT NOT NULL DEFAULT '',
			contacts              TEXT NOT NULL DEFAULT '[]',
			title_fields          TEXT NOT NULL DEFAULT '[]',
			fields                TEXT NOT NULL DEFAULT '[]',
			title_embedding       TEXT,
			description_embedding TEXT
		);

		CREATE TABLE IF NOT EXISTS records (
			murag_id        TEXT PRIMARY KEY,
			title           TEXT NOT NULL DEFAULT '',
			fundus_id       INTEGER NOT NULL DEFAULT 0,
			catalogno       TEXT NOT NULL DEFAULT '',
			collection_name TEXT NOT NULL,
			image_name      TEXT NOT NULL DEFAULT '',
			details         TEXT NOT NULL DEFAULT '{}',
			base64_image    TEXT NOT NULL DEFAULT '',
			image_embedding TEXT,
			title_embedding TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection_name);
		CREATE INDEX IF NOT EXISTS idx_records_fundus_id ON records(fundus_id);
	`)
	return err
}

// CollectionRow is a collection with its embeddings, as imported.
type CollectionRow struct {
	fundus.Collection
	TitleEmbedding       []float32 `json:"title_embedding,omitempty"`
	DescriptionEmbedding []float32 `json:"description_embedding,omitempty"`
}

// RecordRow is a record with its image and embeddings, as imported.
type RecordRow struct {
	fundus.Record
	Base64Image    string    `json:"base64_image,omitempty"`
	ImageEmbedding []float32 `json:"image_embedding,omitempty"`
	TitleEmbedding []float32 `json:"title_embedding,omitempty"`
}

// Dataset is the JSON import format.
type Dataset struct {
	Collections []CollectionRow `json:"collections"`
	Records     []RecordRow     `json:"records"`
}

// Import loads a JSON encoded Dataset from path and seeds it.
func (s *Store) Import(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading dataset: %w", err)
	}

	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return fmt.Errorf("parsing dataset: %w", err)
	}

	return s.Seed(ctx, ds)
}

// Seed inserts or replaces the given collections and records in one transaction.
func (s *Store) Seed(ctx context.Context, ds Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range ds.Collections {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO collections
				(murag_id, collection_name, title, title_de, description, description_de,
				 contacts, title_fields, fields, title_embedding, description_embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.MuragID, c.CollectionName, c.Title, c.TitleDE, c.Description, c.DescriptionDE,
			mustJSON(nonNil(c.Contacts)), mustJSON(nonNil(c.TitleFields)), mustJSON(nonNil(c.Fields)),
			vectorJSON(c.TitleEmbedding), vectorJSON(c.DescriptionEmbedding),
		)
		if err != nil {
			return fmt.Errorf("insert collection %s: %w", c.CollectionName, err)
		}
	}

	for _, r := range ds.Records {
		details := r.Details
		if details == nil {
			details = map[string]string{}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO records
				(murag_id, title, fundus_id, catalogno, collection_name, image_name,
				 details, base64_image, image_embedding, title_embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.MuragID, r.Title, r.FundusID, r.CatalogNo, r.CollectionName, r.ImageName,
			mustJSON(details), r.Base64Image, vectorJSON(r.ImageEmbedding), vectorJSON(r.TitleEmbedding),
		)
		if err != nil {
			return fmt.Errorf("insert record %s: %w", r.MuragID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("fundus.sqlite.seeded", "collections", len(ds.Collections), "records", len(ds.Records))

	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

func vectorJSON(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return mustJSON(v)
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, fundus.ErrNotFound)
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
