package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/fundusmesh/fundus"
)

const collectionColumns = `murag_id, collection_name, title, title_de, description, description_de, contacts, title_fields, fields`

const recordColumns = `murag_id, title, fundus_id, catalogno, collection_name, image_name, details`

type scanner interface {
	Scan(dest ...any) error
}

func scanCollection(row scanner) (fundus.Collection, error) {
	var (
		c                        fundus.Collection
		contacts, tfields, field string
	)

	if err := row.Scan(&c.MuragID, &c.CollectionName, &c.Title, &c.TitleDE, &c.Description, &c.DescriptionDE,
		&contacts, &tfields, &field); err != nil {
		return c, err
	}

	if err := json.Unmarshal([]byte(contacts), &c.Contacts); err != nil {
		return c, fmt.Errorf("decode contacts: %w", err)
	}
	if err := json.Unmarshal([]byte(tfields), &c.TitleFields); err != nil {
		return c, fmt.Errorf("decode title_fields: %w", err)
	}
	if err := json.Unmarshal([]byte(field), &c.Fields); err != nil {
		return c, fmt.Errorf("decode fields: %w", err)
	}

	return c, nil
}

func scanRecord(row scanner) (fundus.Record, error) {
	var (
		r       fundus.Record
		details string
	)

	if err := row.Scan(&r.MuragID, &r.Title, &r.FundusID, &r.CatalogNo, &r.CollectionName, &r.ImageName, &details); err != nil {
		return r, err
	}

	if err := json.Unmarshal([]byte(details), &r.Details); err != nil {
		return r, fmt.Errorf("decode details: %w", err)
	}

	return r, nil
}

func (s *Store) queryCollections(ctx context.Context, query string, args ...any) ([]fundus.Collection, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []fundus.Collection{}
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}

	return out, rows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]fundus.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []fundus.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// resolve maps a user supplied collection name to its canonical form.
func (s *Store) resolve(ctx context.Context, name string) (string, error) {
	all, err := s.ListCollections(ctx)
	if err != nil {
		return "", err
	}
	return fundus.ResolveCollectionName(all, name)
}

func (s *Store) resolveAll(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	all, err := s.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		cn, err := fundus.ResolveCollectionName(all, n)
		if err != nil {
			return nil, err
		}
		out = append(out, cn)
	}

	return out, nil
}

// inClause renders "col IN (?, ?, ...)" for the given values.
func inClause(col string, values []string) (string, []any) {
	ph := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		ph[i] = "?"
		args[i] = v
	}
	return col + " IN (" + strings.Join(ph, ", ") + ")", args
}

// CountRecords returns the total number of records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM records`)
}

// CountRecordsPerCollection returns the record count keyed by collection_name.
func (s *Store) CountRecordsPerCollection(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.collection_name, COUNT(r.murag_id)
		FROM collections c LEFT JOIN records r ON r.collection_name = c.collection_name
		GROUP BY c.collection_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}

	return out, rows.Err()
}

// CountRecordsInCollection returns the number of records of one collection.
func (s *Store) CountRecordsInCollection(ctx context.Context, collection string) (int, error) {
	cn, err := s.resolve(ctx, collection)
	if err != nil {
		return 0, err
	}
	return s.count(ctx, `SELECT COUNT(*) FROM records WHERE collection_name = ?`, cn)
}

// RandomRecords returns up to n random records, optionally from one collection.
func (s *Store) RandomRecords(ctx context.Context, n int, collection string) ([]fundus.Record, error) {
	if collection == "" {
		return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM records ORDER BY random() LIMIT ?`, n)
	}

	cn, err := s.resolve(ctx, collection)
	if err != nil {
		return nil, err
	}

	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM records WHERE collection_name = ? ORDER BY random() LIMIT ?`, cn, n)
}

// RecordByMuragID returns one record.
func (s *Store) RecordByMuragID(ctx context.Context, muragID string) (*fundus.Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE murag_id = ?`, muragID))
	if isNoRows(err) {
		return nil, notFound("record", muragID)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordImage returns the image of one record.
func (s *Store) RecordImage(ctx context.Context, muragID string) (*fundus.RecordImage, error) {
	img := &fundus.RecordImage{}

	err := s.db.QueryRowContext(ctx,
		`SELECT murag_id, fundus_id, image_name, base64_image FROM records WHERE murag_id = ?`, muragID,
	).Scan(&img.MuragID, &img.FundusID, &img.ImageName, &img.Base64Image)
	if isNoRows(err) {
		return nil, notFound("record", muragID)
	}
	if err != nil {
		return nil, err
	}

	if img.Base64Image == "" {
		return nil, notFound("image of record", muragID)
	}

	return img, nil
}

// CountCollections returns the number of collections.
func (s *Store) CountCollections(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM collections`)
}

// ListCollections returns all collections ordered by name.
func (s *Store) ListCollections(ctx context.Context) ([]fundus.Collection, error) {
	return s.queryCollections(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY collection_name`)
}

// RandomCollections returns up to n random collections.
func (s *Store) RandomCollections(ctx context.Context, n int) ([]fundus.Collection, error) {
	return s.queryCollections(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY random() LIMIT ?`, n)
}

// CollectionByName returns the collection matching name, English or German title.
func (s *Store) CollectionByName(ctx context.Context, name string) (*fundus.Collection, error) {
	cn, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	c, err := scanCollection(s.db.QueryRowContext(ctx,
		`SELECT `+collectionColumns+` FROM collections WHERE collection_name = ?`, cn))
	if isNoRows(err) {
		return nil, notFound("collection", name)
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}
