package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hupe1980/fundusmesh/fundus"
)

var collectionSearchFields = []string{"collection_name", "title", "description", "title_de", "description_de"}

func terms(q string) []string {
	return strings.Fields(strings.ToLower(q))
}

// likeFilter renders "(lower(f1) LIKE ? OR lower(f2) LIKE ? ...)" over every
// field/term pair.
func likeFilter(fields, terms []string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	for _, f := range fields {
		for _, t := range terms {
			conds = append(conds, "lower("+f+") LIKE ?")
			args = append(args, "%"+t+"%")
		}
	}
	return "(" + strings.Join(conds, " OR ") + ")", args
}

func score(texts []string, terms []string) int {
	n := 0
	for _, text := range texts {
		lt := strings.ToLower(text)
		for _, t := range terms {
			n += strings.Count(lt, t)
		}
	}
	return n
}

// SearchCollections ranks collections by the frequency of the query terms in
// the selected fields.
func (s *Store) SearchCollections(ctx context.Context, q fundus.CollectionQuery) ([]fundus.Collection, error) {
	fields := q.Fields
	if len(fields) == 0 {
		fields = collectionSearchFields
	}
	for _, f := range fields {
		if !contains(collectionSearchFields, f) {
			return nil, fmt.Errorf("unsupported search field %q", f)
		}
	}

	ts := terms(q.Query)
	if len(ts) == 0 {
		return []fundus.Collection{}, nil
	}

	where, args := likeFilter(fields, ts)

	cands, err := s.queryCollections(ctx, `SELECT `+collectionColumns+` FROM collections WHERE `+where+` ORDER BY collection_name`, args...)
	if err != nil {
		return nil, err
	}

	text := func(c fundus.Collection) []string {
		var out []string
		for _, f := range fields {
			switch f {
			case "collection_name":
				out = append(out, c.CollectionName)
			case "title":
				out = append(out, c.Title)
			case "description":
				out = append(out, c.Description)
			case "title_de":
				out = append(out, c.TitleDE)
			case "description_de":
				out = append(out, c.DescriptionDE)
			}
		}
		return out
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return score(text(cands[i]), ts) > score(text(cands[j]), ts)
	})

	return truncate(cands, q.TopK), nil
}

// SearchRecordTitles ranks records by the frequency of the query terms in
// their title.
func (s *Store) SearchRecordTitles(ctx context.Context, q fundus.RecordQuery) ([]fundus.Record, error) {
	ts := terms(q.Query)
	if len(ts) == 0 {
		return []fundus.Record{}, nil
	}

	where, args := likeFilter([]string{"title"}, ts)

	collections, err := s.resolveAll(ctx, q.Collections)
	if err != nil {
		return nil, err
	}
	if len(collections) > 0 {
		in, inArgs := inClause("collection_name", collections)
		where += " AND " + in
		args = append(args, inArgs...)
	}

	cands, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM records WHERE `+where+` ORDER BY murag_id`, args...)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return score([]string{cands[i].Title}, ts) > score([]string{cands[j].Title}, ts)
	})

	return truncate(cands, q.TopK), nil
}

// SimilarCollections returns the collections nearest to the query embedding.
func (s *Store) SimilarCollections(ctx context.Context, target fundus.CollectionVector, q fundus.SimilarityQuery) ([]fundus.CollectionSearchResult, error) {
	var column string
	switch target {
	case fundus.CollectionTitleVector:
		column = "title_embedding"
	case fundus.CollectionDescriptionVector:
		column = "description_embedding"
	default:
		return nil, fmt.Errorf("unknown collection vector %q", target)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+collectionColumns+`, `+column+` FROM collections WHERE `+column+` IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fundus.CollectionSearchResult
	for rows.Next() {
		var vector sql.NullString
		c, err := scanCollection(vectorScanner{rows, &vector})
		if err != nil {
			return nil, err
		}
		sim, err := similarity(q.Embedding, vector.String)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", c.CollectionName, err)
		}
		certainty, distance := metrics(sim)
		if certainty < q.MinCertainty {
			continue
		}
		out = append(out, fundus.CollectionSearchResult{Collection: c, Certainty: certainty, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })

	return truncate(nonNil(out), q.TopK), nil
}

// SimilarRecords returns the records nearest to the query embedding.
func (s *Store) SimilarRecords(ctx context.Context, target fundus.RecordVector, q fundus.SimilarityQuery) ([]fundus.RecordSearchResult, error) {
	var column string
	switch target {
	case fundus.RecordImageVector:
		column = "image_embedding"
	case fundus.RecordTitleVector:
		column = "title_embedding"
	default:
		return nil, fmt.Errorf("unknown record vector %q", target)
	}

	where := column + " IS NOT NULL"
	var args []any

	collections, err := s.resolveAll(ctx, q.Collections)
	if err != nil {
		return nil, err
	}
	if len(collections) > 0 {
		in, inArgs := inClause("collection_name", collections)
		where += " AND " + in
		args = inArgs
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+`, `+column+` FROM records WHERE `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fundus.RecordSearchResult
	for rows.Next() {
		var vector sql.NullString
		r, err := scanRecord(vectorScanner{rows, &vector})
		if err != nil {
			return nil, err
		}
		sim, err := similarity(q.Embedding, vector.String)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.MuragID, err)
		}
		certainty, distance := metrics(sim)
		if certainty < q.MinCertainty {
			continue
		}
		out = append(out, fundus.RecordSearchResult{Record: r, Certainty: certainty, Distance: distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })

	return truncate(nonNil(out), q.TopK), nil
}

// vectorScanner appends the trailing embedding column to a row scan.
type vectorScanner struct {
	row    scanner
	vector *sql.NullString
}

func (v vectorScanner) Scan(dest ...any) error {
	return v.row.Scan(append(dest, v.vector)...)
}

func similarity(query []float32, stored string) (float64, error) {
	var vec []float32
	if err := json.Unmarshal([]byte(stored), &vec); err != nil {
		return 0, fmt.Errorf("decode embedding: %w", err)
	}
	return Cosine(query, vec)
}

// metrics converts a cosine similarity into certainty in [0, 1] and cosine
// distance.
func metrics(cos float64) (certainty, distance float64) {
	return (1 + cos) / 2, 1 - cos
}

// Cosine returns the cosine similarity of a and b. Zero vectors have
// similarity 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}

	if na == 0 || nb == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

func truncate[T any](s []T, k int) []T {
	if k > 0 && len(s) > k {
		return s[:k]
	}
	return s
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
