package fundus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when a record, collection or image does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous is returned when a collection name matches several collections.
	ErrAmbiguous = errors.New("ambiguous collection name")
)

// Store is the read side of the collection database.
type Store interface {
	CountRecords(ctx context.Context) (int, error)
	CountRecordsPerCollection(ctx context.Context) (map[string]int, error)
	CountRecordsInCollection(ctx context.Context, collection string) (int, error)
	RandomRecords(ctx context.Context, n int, collection string) ([]Record, error)
	RecordByMuragID(ctx context.Context, muragID string) (*Record, error)
	RecordImage(ctx context.Context, muragID string) (*RecordImage, error)

	CountCollections(ctx context.Context) (int, error)
	ListCollections(ctx context.Context) ([]Collection, error)
	RandomCollections(ctx context.Context, n int) ([]Collection, error)
	CollectionByName(ctx context.Context, name string) (*Collection, error)

	SearchCollections(ctx context.Context, q CollectionQuery) ([]Collection, error)
	SearchRecordTitles(ctx context.Context, q RecordQuery) ([]Record, error)

	SimilarCollections(ctx context.Context, target CollectionVector, q SimilarityQuery) ([]CollectionSearchResult, error)
	SimilarRecords(ctx context.Context, target RecordVector, q SimilarityQuery) ([]RecordSearchResult, error)
}

// Embedder computes embeddings in the shared text/image space.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedImage embeds a base64 encoded image (no data URL prefix).
	EmbedImage(ctx context.Context, base64Image string) ([]float32, error)
}

// ResolveCollectionName maps a user supplied name, English title or German
// title to the canonical collection_name. Exact (case-insensitive) matches
// win; otherwise a unique substring match is accepted.
func ResolveCollectionName(collections []Collection, name string) (string, error) {
	q := strings.ToLower(strings.TrimSpace(name))
	if strings.Contains(q, "collection") {
		q = strings.TrimSpace(strings.ReplaceAll(q, "collection", ""))
	}

	if q == "" {
		return "", fmt.Errorf("collection %q: %w", name, ErrNotFound)
	}

	for _, c := range collections {
		if strings.ToLower(c.CollectionName) == q || strings.ToLower(c.Title) == q || strings.ToLower(c.TitleDE) == q {
			return c.CollectionName, nil
		}
	}

	var matches []string
	for _, c := range collections {
		if strings.Contains(strings.ToLower(c.CollectionName), q) ||
			strings.Contains(strings.ToLower(c.Title), q) ||
			strings.Contains(strings.ToLower(c.TitleDE), q) {
			matches = append(matches, c.CollectionName)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("collection %q: %w", name, ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("collection %q matches %s: %w", name, strings.Join(matches, ", "), ErrAmbiguous)
	}
}

// MimeFromName guesses the image mime type from a file name.
func MimeFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}
