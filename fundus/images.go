package fundus

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/fundusmesh/logging"
)

var imageExts = map[string]string{
	"image/jpeg": "jpeg",
	"image/jpg":  "jpg",
	"image/png":  "png",
}

// ImageStore keeps user uploaded images on disk, one file per image named
// <id>.<ext>.
type ImageStore struct {
	mu     sync.RWMutex
	root   string
	images map[string]string
	logger logging.Logger
}

// NewImageStore opens dir, creating it if needed, and indexes the jpg, jpeg
// and png files already present.
func NewImageStore(dir string, logger logging.Logger) (*ImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}

	s := &ImageStore{
		root:   dir,
		images: make(map[string]string),
		logger: logging.OrNoOp(logger),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(e.Name())), ".")
		if ext != "jpg" && ext != "jpeg" && ext != "png" {
			continue
		}
		s.images[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = filepath.Join(dir, e.Name())
	}

	s.logger.Info("fundus.images.loaded", "dir", dir, "count", len(s.images))

	return s, nil
}

// Store validates and saves an image and returns its id. Only jpeg and png
// are accepted.
func (s *ImageStore) Store(data []byte, mime string) (string, error) {
	ext, ok := imageExts[strings.ToLower(mime)]
	if !ok {
		return "", fmt.Errorf("unsupported image format %q: supported formats are jpg, jpeg, png", mime)
	}

	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(s.root, id+"."+ext)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	s.mu.Lock()
	s.images[id] = path
	s.mu.Unlock()

	s.logger.Info("fundus.images.stored", "image_id", id, "path", path)

	return id, nil
}

// Base64 returns the base64 encoded image content.
func (s *ImageStore) Base64(id string) (string, error) {
	s.mu.RLock()
	path, ok := s.images[id]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("user image %q: %w", id, ErrNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read user image: %w", err)
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DataURL returns the image as a data URL suitable for model input.
func (s *ImageStore) DataURL(id string) (string, error) {
	b64, err := s.Base64(id)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	path := s.images[id]
	s.mu.RUnlock()

	return "data:" + MimeFromName(path) + ";base64," + b64, nil
}

// IDs returns the known image ids in sorted order.
func (s *ImageStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.images))
	for id := range s.images {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
