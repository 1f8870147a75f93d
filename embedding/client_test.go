package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, embeddings string, seen *embedRequest) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/embed":
			assert.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"embeddings": ` + embeddings + `, "embedding_model": "siglip"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestEmbedText(t *testing.T) {
	var seen embedRequest
	srv := newServer(t, `[0.1, 0.2, 0.3]`, &seen)

	vec, err := NewClient(srv.URL+"/").EmbedText(context.Background(), "whale")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, embedRequest{InputData: "whale", InputType: InputText}, seen)
}

func TestEmbedImageSqueezesBatchAndStripsDataURL(t *testing.T) {
	var seen embedRequest
	srv := newServer(t, `[[1, 2]]`, &seen)

	vec, err := NewClient(srv.URL).EmbedImage(context.Background(), "data:image/png;base64,aW1n")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vec)
	assert.Equal(t, embedRequest{InputData: "aW1n", InputType: InputImage}, seen)
}

func TestEmbedRejectsBadResponses(t *testing.T) {
	tests := map[string]string{
		"empty":       `[]`,
		"two vectors": `[[1], [2]]`,
		"not numbers": `"x"`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			var seen embedRequest
			srv := newServer(t, body, &seen)
			_, err := NewClient(srv.URL).EmbedText(context.Background(), "q")
			assert.Error(t, err)
		})
	}
}

func TestEmbedHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).EmbedText(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestWaitReady(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func(o *Options) { o.PollInterval = 5 * time.Millisecond })
	require.NoError(t, c.WaitReady(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitReadyHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewClient(srv.URL, func(o *Options) { o.PollInterval = 5 * time.Millisecond })
	err := c.WaitReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
