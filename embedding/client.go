// Package embedding is the client of the ML service that computes text and
// image embeddings in a shared vector space.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/fundusmesh/fundus"
	"github.com/hupe1980/fundusmesh/logging"
)

// Input types understood by the service.
const (
	InputText  = "text"
	InputImage = "image"
)

// Options configures a Client.
type Options struct {
	// HTTPClient performs the requests. Defaults to a client with Timeout.
	HTTPClient *http.Client
	// Timeout of a single request when HTTPClient is not set.
	Timeout time.Duration
	// PollInterval between health checks in WaitReady.
	PollInterval time.Duration
	Logger       logging.Logger
}

// Client talks to the embedding service.
type Client struct {
	baseURL string
	opts    Options
}

var _ fundus.Embedder = (*Client)(nil)

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		Timeout:      30 * time.Second,
		PollInterval: time.Second,
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	opts.Logger = logging.OrNoOp(opts.Logger)

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), opts: opts}
}

type embedRequest struct {
	InputData string `json:"input_data"`
	InputType string `json:"input_type"`
}

type embedResponse struct {
	Embeddings     json.RawMessage `json:"embeddings"`
	EmbeddingModel string          `json:"embedding_model"`
}

// EmbedText embeds a text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, embedRequest{InputData: text, InputType: InputText})
}

// EmbedImage embeds a base64 encoded image. A data URL prefix is stripped.
func (c *Client) EmbedImage(ctx context.Context, base64Image string) ([]float32, error) {
	if i := strings.Index(base64Image, ","); strings.HasPrefix(base64Image, "data:") && i >= 0 {
		base64Image = base64Image[i+1:]
	}
	return c.embed(ctx, embedRequest{InputData: base64Image, InputType: InputImage})
}

func (c *Client) embed(ctx context.Context, in embedRequest) ([]float32, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	vec, err := squeeze(out.Embeddings)
	if err != nil {
		return nil, err
	}

	c.opts.Logger.Debug("embedding.computed",
		"input_type", in.InputType,
		"model", out.EmbeddingModel,
		"dim", len(vec),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return vec, nil
}

// squeeze accepts a flat vector or a batch holding exactly one vector.
func squeeze(raw json.RawMessage) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		if len(flat) == 0 {
			return nil, errors.New("empty embedding")
		}
		return flat, nil
	}

	var batch [][]float32
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}
	if len(batch) != 1 || len(batch[0]) == 0 {
		return nil, fmt.Errorf("expected one embedding, got %d", len(batch))
	}

	return batch[0], nil
}

// Healthy reports whether GET /health answers 200.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// WaitReady polls the health endpoint until it succeeds or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if c.Healthy(ctx) {
			c.opts.Logger.Info("embedding.ready", "url", c.baseURL)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("embedding service %s not ready: %w", c.baseURL, ctx.Err())
		case <-ticker.C:
		}
	}
}
