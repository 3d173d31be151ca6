package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"eures-rank/internal/domain"
)

// Client is an OpenAI-compatible embeddings client. It also understands the
// Ollama-native response shape.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int

	mu        sync.Mutex
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL string
	// APIKeyEnv names the env var holding the key. Empty means no
	// Authorization header, as for a local Ollama.
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	// Dimension is the expected vector length; 0 learns it from the first
	// response.
	Dimension  int
	MaxRetries int
	HTTPClient *http.Client
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	var key string
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrProviderUnavailable, cfg.APIKeyEnv)
		}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: t}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     key,
		model:      cfg.Model,
		client:     hc,
		maxRetries: retries,
		dimension:  cfg.Dimension,
	}, nil
}

func (c *Client) Name() string { return "openai:" + c.model }

// Dimension is 0 until it is configured or learned from the first response.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed returns an embedding vector for the given text.
//
// Errors wrap domain.ErrProviderUnavailable when no further request can
// succeed (bad credentials, unknown model, endpoint down after retries,
// wrong dimension) and domain.ErrRecordSkipped when only this input was
// rejected.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", domain.ErrRecordSkipped)
	}
	type reqBody struct {
		Input  string `json:"input,omitempty"`
		Prompt string `json:"prompt,omitempty"`
		Model  string `json:"model"`
	}
	data, err := json.Marshal(reqBody{Input: text, Prompt: text, Model: c.model})
	if err != nil {
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second

	v, err := backoff.Retry(ctx, func() ([]float32, error) {
		return c.post(ctx, data)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxRetries)+1),
	)
	switch {
	case err == nil:
		return v, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, domain.ErrProviderUnavailable), errors.Is(err, domain.ErrRecordSkipped):
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}

// post makes one request. Errors that no retry can fix are wrapped with
// backoff.Permanent; a Retry-After header on 429 and 5xx sets the next wait.
func (c *Client) post(ctx context.Context, data []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		err := fmt.Errorf("embeddings failed: %s", resp.Status)
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs >= 0 {
			return nil, fmt.Errorf("%w (%w)", err, backoff.RetryAfter(secs))
		}
		return nil, err
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, resp.Status))
	case resp.StatusCode >= 300:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: %s", domain.ErrRecordSkipped, resp.Status, snippet(payload)))
	}
	if readErr != nil {
		return nil, readErr
	}

	v, err := decode(payload)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("%w: empty embedding returned", domain.ErrRecordSkipped))
	}
	if err := c.checkDimension(len(v)); err != nil {
		return nil, backoff.Permanent(err)
	}
	return v, nil
}

func (c *Client) checkDimension(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dimension == 0 {
		c.dimension = n
		return nil
	}
	if n != c.dimension {
		return fmt.Errorf("%w: got %d dimensions, want %d", domain.ErrProviderUnavailable, n, c.dimension)
	}
	return nil
}

// decode accepts the OpenAI shape {"data":[{"embedding":[...]}]} and falls
// back to the Ollama-native shape {"embedding":[...]}.
func decode(payload []byte) ([]float32, error) {
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(out.Data) > 0 {
		return out.Data[0].Embedding, nil
	}
	if out.Embedding == nil && out.Data == nil {
		return nil, errors.New("no embedding in response")
	}
	return out.Embedding, nil
}

func snippet(b []byte) string {
	if len(b) > 200 {
		b = b[:200]
	}
	return strings.TrimSpace(string(b))
}
