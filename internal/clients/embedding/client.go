package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lifequery/backend/internal/pkg/httpx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

// BatchSize is how many texts go into one embeddings request. The endpoint
// contract allows up to 64; 32 keeps request bodies small for local models.
const BatchSize = 32

// Client talks to an OpenAI-compatible /v1/embeddings endpoint. Works with
// Ollama's /v1 surface or any cloud provider exposing the same API.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, input string) ([]float32, error)
	CheckConnection(ctx context.Context) error
	CheckModelExists(ctx context.Context, model string) (bool, error)
	// Model returns the embedding model name, which doubles as the
	// embedding version recorded on chunks and vectors.
	Model() string
}

type client struct {
	log        *logger.Logger
	baseURL    string
	model      string
	httpClient *http.Client
	maxRetries int
}

// NewClient derives the endpoint from the configured service URL by
// appending /v1 when missing. Rebuild the client when the URL or model
// setting changes.
func NewClient(serviceURL, model string, log *logger.Logger) (Client, error) {
	serviceURL = strings.TrimRight(strings.TrimSpace(serviceURL), "/")
	if serviceURL == "" {
		return nil, fmt.Errorf("missing embedding service url")
	}
	if !strings.HasSuffix(serviceURL, "/v1") {
		serviceURL += "/v1"
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("missing embedding model")
	}
	return &client{
		log:        log.With("client", "EmbeddingClient"),
		baseURL:    serviceURL,
		model:      model,
		// One request carries one batch, so this is the per-batch budget.
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 2,
	}, nil
}

func (c *client) Model() string { return c.model }

type embeddingHTTPError struct {
	StatusCode int
	Body       string
}

func (e *embeddingHTTPError) Error() string {
	return fmt.Sprintf("embedding http %d: %s", e.StatusCode, e.Body)
}

func (e *embeddingHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	// Local Ollama ignores the key; cloud providers may not need one here.
	req.Header.Set("Authorization", "Bearer ollama")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &embeddingHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("embedding decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)
		c.log.Warn("Embedding request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{Model: c.model, Input: clean}
	var resp embeddingsResponse
	if err := c.do(ctx, "POST", "/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := assembleByIndex(resp, len(clean))
	if hasMissingEmbeddings(out) {
		c.log.Warn("Embeddings response missing indices; retrying once",
			"requested", len(clean),
			"returned", len(resp.Data),
			"model", c.model,
		)
		var resp2 embeddingsResponse
		if err := c.do(ctx, "POST", "/embeddings", req, &resp2); err != nil {
			return nil, err
		}
		out = assembleByIndex(resp2, len(clean))
		if hasMissingEmbeddings(out) {
			return nil, fmt.Errorf("embeddings missing indices after retry: requested=%d returned=%d model=%s",
				len(clean), len(resp2.Data), c.model)
		}
	}
	return out, nil
}

func assembleByIndex(resp embeddingsResponse, n int) [][]float32 {
	out := make([][]float32, n)

	indexed := false
	for _, d := range resp.Data {
		if d.Index != 0 {
			indexed = true
			break
		}
	}
	// Some local servers omit indices and return rows in request order.
	if !indexed && len(resp.Data) == n {
		for i, d := range resp.Data {
			out[i] = toFloat32(d.Embedding)
		}
		return out
	}

	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < n {
			out[d.Index] = toFloat32(d.Embedding)
		}
	}
	return out
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, f := range in {
		out[i] = float32(f)
	}
	return out
}

func hasMissingEmbeddings(v [][]float32) bool {
	for i := range v {
		if len(v[i]) == 0 {
			return true
		}
	}
	return false
}

func (c *client) EmbedSingle(ctx context.Context, input string) ([]float32, error) {
	vecs, err := c.Embed(ctx, []string{input})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("empty embeddings response")
	}
	return vecs[0], nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *client) CheckConnection(ctx context.Context) error {
	var resp modelsResponse
	return c.do(ctx, "GET", "/models", nil, &resp)
}

var tagSuffixRe = regexp.MustCompile(`:[^:]*$`)

// CheckModelExists tolerates namespace prefixes
// (e.g. "ZimaBlueAI/Qwen3-Embedding-0.6B:Q8_0") and case/tag differences.
func (c *client) CheckModelExists(ctx context.Context, model string) (bool, error) {
	var resp modelsResponse
	if err := c.do(ctx, "GET", "/models", nil, &resp); err != nil {
		return false, err
	}

	wantLower := strings.ToLower(model)
	wantBase := tagSuffixRe.ReplaceAllString(wantLower, "")

	for _, m := range resp.Data {
		id := strings.ToLower(m.ID)
		idShort := id
		if i := strings.LastIndex(id, "/"); i >= 0 {
			idShort = id[i+1:]
		}
		idBase := tagSuffixRe.ReplaceAllString(idShort, "")
		if id == wantLower || idShort == wantLower || idShort == wantLower+":latest" || idBase == wantBase {
			return true, nil
		}
	}
	c.log.Warn("Embedding model not found in available models", "model", model)
	return false, nil
}
