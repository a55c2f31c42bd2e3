package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lifequery/backend/internal/pkg/logger"
)

// ollamaClient speaks the native Ollama API (/api/chat, /api/tags). The
// native endpoint is preferred over Ollama's /v1 shim because it exposes the
// model's thinking stream as a separate field.
type ollamaClient struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
}

func NewOllamaClient(baseURL string, log *logger.Logger) (Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing ollama base url")
	}
	// Native API lives at the server root, not under /v1.
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	return &ollamaClient{
		log:        log.With("client", "OllamaClient"),
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 0}, // streaming; rely on ctx
	}, nil
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Think    bool           `json:"think,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		Thinking  string `json:"thinking"`
		Reasoning string `json:"reasoning"`
		Thought   string `json:"thought"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func (c *ollamaClient) StreamChat(ctx context.Context, req Request, onEvent func(StreamEvent) error) error {
	body := ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   true,
		Think:    req.EnableThinking,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		body.Options["num_predict"] = req.MaxTokens
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := watchIdle(cancel, streamIdleTimeout)
	defer watchdog.Stop()

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", &buf)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	// Native API streams newline-delimited JSON objects.
	br := bufio.NewReader(resp.Body)
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			watchdog.Reset()
			var chunk ollamaChatChunk
			if uErr := json.Unmarshal(bytes.TrimSpace(line), &chunk); uErr != nil {
				c.log.Warn("Skipping malformed ollama stream line", "error", uErr)
			} else {
				if chunk.Error != "" {
					return fmt.Errorf("ollama stream error: %s", chunk.Error)
				}
				reasoning := chunk.Message.Thinking
				if reasoning == "" {
					reasoning = chunk.Message.Reasoning
				}
				if reasoning == "" {
					reasoning = chunk.Message.Thought
				}
				if reasoning != "" {
					if cbErr := onEvent(StreamEvent{Type: EventReasoning, Text: reasoning}); cbErr != nil {
						return cbErr
					}
				}
				if chunk.Message.Content != "" {
					if cbErr := onEvent(StreamEvent{Type: EventToken, Text: chunk.Message.Content}); cbErr != nil {
						return cbErr
					}
				}
				if chunk.Done {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (c *ollamaClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var tags ollamaTagsResponse
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("ollama tags decode error: %w", err)
	}
	out := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		out = append(out, m.Name)
	}
	return out, nil
}
