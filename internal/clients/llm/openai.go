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
	"regexp"
	"strings"
	"time"

	"github.com/lifequery/backend/internal/pkg/httpx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

type llmHTTPError struct {
	StatusCode int
	Body       string
}

func (e *llmHTTPError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func (e *llmHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

var versionSuffixRe = regexp.MustCompile(`/v\d+[a-z0-9_-]*$`)

// NormalizeBaseURL appends /v1 unless the URL already ends in a version
// segment like /v1, /v4 or /v1beta.
func NormalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return baseURL
	}
	if versionSuffixRe.MatchString(baseURL) {
		return baseURL
	}
	return baseURL + "/v1"
}

// openAICompatClient speaks the OpenAI chat completions protocol, which
// covers OpenRouter, MiniMax, Z.AI and custom endpoints.
type openAICompatClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	extraBody  map[string]any
	httpClient *http.Client
	maxRetries int
}

func NewOpenAICompatClient(baseURL, apiKey string, extraBody map[string]any, log *logger.Logger) (Client, error) {
	normalized := NormalizeBaseURL(baseURL)
	if normalized == "" {
		return nil, fmt.Errorf("missing chat base url")
	}
	if strings.TrimSpace(apiKey) == "" {
		apiKey = "not-needed"
	}
	return &openAICompatClient{
		log:        log.With("client", "OpenAICompatClient"),
		baseURL:    normalized,
		apiKey:     apiKey,
		extraBody:  extraBody,
		httpClient: &http.Client{Timeout: 0},
		maxRetries: 2,
	}, nil
}

func (c *openAICompatClient) StreamChat(ctx context.Context, req Request, onEvent func(StreamEvent) error) error {
	body := map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
		"stream":      true,
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	for k, v := range c.extraBody {
		body[k] = v
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	watchdog := watchIdle(cancel, streamIdleTimeout)
	defer watchdog.Stop()

	backoff := 1 * time.Second
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		watchdog.Reset()
		resp, err := c.open(ctx, body)
		if err == nil {
			defer resp.Body.Close()
			return c.consume(resp.Body, watchdog, onEvent)
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}
		sleepFor := httpx.JitterSleep(backoff)
		c.log.Warn("Chat completion retrying",
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

func (c *openAICompatClient) open(ctx context.Context, body map[string]any) (*http.Response, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, nil
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openAICompatClient) consume(r io.Reader, watchdog *idleWatchdog, onEvent func(StreamEvent) error) error {
	return streamSSE(r, func(_ string, data string) error {
		watchdog.Reset()
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Providers occasionally interleave keep-alive junk.
			return nil
		}
		if chunk.Error != nil && chunk.Error.Message != "" {
			return fmt.Errorf("chat stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			reasoning := choice.Delta.Reasoning
			if reasoning == "" {
				reasoning = choice.Delta.ReasoningContent
			}
			if reasoning != "" {
				if err := onEvent(StreamEvent{Type: EventReasoning, Text: reasoning}); err != nil {
					return err
				}
			}
			if choice.Delta.Content != "" {
				if err := onEvent(StreamEvent{Type: EventToken, Text: choice.Delta.Content}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

type compatModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *openAICompatClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("models request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &llmHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var models compatModelsResponse
	if err := json.Unmarshal(raw, &models); err != nil {
		return nil, fmt.Errorf("models decode error: %w", err)
	}
	out := make([]string, 0, len(models.Data))
	for _, m := range models.Data {
		out = append(out, m.ID)
	}
	return out, nil
}

func streamSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		ev := eventName
		eventName = ""
		if onEvent == nil {
			return nil
		}
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		atEOF := errors.Is(err, io.EOF)
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if atEOF {
			return flush()
		}
	}
}
