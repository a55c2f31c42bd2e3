package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lifequery/backend/internal/pkg/httpx"
	"github.com/lifequery/backend/internal/pkg/logger"
)

const statusCacheTTL = 30 * time.Second

// bridge proxies a sidecar process that owns the actual provider session.
// When no bridge URL is configured the source reports uninitialized and the
// engine still works from file imports.
type bridge struct {
	log        *logger.Logger
	baseURL    string
	httpClient *http.Client
	maxRetries int

	mu           sync.Mutex
	cachedStatus *AuthStatus
	cachedAt     time.Time
}

// Bridge combines the message source and its auth gateway.
type Bridge interface {
	Source
	Gateway
	// InvalidateStatus drops the cached status, e.g. after auth changes.
	InvalidateStatus()
}

func NewBridge(baseURL string, log *logger.Logger) Bridge {
	return &bridge{
		log:        log.With("client", "SourceBridge"),
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		maxRetries: 2,
	}
}

type bridgeHTTPError struct {
	StatusCode int
	Body       string
}

func (e *bridgeHTTPError) Error() string {
	return fmt.Sprintf("source bridge http %d: %s", e.StatusCode, e.Body)
}

func (e *bridgeHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (b *bridge) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &bridgeHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (b *bridge) do(ctx context.Context, method, path string, body any, out any) error {
	if b.baseURL == "" {
		return fmt.Errorf("source bridge not configured")
	}
	backoff := 1 * time.Second
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		resp, raw, err := b.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("source bridge decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}
		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == b.maxRetries {
			return err
		}
		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)
		b.log.Warn("Source bridge request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (b *bridge) Status(ctx context.Context) (AuthStatus, error) {
	b.mu.Lock()
	if b.cachedStatus != nil && time.Since(b.cachedAt) < statusCacheTTL {
		cached := *b.cachedStatus
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	if b.baseURL == "" {
		return AuthStatus{State: StateUninitialized, Detail: "no source bridge configured"}, nil
	}
	var status AuthStatus
	if err := b.do(ctx, "GET", "/status", nil, &status); err != nil {
		return AuthStatus{State: StateError, Detail: err.Error()}, nil
	}
	b.mu.Lock()
	b.cachedStatus = &status
	b.cachedAt = time.Now()
	b.mu.Unlock()
	return status, nil
}

func (b *bridge) InvalidateStatus() {
	b.mu.Lock()
	b.cachedStatus = nil
	b.mu.Unlock()
}

func (b *bridge) AuthStart(ctx context.Context, phone string) (AuthStatus, error) {
	var status AuthStatus
	err := b.do(ctx, "POST", "/auth/start", map[string]string{"phone": phone}, &status)
	b.InvalidateStatus()
	return status, err
}

func (b *bridge) AuthVerify(ctx context.Context, token, code, password string) (AuthStatus, error) {
	var status AuthStatus
	err := b.do(ctx, "POST", "/auth/verify", map[string]string{
		"token":    token,
		"code":     code,
		"password": password,
	}, &status)
	b.InvalidateStatus()
	return status, err
}

func (b *bridge) Disconnect(ctx context.Context) (AuthStatus, error) {
	var status AuthStatus
	err := b.do(ctx, "POST", "/disconnect", nil, &status)
	b.InvalidateStatus()
	return status, err
}

func (b *bridge) Connected(ctx context.Context) bool {
	status, _ := b.Status(ctx)
	return status.State == StateConnected
}

func (b *bridge) Dialogs(ctx context.Context) ([]DialogInfo, error) {
	var out struct {
		Dialogs []DialogInfo `json:"dialogs"`
	}
	if err := b.do(ctx, "GET", "/dialogs", nil, &out); err != nil {
		return nil, err
	}
	return out.Dialogs, nil
}

func (b *bridge) Messages(ctx context.Context, chatID string, minID int64, batch int) ([]MessageTuple, error) {
	q := url.Values{}
	q.Set("chat_id", chatID)
	q.Set("min_id", strconv.FormatInt(minID, 10))
	q.Set("limit", strconv.Itoa(batch))
	var out struct {
		Messages []MessageTuple `json:"messages"`
	}
	if err := b.do(ctx, "GET", "/messages?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}
