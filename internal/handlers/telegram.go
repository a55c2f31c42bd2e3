package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lifequery/backend/internal/pkg/logger"
	"github.com/lifequery/backend/internal/source"
)

const (
	authAttemptWindow = 10 * time.Minute
	authAttemptLimit  = 5
)

// TelegramHandler fronts the source sidecar's auth state machine. Provider
// credentials never pass through here beyond the phone/code/password relay.
type TelegramHandler struct {
	bridge source.Bridge
	log    *logger.Logger

	mu       sync.Mutex
	attempts map[string][]time.Time
}

func NewTelegramHandler(bridge source.Bridge, log *logger.Logger) *TelegramHandler {
	return &TelegramHandler{
		bridge:   bridge,
		log:      log.With("handler", "TelegramHandler"),
		attempts: make(map[string][]time.Time),
	}
}

// allow applies a sliding-window rate limit per phone number. Codes are
// easy to burn through; providers ban accounts that spray them.
func (h *TelegramHandler) allow(phone string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-authAttemptWindow)
	recent := h.attempts[phone][:0]
	for _, t := range h.attempts[phone] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= authAttemptLimit {
		h.attempts[phone] = recent
		return false
	}
	h.attempts[phone] = append(recent, time.Now())
	return true
}

func (h *TelegramHandler) Status(c *gin.Context) {
	status, err := h.bridge.Status(c.Request.Context())
	if err != nil {
		h.log.Warn("Source status failed", "error", err)
	}
	c.JSON(http.StatusOK, status)
}

func (h *TelegramHandler) AuthStart(c *gin.Context) {
	var body struct {
		Phone string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Phone) == "" {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("missing phone"))
		return
	}
	phone := strings.TrimSpace(body.Phone)
	if !h.allow(phone) {
		RespondError(c, http.StatusTooManyRequests, fmt.Errorf("too many auth attempts, try again later"))
		return
	}
	status, err := h.bridge.AuthStart(c.Request.Context(), phone)
	if err != nil {
		RespondError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *TelegramHandler) AuthVerify(c *gin.Context) {
	var body struct {
		Token    string `json:"token"`
		Code     string `json:"code"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Code == "" {
		RespondError(c, http.StatusBadRequest, fmt.Errorf("missing code"))
		return
	}
	status, err := h.bridge.AuthVerify(c.Request.Context(), body.Token, body.Code, body.Password)
	if err != nil {
		RespondError(c, http.StatusBadGateway, err)
		return
	}
	h.bridge.InvalidateStatus()
	c.JSON(http.StatusOK, status)
}

func (h *TelegramHandler) Disconnect(c *gin.Context) {
	status, err := h.bridge.Disconnect(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusBadGateway, err)
		return
	}
	h.bridge.InvalidateStatus()
	c.JSON(http.StatusOK, status)
}
