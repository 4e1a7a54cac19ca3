package handler

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"tradesignal/internal/models"
	"tradesignal/internal/repository"
	"tradesignal/internal/service"
	"tradesignal/internal/taskq"
)

const maxSignalBytes = 16 << 10

type SignalWebhookHandler struct {
	Repo   repository.Repository
	Queue  taskq.Enqueuer
	Logger *zap.Logger
}

func (h *SignalWebhookHandler) Register(r *gin.Engine) {
	r.POST("/api/v1/signals/receive", h.receive)
}

// @Summary Receive a raw trading signal
// @Tags signals
// @Accept plain
// @Produce json
// @Param X-API-KEY header string true "broker account API key"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Failure 413 {object} map[string]any
// @Router /api/v1/signals/receive [post]
func (h *SignalWebhookHandler) receive(c *gin.Context) {
	if h.Repo == nil || h.Queue == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	ctx := c.Request.Context()

	key := c.GetHeader(apiKeyHeader)
	if strings.TrimSpace(key) == "" {
		Error(c, http.StatusBadRequest, "API key is missing", nil)
		return
	}
	account, err := authenticate(ctx, h.Repo, key)
	if errors.Is(err, errInvalidAPIKey) {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, "account lookup failed", nil)
		return
	}

	if c.ContentType() != "text/plain" {
		Error(c, http.StatusBadRequest, "content type must be text/plain", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxSignalBytes+1))
	if err != nil {
		Error(c, http.StatusBadRequest, "unreadable body", nil)
		return
	}
	if len(body) > maxSignalBytes {
		Error(c, http.StatusRequestEntityTooLarge, "signal too large", nil)
		return
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		Error(c, http.StatusBadRequest, "empty body", nil)
		return
	}

	accountID := account.ID
	sig := &models.RawSignal{
		UserID:          account.UserID,
		BrokerAccountID: &accountID,
		RawMessage:      text,
		Status:          models.SignalPending,
	}
	if err := h.Repo.InsertRawSignal(ctx, sig); err != nil {
		if h.Logger != nil {
			h.Logger.Error("store raw signal", zap.Uint64("account_id", account.ID), zap.Error(err))
		}
		Error(c, http.StatusInternalServerError, "failed to store signal", nil)
		return
	}
	if err := service.EnqueueSignal(ctx, h.Queue, sig.ID); err != nil && h.Logger != nil {
		// The signal stays pending; the stale-work sweeper enqueues it later.
		h.Logger.Warn("enqueue raw signal", zap.Uint64("signal_id", sig.ID), zap.Error(err))
	}
	OkMessage(c, "Signal received", gin.H{"signal_id": sig.ID}, nil)
}
