package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"

	"tradesignal/internal/models"
	"tradesignal/internal/repository"
)

type OrderHandler struct {
	Repo repository.Repository
}

func (h *OrderHandler) Register(r *gin.Engine) {
	o := r.Group("/api/v1/orders")
	o.GET("", h.list)
	o.GET("/:id", h.get)

	r.GET("/api/v1/signals/:id", h.signal)
}

// @Summary List orders
// @Tags orders
// @Param status query string false "order status"
// @Param action query string false "BUY or SELL"
// @Param instrument query string false "instrument symbol"
// @Param user_id query int false "owner user id"
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} map[string]any
// @Router /api/v1/orders [get]
func (h *OrderHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListOrdersParams{
		Limit:      limit,
		Offset:     offset,
		Status:     stringQueryPtr(c, "status"),
		Action:     stringQueryPtr(c, "action"),
		Instrument: stringQueryPtr(c, "instrument"),
		OrderBy:    "created_at",
		Asc:        boolPtr(false),
	}
	if id := parseUint64(c.Query("user_id")); id > 0 {
		params.UserID = &id
	}
	items, err := h.Repo.ListOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountOrders(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get an order with its history
// @Tags orders
// @Param id path int true "order id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/v1/orders/{id} [get]
func (h *OrderHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	item, err := h.Repo.GetOrderByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		Error(c, http.StatusNotFound, "order not found", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	history, err := h.Repo.ListOrderHistory(c.Request.Context(), item.ID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"order": item, "history": history}, nil)
}

type signalView struct {
	ID           uint64              `json:"id"`
	UserID       uint64              `json:"user_id"`
	AccountID    *uint64             `json:"account_id"`
	RawMessage   string              `json:"raw_message"`
	Status       models.SignalStatus `json:"status"`
	ErrorMessage *string             `json:"error_message"`
	Attempts     int                 `json:"attempts"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// @Summary Get a raw signal and its processing outcome
// @Tags signals
// @Param id path int true "signal id"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/v1/signals/{id} [get]
func (h *OrderHandler) signal(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	sig, err := h.Repo.GetRawSignalByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		Error(c, http.StatusNotFound, "signal not found", nil)
		return
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, signalView{
		ID:           sig.ID,
		UserID:       sig.UserID,
		AccountID:    sig.BrokerAccountID,
		RawMessage:   sig.RawMessage,
		Status:       sig.Status,
		ErrorMessage: sig.ErrorMessage,
		Attempts:     sig.Attempts,
		CreatedAt:    sig.CreatedAt,
		UpdatedAt:    sig.UpdatedAt,
	}, nil)
}
