package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"tradesignal/internal/broadcast"
	"tradesignal/internal/repository"
)

// GatewayHandler streams broadcast channels to websocket clients, forwarding
// each payload as one text frame.
type GatewayHandler struct {
	Repo           repository.Repository
	Subscriber     broadcast.Subscriber
	Logger         *zap.Logger
	OriginPatterns []string
	WriteTimeout   time.Duration
}

func (h *GatewayHandler) Register(r *gin.Engine) {
	ws := r.Group("/ws")
	ws.GET("/orders", h.orders)
	ws.GET("/signals/invalid", h.invalidSignals)
}

func (h *GatewayHandler) orders(c *gin.Context) {
	h.stream(c, broadcast.ChannelOrders)
}

func (h *GatewayHandler) invalidSignals(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	key := c.GetHeader(apiKeyHeader)
	if key == "" {
		key = c.Query("api_key")
	}
	account, err := authenticate(c.Request.Context(), h.Repo, key)
	if errors.Is(err, errInvalidAPIKey) {
		Error(c, http.StatusUnauthorized, err.Error(), nil)
		return
	}
	if err != nil {
		Error(c, http.StatusInternalServerError, "account lookup failed", nil)
		return
	}
	h.stream(c, broadcast.InvalidSignalChannel(account.ExternalID()))
}

func (h *GatewayHandler) stream(c *gin.Context, channel string) {
	if h.Subscriber == nil {
		Error(c, http.StatusServiceUnavailable, "broadcaster unavailable", nil)
		return
	}
	// The request context does not survive the hijack; the stream lives until
	// the peer closes or this handler returns.
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	// Subscribe before the upgrade so nothing published after the handshake is missed.
	events, stop, err := h.Subscriber.Subscribe(streamCtx, channel)
	if err != nil {
		Error(c, http.StatusServiceUnavailable, "subscribe failed", nil)
		return
	}
	defer stop()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{OriginPatterns: h.OriginPatterns})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket accept failed", zap.String("channel", channel), zap.Error(err))
		}
		return
	}
	defer conn.Close(websocket.StatusInternalError, "gateway closed")

	ctx := conn.CloseRead(streamCtx)
	timeout := h.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "subscription ended")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, timeout)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
