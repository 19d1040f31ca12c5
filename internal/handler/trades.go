package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"layered-signals/internal/domain"
	"layered-signals/internal/recorder"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type openTradeRequest struct {
	SignalID   int64   `json:"signal_id" binding:"required"`
	EntryPrice float64 `json:"entry_price" binding:"required"`
}

// OpenTrade godoc
// @Summary      Open a trade against a signal
// @Tags         trades
// @Accept       json
// @Produce      json
// @Param        request  body  openTradeRequest  true  "Signal and entry price"
// @Success      201  {object}  domain.Trade
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/trades [post]
func (h *Handler) OpenTrade(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.open-trade")
	defer span.End()

	var req openTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	span.SetAttributes(attribute.Int64("signal_id", req.SignalID))

	trade, err := h.trades.OpenTrade(ctx, req.SignalID, req.EntryPrice, time.Now())
	if err != nil {
		switch {
		case errors.Is(err, recorder.ErrSignalNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, recorder.ErrTradeExists), errors.Is(err, recorder.ErrSignalNotOpen):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, recorder.ErrNeutralSignal):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, trade)
}

type closeTradeRequest struct {
	ExitPrice float64 `json:"exit_price" binding:"required"`
	Reason    string  `json:"reason" binding:"required"`
}

// CloseTrade godoc
// @Summary      Close a trade and record its outcome
// @Description  Settles the trade and folds the outcome into layer performance atomically. Idempotent.
// @Tags         trades
// @Accept       json
// @Produce      json
// @Param        id       path  int                true  "Trade ID"
// @Param        request  body  closeTradeRequest  true  "Exit price and reason"
// @Success      200  {object}  domain.Trade
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/trades/{id}/close [post]
func (h *Handler) CloseTrade(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.close-trade")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	var req closeTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := domain.ExitReason(req.Reason)
	if !reason.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid exit reason: " + req.Reason})
		return
	}
	span.SetAttributes(attribute.Int64("trade_id", id))

	trade, err := h.trades.CloseTrade(ctx, id, req.ExitPrice, time.Now(), reason)
	if err != nil {
		if errors.Is(err, recorder.ErrTradeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trade)
}

// GetTrade godoc
// @Summary      Fetch a trade
// @Tags         trades
// @Produce      json
// @Param        id  path  int  true  "Trade ID"
// @Success      200  {object}  domain.Trade
// @Failure      404  {object}  map[string]string
// @Router       /api/trades/{id} [get]
func (h *Handler) GetTrade(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-trade")
	defer span.End()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trade id"})
		return
	}
	trade, err := h.trades.GetTrade(ctx, id)
	if err != nil {
		if errors.Is(err, recorder.ErrTradeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, trade)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
