package handler

import (
	"errors"
	"net/http"
	"strings"

	"layered-signals/internal/domain"
	"layered-signals/internal/recorder"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type generateSignalRequest struct {
	Symbol    string `json:"symbol" binding:"required"`
	Timeframe string `json:"timeframe" binding:"required"`
}

// GenerateSignal godoc
// @Summary      Generate a signal on demand
// @Description  Runs the full ensemble for one instrument and persists the result
// @Tags         signals
// @Accept       json
// @Produce      json
// @Param        request  body  generateSignalRequest  true  "Instrument to evaluate"
// @Success      200  {object}  domain.Signal
// @Failure      400  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/signals/generate [post]
func (h *Handler) GenerateSignal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.generate-signal")
	defer span.End()

	var req generateSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	span.SetAttributes(attribute.String("symbol", symbol), attribute.String("timeframe", req.Timeframe))

	if !domain.IsSupportedSymbol(symbol) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported symbol: " + symbol,
			"supported_symbols": domain.SupportedSymbols,
		})
		return
	}
	if !domain.IsSupportedTimeframe(req.Timeframe) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":                "unsupported timeframe: " + req.Timeframe,
			"supported_timeframes": domain.SupportedTimeframes,
		})
		return
	}

	sig, err := h.signals.Generate(ctx, symbol, req.Timeframe)
	if err != nil {
		if errors.Is(err, recorder.ErrOutOfOrder) {
			c.JSON(http.StatusConflict, gin.H{"error": "a newer signal already exists for this instrument"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sig)
}

// LatestSignal godoc
// @Summary      Latest signal for an instrument
// @Tags         signals
// @Produce      json
// @Param        symbol     query  string  true  "Asset symbol (e.g., BTC)"
// @Param        timeframe  query  string  true  "Timeframe (1h, 4h, 1d)"
// @Success      200  {object}  domain.Signal
// @Failure      404  {object}  map[string]string
// @Router       /api/signals/latest [get]
func (h *Handler) LatestSignal(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.latest-signal")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	timeframe := strings.TrimSpace(c.Query("timeframe"))
	if !domain.IsSupportedSymbol(symbol) || !domain.IsSupportedTimeframe(timeframe) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe query parameters are required"})
		return
	}

	sig, err := h.signals.Latest(ctx, symbol, timeframe)
	if err != nil {
		if errors.Is(err, recorder.ErrSignalNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no signal for " + symbol + "/" + timeframe})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sig)
}

// ListSignals godoc
// @Summary      List signals
// @Tags         signals
// @Produce      json
// @Param        symbol     query  string  false  "Filter by symbol"
// @Param        timeframe  query  string  false  "Filter by timeframe"
// @Param        status     query  string  false  "Filter by status (open, closed, expired)"
// @Param        limit      query  int     false  "Max rows (default 50)"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/signals [get]
func (h *Handler) ListSignals(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-signals")
	defer span.End()

	filter := domain.SignalFilter{
		Symbol:    strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Timeframe: strings.TrimSpace(c.Query("timeframe")),
		Status:    domain.SignalStatus(strings.TrimSpace(c.Query("status"))),
		Limit:     intQuery(c, "limit", 50),
	}

	signals, err := h.signals.List(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}
